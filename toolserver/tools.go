package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*CallToolResult, error)

// ToolDescriptor is what tools/list advertises for a tool.
type ToolDescriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor ToolDescriptor
	Handler    ToolHandler
}

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a Tool from a typed args struct A. The input schema is
// reflected from A (json and jsonschema struct tags apply) and arguments are
// decoded into A before fn runs. Undecodable arguments produce an error
// result, not a protocol error.
func NewTool[A any](name string, fn func(ctx context.Context, args A) (*CallToolResult, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	handler := func(ctx context.Context, raw json.RawMessage) (*CallToolResult, error) {
		var a A
		if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(raw))
			if !cfg.allowAdditionalProperties {
				dec.DisallowUnknownFields()
			}
			if err := dec.Decode(&a); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		return fn(ctx, a)
	}

	return Tool{
		Descriptor: ToolDescriptor{
			Name:        name,
			Description: cfg.description,
			InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
		},
		Handler: handler,
	}
}

// reflectInputSchema reflects A into an inline object schema.
func reflectInputSchema[A any](allowAdditional bool) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return &jsonschema.Schema{Type: "object"}
	}
	s.Version = ""
	s.ID = ""
	return s
}

// TextResult returns a CallToolResult with a single text block.
func TextResult(s string) *CallToolResult {
	return &CallToolResult{Content: []ContentBlock{{Type: "text", Text: s}}}
}

// StructuredResult returns a result carrying v as structured content plus a
// text summary for hosts that only render text.
func StructuredResult(summary string, v any) *CallToolResult {
	return &CallToolResult{Content: []ContentBlock{{Type: "text", Text: summary}}, StructuredContent: v}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &CallToolResult{Content: []ContentBlock{{Type: "text", Text: msg}}, IsError: true}
}
