package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Kind classifies a decoded message.
type Kind string

const (
	KindRequest      Kind = "request"
	KindNotification Kind = "notification"
	KindResponse     Kind = "response"
)

// AnyMessage is a generic JSON-RPC message (request, notification, or response).
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message) }

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// NewNotification builds a notification with the given params.
func NewNotification(method string, params any) (*Request, error) {
	n := &Request{JSONRPCVersion: ProtocolVersion, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		n.Params = b
	}
	return n, nil
}

// ErrInvalidEnvelope is wrapped by every structural decoding failure.
var ErrInvalidEnvelope = errors.New("invalid JSON-RPC envelope")

// UnmarshalJSON enforces JSON-RPC 2.0 envelope rules. The ID is populated
// even when validation fails, so callers can still answer the request.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type raw AnyMessage
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	m.ID = r.ID

	if r.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("%w: expected version %q, got %q", ErrInvalidEnvelope, ProtocolVersion, r.JSONRPCVersion)
	}

	hasResult := len(r.Result) > 0
	hasError := r.Error != nil
	if r.Method != "" {
		if hasResult || hasError {
			return fmt.Errorf("%w: request cannot carry result or error", ErrInvalidEnvelope)
		}
	} else {
		if hasResult && hasError {
			return fmt.Errorf("%w: response cannot carry both result and error", ErrInvalidEnvelope)
		}
		if !hasResult && !hasError {
			return fmt.Errorf("%w: response needs result or error", ErrInvalidEnvelope)
		}
	}

	*m = AnyMessage(r)
	return nil
}

// Kind reports whether the message is a request, notification or response.
func (m *AnyMessage) Kind() Kind {
	if m.Method != "" {
		if m.ID.IsNil() {
			return KindNotification
		}
		return KindRequest
	}
	return KindResponse
}

// AsRequest returns the message as a Request, or nil for responses.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the message as a Response, or nil for requests.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}
