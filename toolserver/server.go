package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/ggoodman/toolpipe/internal/jsonrpc"
	"github.com/ggoodman/toolpipe/internal/logctx"
	"github.com/ggoodman/toolpipe/transcript"
	"github.com/ggoodman/toolpipe/transport"
	"github.com/google/uuid"
)

// Server answers JSON-RPC tool requests arriving on a transport. Requests
// are handled one at a time in arrival order, so responses leave in the same
// order requests came in.
type Server struct {
	info         Implementation
	instructions string
	l            *slog.Logger
	rec          transcript.Recorder
	sessionID    string

	tools     map[string]Tool
	toolOrder []string

	mu sync.Mutex // guards t
	t  transport.Transport
}

// New constructs a Server with defaults and applies options.
func New(opts ...Option) *Server {
	s := &Server{
		info:      Implementation{Name: "toolpipe", Version: "dev"},
		l:         slog.Default(),
		rec:       transcript.Discard,
		sessionID: uuid.NewString(),
		tools:     make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) addTool(t Tool) {
	name := t.Descriptor.Name
	if _, exists := s.tools[name]; !exists {
		s.toolOrder = append(s.toolOrder, name)
	}
	s.tools[name] = t
}

// SessionID identifies this server's session in logs and transcripts.
func (s *Server) SessionID() string { return s.sessionID }

// Serve starts t and answers requests until the input ends, ctx is canceled
// or the transport fails. The end of input is a clean shutdown and yields a
// nil error. t is closed before Serve returns. Serve is safe to call at most
// once per Server.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	if err := t.Start(); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer t.Close()

	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.t = nil
		s.mu.Unlock()
	}()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: s.sessionID})
	s.l.InfoContext(ctx, "session.start", slog.Int("tools", len(s.toolOrder)))

	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrStdinClosed):
				s.l.InfoContext(ctx, "session.end")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return fmt.Errorf("receive: %w", err)
			}
		}
		s.record(ctx, transcript.Inbound, msg)

		resp := s.handleMessage(ctx, msg)
		if resp == nil {
			continue
		}
		if err := s.send(ctx, t, resp); err != nil {
			if errors.Is(err, transport.ErrNotStarted) {
				// Input ended while the request was in flight; the next
				// Receive reports the end of the session.
				s.l.WarnContext(ctx, "response.dropped", slog.String("id", resp.ID.String()))
				continue
			}
			return fmt.Errorf("send: %w", err)
		}
	}
}

// Notify sends a notification to the host of the running session.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	s.mu.Lock()
	t := s.t
	s.mu.Unlock()
	if t == nil {
		return ErrNotServing
	}
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.send(ctx, t, n)
}

// Log sends a notifications/message to the host.
func (s *Server) Log(ctx context.Context, level, logger string, data any) error {
	return s.Notify(ctx, MethodLoggingMessage, LoggingMessage{Level: level, Logger: logger, Data: data})
}

func (s *Server) send(ctx context.Context, t transport.Transport, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.Send(ctx, json.RawMessage(b)); err != nil {
		return err
	}
	s.record(ctx, transcript.Outbound, b)
	return nil
}

func (s *Server) record(ctx context.Context, dir transcript.Direction, data []byte) {
	e := transcript.Entry{SessionID: s.sessionID, Direction: dir, At: time.Now(), Data: data}
	if err := s.rec.Record(ctx, e); err != nil {
		s.l.DebugContext(ctx, "transcript.record.failed", slog.String("err", err.Error()))
	}
}

// handleMessage returns the response to send, or nil when none is due.
func (s *Server) handleMessage(ctx context.Context, msg transport.Message) *jsonrpc.Response {
	var m jsonrpc.AnyMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		s.l.DebugContext(ctx, "rpc.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(m.ID, jsonrpc.ErrorCodeInvalidRequest, jsonrpc.ErrorCodeInvalidRequest.String(), err.Error())
	}

	switch m.Kind() {
	case jsonrpc.KindResponse:
		// The server issues no requests of its own.
		s.l.DebugContext(ctx, "rpc.response.ignored", slog.String("id", m.ID.String()))
		return nil
	case jsonrpc.KindNotification:
		s.handleNotification(ctx, m.AsRequest())
		return nil
	}

	req := m.AsRequest()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: string(jsonrpc.KindRequest)})

	start := time.Now()
	result, err := s.dispatch(ctx, req)
	if err != nil {
		s.l.InfoContext(ctx, "rpc.error", slog.String("err", err.Error()), slog.Duration("took", time.Since(start)))
		return errorResponse(req.ID, err)
	}
	s.l.DebugContext(ctx, "rpc.ok", slog.Duration("took", time.Since(start)))

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
	return resp
}

var errMethodNotFound = errors.New("method not found")

func errorResponse(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	var nf *NotFoundError
	var ip *InvalidParamsError
	switch {
	case errors.Is(err, errMethodNotFound):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeMethodNotFound, err.Error(), nil)
	case errors.As(err, &nf), errors.As(err, &ip):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
	default:
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
}

func (s *Server) handleNotification(ctx context.Context, n *jsonrpc.Request) {
	switch n.Method {
	case MethodInitialized:
		s.l.DebugContext(ctx, "session.initialized")
	case MethodCancelled:
		// Requests run to completion before the next message is read, so
		// there is never anything in flight to cancel.
	default:
		s.l.DebugContext(ctx, "rpc.notification.ignored", slog.String("method", n.Method))
	}
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch req.Method {
	case MethodInitialize:
		return s.initialize(ctx, req.Params)
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return s.listTools(), nil
	case MethodToolsCall:
		return s.callTool(ctx, req.Params)
	default:
		return nil, fmt.Errorf("%w: %s", errMethodNotFound, req.Method)
	}
}

func (s *Server) initialize(ctx context.Context, params json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &InvalidParamsError{Method: MethodInitialize, Err: err}
		}
	}

	if sd, ok := logctx.SessionDataFrom(ctx); ok {
		sd.ClientName = p.ClientInfo.Name
	}

	version := LatestProtocolVersion
	if slices.Contains(supportedProtocolVersions, p.ProtocolVersion) {
		version = p.ProtocolVersion
	}
	s.l.InfoContext(ctx, "session.initialize",
		slog.String("client", p.ClientInfo.Name),
		slog.String("client_version", p.ClientInfo.Version),
		slog.String("protocol_version", version),
	)

	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools:   &ToolsCapability{},
			Logging: &LoggingCapability{},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) listTools() *ListToolsResult {
	out := make([]ToolDescriptor, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		out = append(out, s.tools[name].Descriptor)
	}
	return &ListToolsResult{Tools: out}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (res *CallToolResult, err error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &InvalidParamsError{Method: MethodToolsCall, Err: err}
	}
	tool, ok := s.tools[p.Name]
	if !ok {
		return nil, &NotFoundError{Name: p.Name}
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: p.Name})
	defer func() {
		if r := recover(); r != nil {
			s.l.ErrorContext(ctx, "tool.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			res, err = nil, fmt.Errorf("tool %s panicked: %v", p.Name, r)
		}
	}()

	res, err = tool.Handler(ctx, p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", p.Name, err)
	}
	if res == nil {
		res = &CallToolResult{Content: []ContentBlock{}}
	}
	return res, nil
}
