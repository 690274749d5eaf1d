package jsonrpc

import "strconv"

// ErrorCode is a JSON-RPC 2.0 error code. Only the reserved codes the
// server emits are named.
type ErrorCode int

const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = -32603
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeParseError:
		return "parse error"
	case ErrorCodeInvalidRequest:
		return "invalid request"
	case ErrorCodeMethodNotFound:
		return "method not found"
	case ErrorCodeInvalidParams:
		return "invalid params"
	case ErrorCodeInternalError:
		return "internal error"
	}
	return strconv.Itoa(int(c))
}
