package toolserver

import (
	"errors"
	"fmt"
)

// ErrNotServing is returned by Notify outside of Serve.
var ErrNotServing = errors.New("server is not serving a transport")

// NotFoundError indicates a requested tool doesn't exist. It is reported to
// the host as a JSON-RPC "Invalid params" error.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// InvalidParamsError indicates that request parameters could not be decoded.
// It is reported as a JSON-RPC "Invalid params" error.
type InvalidParamsError struct {
	Method string
	Err    error
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %v", e.Method, e.Err)
}

func (e *InvalidParamsError) Unwrap() error { return e.Err }
