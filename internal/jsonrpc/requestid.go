package jsonrpc

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// RequestID is a JSON-RPC id: a string or a number.
type RequestID struct {
	value any // string, int64 or float64
}

// NewRequestID wraps a string or integer id. Other types, and unsigned
// values that do not fit in an int64, yield a nil id.
func NewRequestID(value any) *RequestID {
	switch v := value.(type) {
	case string:
		return &RequestID{value: v}
	case int:
		return &RequestID{value: int64(v)}
	case int64:
		return &RequestID{value: v}
	case uint64:
		if v > math.MaxInt64 {
			return &RequestID{}
		}
		return &RequestID{value: int64(v)}
	case float64:
		return &RequestID{value: v}
	default:
		return &RequestID{}
	}
}

// String returns the id in text form, "" for a nil id.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// Value returns the underlying value.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil reports whether the id is absent or null.
func (id *RequestID) IsNil() bool { return id == nil || id.value == nil }

func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		id.value = nil
	case string:
		id.value = v
	case float64:
		if v == float64(int64(v)) {
			id.value = int64(v)
		} else {
			id.value = v
		}
	default:
		return fmt.Errorf("JSON-RPC id must be a string or number, got: %s", data)
	}
	return nil
}
