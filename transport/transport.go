// Package transport defines the synchronous RPC boundary the tcms object model
// talks to. A Transport issues one named remote procedure and returns the
// decoded result: a map for a single object, a slice for lists, or a scalar.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transport is a synchronous remote procedure caller.
// Results are plain JSON-shaped values: map[string]any, []any, string,
// float64/int, bool or nil. Remote failures are returned as *Fault.
type Transport interface {
	Call(ctx context.Context, method string, params ...any) (any, error)
}

// Func adapts a plain function to Transport.
type Func func(ctx context.Context, method string, params ...any) (any, error)

func (f Func) Call(ctx context.Context, method string, params ...any) (any, error) {
	return f(ctx, method, params...)
}

// Fault is the single error type the remote side reports. It carries only a
// message; there is no structured code channel.
type Fault struct {
	Method  string
	Message string
}

func (f *Fault) Error() string {
	if f.Method == "" {
		return "rpc fault: " + f.Message
	}
	return fmt.Sprintf("rpc fault in %s: %s", f.Method, f.Message)
}

// duplicateMarkers are the substrings the service uses when a unique
// constraint rejects an insert.
var duplicateMarkers = []string{
	"duplicate entry",
	"duplicate key",
	"unique constraint",
	"already exists",
}

// IsDuplicate reports whether err is a fault caused by inserting a row that
// already exists.
func IsDuplicate(err error) bool {
	var f *Fault
	if !errors.As(err, &f) {
		return false
	}
	msg := strings.ToLower(f.Message)
	for _, m := range duplicateMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
