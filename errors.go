package tcms

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tcms/transport"
)

var (
	ErrNotFound         = errors.New("tcms: not found")
	ErrMultipleMatches  = errors.New("tcms: lookup matched more than one object")
	ErrAmbiguousInit    = errors.New("tcms: ambiguous initialization")
	ErrInvalidOperation = errors.New("tcms: invalid operation")
	ErrNotPersistent    = errors.New("tcms: cache level is not persistent")
	ErrNoTransport      = errors.New("tcms: transport is required")
)

// ServerFault is the transport's fault type. Faults propagate unchanged.
type ServerFault = transport.Fault

// NotFoundError: a lookup by id or unique natural key returned nothing.
type NotFoundError struct {
	Class string
	Key   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tcms: %s %s not found", e.Class, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AmbiguousMatchError: a lookup expected to match one object matched several.
type AmbiguousMatchError struct {
	Class string
	Key   string
	Count int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("tcms: %s %s matched %d objects", e.Class, e.Key, e.Count)
}

func (e *AmbiguousMatchError) Is(target error) bool { return target == ErrMultipleMatches }

// AmbiguousInitializationError: a constructor got neither a key to look up
// nor enough data to create a new remote object.
type AmbiguousInitializationError struct {
	Class  string
	Reason string
}

func (e *AmbiguousInitializationError) Error() string {
	return fmt.Sprintf("tcms: cannot initialize %s: %s", e.Class, e.Reason)
}

func (e *AmbiguousInitializationError) Is(target error) bool { return target == ErrAmbiguousInit }

// InvalidOperationError is returned by containers that are views over a
// relationship written through somewhere else.
type InvalidOperationError struct {
	Container string
	Op        string
	Use       string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("tcms: %s on %s is not supported, use %s instead", e.Op, e.Container, e.Use)
}

func (e *InvalidOperationError) Is(target error) bool { return target == ErrInvalidOperation }
