package persist

import (
	"errors"
	"fmt"
)

var (
	ErrRejected = errors.New("persist: provider rejected snapshot")
	ErrDisabled = errors.New("persist: store disabled")
)

// InvalidateError reports a generation bump that did not happen. Saved copies
// of the record may still be considered current.
type InvalidateError struct {
	Key string
	Err error
}

func (e *InvalidateError) Error() string {
	return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.Err)
}

func (e *InvalidateError) Unwrap() error { return e.Err }
