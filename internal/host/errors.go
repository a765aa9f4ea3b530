package host

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by strict lookups of absent named items.
	ErrNotFound = errors.New("item not found")
	// ErrDuplicateName is returned when adding a name that already exists in its scope.
	ErrDuplicateName = errors.New("name already exists")
	// ErrInvalidTarget is returned when a binding target cannot be resolved to a range.
	ErrInvalidTarget = errors.New("invalid binding target")
	// ErrUnknownWorksheet is returned for operations on worksheets that do not exist.
	ErrUnknownWorksheet = errors.New("unknown worksheet")
	// ErrUnknownBinding is returned for operations on bindings that do not exist.
	ErrUnknownBinding = errors.New("unknown binding")
	// ErrUnknownHandler is returned when removing a handler that is not registered.
	ErrUnknownHandler = errors.New("unknown handler")
	// ErrInvalidScalar is returned for values that cannot be stored in a named item.
	ErrInvalidScalar = errors.New("value is not a scalar")
)

// RequestError reports the request that made a batch fail.
type RequestError struct {
	Index int
	Op    Op
	Err   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
