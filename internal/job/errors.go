package job

import (
	"errors"
	"fmt"
)

// Lifecycle violations. StateError wraps the ones that name the previous status,
// so callers match with errors.Is(err, ErrAlreadyStarted) and friends.
var (
	ErrAlreadyPrepared = errors.New("job can be prepared only once")
	ErrNotPrepared     = errors.New("job can't be started because it's not prepared")
	ErrStillPreparing  = errors.New("job can't be started while it's preparing")
	ErrAlreadyStarted  = errors.New("job can be started only once")
	ErrNotOngoing      = errors.New("job can't be aborted unless ongoing")
	ErrCantExport      = errors.New("job can't be exported")
	ErrTerminal        = errors.New("job already ended")
)

// StateError is a wrong-state operation attempt.
type StateError struct {
	Op       string
	Previous Status
	Err      error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v (status: %s)", e.Op, e.Err, e.Previous.State)
}

func (e *StateError) Unwrap() error { return e.Err }

// ConversionError wraps a failure reported by the transform stage.
type ConversionError struct {
	Cause error
}

func (e *ConversionError) Error() string { return "conversion error: " + e.Cause.Error() }
func (e *ConversionError) Unwrap() error { return e.Cause }

// InternalError wraps infrastructure failures (working area setup, I/O outside the stage).
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string { return "something went wrong: " + e.Cause.Error() }
func (e *InternalError) Unwrap() error { return e.Cause }

// UnexpectedError reports a broken post-condition such as missing output after completion.
type UnexpectedError struct {
	Message string
	Cause   error
}

func (e *UnexpectedError) Error() string { return "unexpected error: " + e.Message }
func (e *UnexpectedError) Unwrap() error { return e.Cause }
