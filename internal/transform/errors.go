package transform

import (
	"errors"
	"fmt"
)

// Kind classifies why a stage run failed.
type Kind int

const (
	KindAborted Kind = iota + 1
	KindInput
	KindOutput
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindAborted:
		return "aborted"
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Error is returned by Run for every failure. Cleaning up partial output is the caller's job.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAborted:
		return "the conversion was cancelled"
	case KindInput:
		return fmt.Sprintf("opening/reading the input failed: %s", causeText(e.Err))
	case KindOutput:
		return fmt.Sprintf("opening/writing the output failed: %s", causeText(e.Err))
	case KindData:
		return "the conversion logic failed"
	default:
		return "conversion failed: " + causeText(e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the Kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

func causeText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

var (
	ErrAborted = &Error{Kind: KindAborted}
	ErrInput   = &Error{Kind: KindInput}
	ErrOutput  = &Error{Kind: KindOutput}
	ErrData    = &Error{Kind: KindData}
)

// KindOf returns the Kind of a stage error, or 0 when err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
