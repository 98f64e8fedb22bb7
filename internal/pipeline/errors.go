package pipeline

import (
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-lamper/internal/device"
)

// ErrAborted means the operator declined to retry.
var ErrAborted = errors.New("aborted by operator")

// Kind classifies a pipeline error.
type Kind int

const (
	KindCapture Kind = iota + 1
	KindQueue
	KindDiscovery
	KindValidation
	KindHealthCheck
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindCapture:
		return "capture"
	case KindQueue:
		return "queue"
	case KindDiscovery:
		return "discovery"
	case KindValidation:
		return "validation"
	case KindHealthCheck:
		return "health check"
	case KindAborted:
		return "aborted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by Orchestrator.Run.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error ends the program without a retry prompt.
func (e *Error) Fatal() bool {
	return e.Kind == KindCapture || e.Kind == KindQueue
}

// IsFatal reports whether err is a fatal pipeline error.
func IsFatal(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Fatal()
}

func captureError(err error) *Error {
	return &Error{Kind: KindCapture, Err: err}
}

func queueError(name string, err error) *Error {
	return &Error{Kind: KindQueue, Err: fmt.Errorf("%s queue: %w", name, err)}
}

func abortedError(cause error) *Error {
	return &Error{Kind: KindAborted, Err: fmt.Errorf("%w: %w", ErrAborted, cause)}
}

// deviceError maps a protocol error onto a pipeline kind.
func deviceError(err error) *Error {
	switch {
	case errors.Is(err, device.ErrValidation):
		return &Error{Kind: KindValidation, Err: err}
	case errors.Is(err, device.ErrHealthCheck):
		return &Error{Kind: KindHealthCheck, Err: err}
	default:
		return &Error{Kind: KindDiscovery, Err: err}
	}
}
