package device

import (
	"errors"
	"fmt"
)

// Sentinel errors for the protocol layer. Every *Error matches exactly one
// of them with errors.Is.
var (
	ErrDiscovery    = errors.New("device discovery failed")
	ErrValidation   = errors.New("invalid command")
	ErrHealthCheck  = errors.New("device health check failed")
	ErrTransport    = errors.New("device transport failed")
	ErrNotConnected = errors.New("device not connected")
)

// Kind classifies a protocol error.
type Kind int

const (
	KindDiscovery Kind = iota + 1
	KindValidation
	KindHealthCheck
	KindTransport
	KindNotConnected
)

func (k Kind) sentinel() error {
	switch k {
	case KindDiscovery:
		return ErrDiscovery
	case KindValidation:
		return ErrValidation
	case KindHealthCheck:
		return ErrHealthCheck
	case KindNotConnected:
		return ErrNotConnected
	default:
		return ErrTransport
	}
}

// Error is the error type returned by Client.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind.sentinel(), e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// reclassify re-reports a lower-level failure under kind, keeping only its
// cause so the result carries a single sentinel.
func reclassify(kind Kind, op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Err == nil {
			err = errors.New(e.Error())
		} else {
			err = fmt.Errorf("%s: %w", e.Op, e.Err)
		}
	}
	return newError(kind, op, err)
}
