// Package errs defines the error kinds surfaced by the evaluation pipeline
// and the process exit codes the CLI maps them to.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConfiguration
	KindInvalidInput
	KindTransport
	KindStage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConfiguration:
		return "configuration"
	case KindInvalidInput:
		return "invalid_input"
	case KindTransport:
		return "transport"
	case KindStage:
		return "stage_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrStage         = &Error{Kind: KindStage}
)

// Error carries a Kind, the operation that failed and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an *Error of kind k.
func E(k Kind, op string, err error) error {
	return &Error{Kind: k, Op: op, Err: err}
}

// NotFound reports a missing benchmark source or output target.
func NotFound(op string, format string, args ...any) error {
	return E(KindNotFound, op, fmt.Errorf(format, args...))
}

// Configuration reports a missing endpoint, credential or client.
func Configuration(op string, format string, args ...any) error {
	return E(KindConfiguration, op, fmt.Errorf(format, args...))
}

// InvalidInput reports a structural problem with caller-supplied data.
func InvalidInput(op string, format string, args ...any) error {
	return E(KindInvalidInput, op, fmt.Errorf(format, args...))
}

// Transport reports a failed call to the model endpoint.
func Transport(op string, err error) error {
	return E(KindTransport, op, err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsStage wraps err as a stage failure unless it already carries a kind.
func AsStage(step string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return E(KindStage, step, err)
}
