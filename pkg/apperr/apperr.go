package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotConfigured
	KindUpstreamFailure
	KindToolExecutionFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotConfigured:
		return "not_configured"
	case KindUpstreamFailure:
		return "upstream_failure"
	case KindToolExecutionFailure:
		return "tool_execution_failure"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, apperr.NotConfigured) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	InvalidArgument      = &Error{Kind: KindInvalidArgument}
	NotConfigured        = &Error{Kind: KindNotConfigured}
	UpstreamFailure      = &Error{Kind: KindUpstreamFailure}
	ToolExecutionFailure = &Error{Kind: KindToolExecutionFailure}
)

func New(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err as kind. An error that already carries a kind keeps
// it, so NotConfigured survives being wrapped as an upstream failure.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if existing := KindOf(err); existing != KindUnknown {
		kind = existing
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
