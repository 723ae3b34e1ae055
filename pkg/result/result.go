// Package result provides a tagged Ok | Err | Pending value used where a
// stage may fail without aborting the surrounding request.
package result

import (
	"encoding/json"

	"github.com/medical-control-plane/backend/pkg/apperr"
)

type State int

const (
	StatePending State = iota
	StateOk
	StateErr
)

func (s State) String() string {
	switch s {
	case StateOk:
		return "ok"
	case StateErr:
		return "error"
	default:
		return "pending"
	}
}

type Result[T any] struct {
	state   State
	value   T
	kind    apperr.Kind
	message string
}

func Ok[T any](v T) Result[T] {
	return Result[T]{state: StateOk, value: v}
}

func Err[T any](kind apperr.Kind, message string) Result[T] {
	return Result[T]{state: StateErr, kind: kind, message: message}
}

// FromError builds an Err result, taking the kind from err when it carries one.
func FromError[T any](err error) Result[T] {
	return Err[T](apperr.KindOf(err), err.Error())
}

func Pending[T any]() Result[T] {
	return Result[T]{}
}

func (r Result[T]) State() State { return r.state }
func (r Result[T]) IsOk() bool { return r.state == StateOk }
func (r Result[T]) IsErr() bool { return r.state == StateErr }
func (r Result[T]) IsPending() bool { return r.state == StatePending }
func (r Result[T]) Kind() apperr.Kind { return r.kind }
func (r Result[T]) Message() string { return r.message }

func (r Result[T]) Value() (T, bool) {
	return r.value, r.state == StateOk
}

// ValueOr returns the Ok value or fallback for Err and Pending.
func (r Result[T]) ValueOr(fallback T) T {
	if r.state == StateOk {
		return r.value
	}
	return fallback
}

func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"status": r.state.String()}
	switch r.state {
	case StateOk:
		out["data"] = r.value
	case StateErr:
		out["kind"] = r.kind.String()
		out["message"] = r.message
	}
	return json.Marshal(out)
}
