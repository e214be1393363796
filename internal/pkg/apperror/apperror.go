// Package apperror carries the error taxonomy shared by the subscription
// store, the billing reconciler and the HTTP layer. Callers decide retry and
// status codes from the Kind only.
package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies an error for retry and response decisions.
type Kind string

const (
	KindInvalid        Kind = "invalid"
	KindNotFound       Kind = "not_found"
	KindUnavailable    Kind = "unavailable"
	KindUnknownOutcome Kind = "unknown_outcome"
	KindUnverified     Kind = "unverified"
	KindMalformed      Kind = "malformed"
	KindUpstream       Kind = "upstream"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Error is a structured error with the failing operation and context fields.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Fields map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error. kv is an alternating list of field names and values.
func New(kind Kind, op string, err error, kv ...any) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if len(kv) > 0 {
		e.Fields = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				key = fmt.Sprint(kv[i])
			}
			e.Fields[key] = kv[i+1]
		}
	}
	return e
}

// Invalid reports a caller error that must not be retried.
func Invalid(op, msg string, kv ...any) *Error {
	return New(KindInvalid, op, errors.New(msg), kv...)
}

// Storage maps a storage failure to a transient error. A deadline hit while a
// mutation was in flight becomes KindUnknownOutcome when mutating is true.
func Storage(op string, err error, mutating bool, kv ...any) *Error {
	if mutating && errors.Is(err, context.DeadlineExceeded) {
		return New(KindUnknownOutcome, op, err, kv...)
	}
	return New(KindUnavailable, op, err, kv...)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the failure is transient and the caller (or the
// payment processor) should try again. Unclassified errors are retryable so
// they are never silently acknowledged.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindUnknownOutcome, KindUpstream, KindConflict, KindInternal:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the status code of a JSON API response.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindInvalid:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindUnverified, KindMalformed:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}
