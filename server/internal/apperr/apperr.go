// Package apperr defines the coordinator's typed error kinds and the
// sentinel values handlers and the aggregator check with errors.Is, plus
// the mapping from each kind to an HTTP status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories from the coordinator's error model.
type Kind string

const (
	KindBadRequest  Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindUnknownAgent Kind = "unknown_agent"
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation_failure"
	KindIO          Kind = "io_failure"
	KindUpstream    Kind = "upstream_failure"
	KindTimeout     Kind = "timeout"
	KindConflict    Kind = "conflict"
	KindInternal    Kind = "internal"
)

// Sentinel errors. Wrap these with fmt.Errorf("...: %w", Err...) for
// context and unwrap with errors.Is at the call site.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnknownAgent = errors.New("unknown agent")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failure")
	ErrIO           = errors.New("io failure")
	ErrUpstream     = errors.New("upstream failure")
	ErrTimeout      = errors.New("timeout")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

var kindOf = map[error]Kind{
	ErrBadRequest:   KindBadRequest,
	ErrUnauthorized: KindUnauthorized,
	ErrUnknownAgent: KindUnknownAgent,
	ErrNotFound:     KindNotFound,
	ErrValidation:   KindValidation,
	ErrIO:           KindIO,
	ErrUpstream:     KindUpstream,
	ErrTimeout:      KindTimeout,
	ErrConflict:     KindConflict,
	ErrInternal:     KindInternal,
}

var statusOf = map[Kind]int{
	KindBadRequest:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindUnknownAgent: http.StatusUnauthorized,
	KindNotFound:     http.StatusNotFound,
	KindValidation:   http.StatusUnprocessableEntity,
	KindIO:           http.StatusInternalServerError,
	KindUpstream:     http.StatusBadGateway,
	KindTimeout:      http.StatusGatewayTimeout,
	KindConflict:     http.StatusConflict,
	KindInternal:     http.StatusInternalServerError,
}

// Wrap annotates a sentinel with a message: Wrap(ErrNotFound, "target %d", id).
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// StatusCode returns the HTTP status that should be written for err. Errors
// that don't match a known sentinel map to 500.
func StatusCode(err error) int {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return statusOf[kind]
		}
	}
	return http.StatusInternalServerError
}

// KindOf returns the Kind of err, or KindInternal if it matches no sentinel.
func KindOf(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}
