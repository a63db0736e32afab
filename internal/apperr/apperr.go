// Package apperr defines the error taxonomy surfaced to callers. Service
// code wraps these sentinels with context; transport layers map them to
// HTTP statuses or websocket error payloads with errors.Is. Anything not in
// the taxonomy is an internal failure and surfaces as a generic 500 — never
// as a half-described domain error.
package apperr

import "errors"

var (
	// ErrInvalidRequest: missing or malformed input (empty message body,
	// unsupported status value, empty change set).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized: no valid session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden: the policy evaluator said no.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound: chat, district, user, task or file absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a state precondition failed, e.g. claiming a chat that
	// another worker already claimed.
	ErrConflict = errors.New("conflict")
)
