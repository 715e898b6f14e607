// pkg/problems/problems.go
package problems

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Kind classifies an error for HTTP mapping and retry decisions.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindTransient    Kind = "transient"
	KindPermanent    Kind = "permanent"
	KindInternal     Kind = "internal"
)

// Error carries a kind, a stable machine code, and a human message.
// Wrap with %w freely; Kind survives through errors.As.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a problem error. Code defaults to the kind when empty.
func New(kind Kind, code, message string) *Error {
	if code == "" {
		code = string(kind)
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, code, message string, err error) *Error {
	if code == "" {
		code = string(kind)
	}
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error { return New(KindValidation, "", message) }
func NotFound(message string) *Error   { return New(KindNotFound, "", message) }
func Conflict(message string) *Error   { return New(KindConflict, "", message) }

// Transient marks a failure worth retrying (timeouts, unavailability).
func Transient(message string, err error) *Error {
	return Wrap(KindTransient, "", message, err)
}

// Permanent marks a failure that retrying cannot fix (bad configuration,
// adapter-side rejection). The retry executor gives these a single attempt.
func Permanent(message string, err error) *Error {
	return Wrap(KindPermanent, "", message, err)
}

// KindOf extracts the Kind from err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsTransient reports whether err should be retried by the backoff executor.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://matchday.example/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://matchday.example/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

type errorBody struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON renders err as {"error":{...}} with the kind-mapped status.
// Unclassified errors become a generic 500 without leaking internals.
func WriteJSON(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	code := string(kind)
	message := http.StatusText(Status(kind))
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Code != "" {
			code = pe.Code
		}
		if kind != KindInternal {
			message = pe.Message
		}
	}
	WriteError(w, Status(kind), code, message)
}

// WriteError renders an explicit code+message error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": errorBody{Type: Type(strings.ReplaceAll(code, "_", "-")), Code: code, Message: message},
	})
}
