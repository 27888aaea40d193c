package call

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a call failure for the surrounding UI.
type Code string

const (
	CodeQuotaExceeded   Code = "quota_exceeded"
	CodeRateLimited     Code = "rate_limited"
	CodeMicDenied       Code = "mic_denied"
	CodeMicError        Code = "mic_error"
	CodeConnectionError Code = "connection_error"
	CodeSessionError    Code = "session_error"
)

// Retryable reports whether a new call attempt may succeed. Quota exhaustion
// is the only non-retryable class; unknown passthrough codes stay retryable.
func (c Code) Retryable() bool {
	return c != CodeQuotaExceeded
}

// CallError is a classified terminal call failure.
type CallError struct {
	Code    Code
	Message string
	Err     error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// ErrPermissionDenied marks a capture-device permission failure from the
// media capability. Wrap it so setup failures classify as mic_denied.
var ErrPermissionDenied = errors.New("permission denied")

func classifyNegotiate(err error) *CallError {
	if errors.Is(err, ErrPermissionDenied) {
		return &CallError{Code: CodeMicDenied, Message: "microphone permission denied", Err: err}
	}
	return &CallError{Code: CodeMicError, Message: "media setup failed", Err: err}
}

// ClassifySignalCode maps a raw signaling error code onto the surfaced
// taxonomy. Unknown codes pass through unchanged.
func ClassifySignalCode(raw string) Code {
	switch strings.TrimSpace(raw) {
	case "quota_exceeded", "insufficient_quota", "billing_hard_limit_reached":
		return CodeQuotaExceeded
	case "rate_limited", "rate_limit_exceeded":
		return CodeRateLimited
	case "session_expired", "invalid_session", "session_not_found":
		return CodeSessionError
	case "connection_error":
		return CodeConnectionError
	default:
		return Code(raw)
	}
}

// benignSignalCodes are expected noise from the deferred-execution design:
// cancelling a response that already finished, truncating an item whose audio
// was fully consumed, or double-requesting a response.
var benignSignalCodes = map[string]struct{}{
	"response_cancel_not_active":   {},
	"cancellation_failed":          {},
	"item_already_finished":        {},
	"item_truncate_already_played": {},
	"duplicate_response":           {},
	"conversation_already_has_active_response": {},
}

func isBenignSignalCode(raw string) bool {
	_, ok := benignSignalCodes[strings.TrimSpace(raw)]
	return ok
}

// fatalSignalCodes end the call immediately when received mid-session.
var fatalSignalCodes = map[string]struct{}{
	"quota_exceeded":             {},
	"insufficient_quota":         {},
	"billing_hard_limit_reached": {},
	"session_expired":            {},
	"invalid_session":            {},
}

func isFatalSignalCode(raw string) bool {
	_, ok := fatalSignalCodes[strings.TrimSpace(raw)]
	return ok
}
