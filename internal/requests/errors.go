package requests

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("requests: not found")
	ErrForbidden           = errors.New("requests: forbidden")
	ErrValidation          = errors.New("requests: validation failed")
	ErrActiveRequestExists = errors.New("requests: active request exists for this provider")
	ErrSlotUnavailable     = errors.New("requests: slot no longer available")
	ErrInvalidTransition   = errors.New("requests: invalid transition")
	ErrConflict            = errors.New("requests: request changed, refresh and retry")
	ErrPaymentIncomplete   = errors.New("requests: payment incomplete")
	ErrOfflineNotAllowed   = errors.New("requests: offline remainder not allowed")
	ErrRateLimited         = errors.New("requests: too many requests")
)

// Stable codes returned to clients.
const (
	CodeActiveRequestExists = "active_request_exists"
	CodeSlotUnavailable     = "slot_unavailable"
	CodeInvalidTransition   = "invalid_transition"
	CodeStaleRequest        = "stale_request"
	CodePaymentIncomplete   = "payment_incomplete"
	CodeOfflineNotAllowed   = "offline_remainder_not_allowed"
	CodeRateLimited         = "rate_limited"
	CodeValidation          = "validation"
	CodeForbidden           = "forbidden"
	CodeNotFound            = "not_found"
)

// CodedError attaches a stable code and a message naming the violated rule.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *CodedError) Unwrap() error { return e.Err }

var errorCodes = map[error]string{
	ErrActiveRequestExists: CodeActiveRequestExists,
	ErrSlotUnavailable:     CodeSlotUnavailable,
	ErrInvalidTransition:   CodeInvalidTransition,
	ErrConflict:            CodeStaleRequest,
	ErrPaymentIncomplete:   CodePaymentIncomplete,
	ErrOfflineNotAllowed:   CodeOfflineNotAllowed,
	ErrRateLimited:         CodeRateLimited,
	ErrValidation:          CodeValidation,
	ErrForbidden:           CodeForbidden,
	ErrNotFound:            CodeNotFound,
}

func coded(err error, format string, args ...any) error {
	return &CodedError{Code: errorCodes[err], Message: fmt.Sprintf(format, args...), Err: err}
}

// Code returns the client code for err, or "" when it carries none.
func Code(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}
