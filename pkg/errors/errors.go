package errors

import (
	"encoding/json"
	"fmt"
)

type AppError struct {
	Code    int    // HTTP status code or custom error code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

const (
	ErrInvalidToken       = 1001
	ErrUnknownItem        = 1002
	ErrInvalidAmount      = 1003
	ErrInvalidQuantity    = 1004
	ErrBidNotFound        = 1005
	ErrForbidden          = 1006
	ErrAuctionEnded       = 1007
	ErrInconsistent       = 1008
	ErrBadMessageFormat   = 1009
	ErrUnknownMessageType = 1010
	ErrRateLimited        = 1011

	ErrStorageUnavailable = 503
	ErrInternalServer     = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches two AppErrors by code, so callers can test against the
// taxonomy with errors.Is regardless of the wrapped cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ToJSON renders the error as a websocket/REST payload.
func (e *AppError) ToJSON() string {
	payload, err := json.Marshal(map[string]interface{}{
		"type":    "error",
		"code":    e.Code,
		"message": e.Message,
	})
	if err != nil {
		return `{"type": "error", "message": "internal server error"}`
	}
	return string(payload)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapCode attaches both a taxonomy code and an underlying cause.
func WrapCode(code int, err error, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Code extracts the taxonomy code from err, or 0 when err is not an
// AppError anywhere in its chain.
func Code(err error) int {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
