package screening

import "errors"

// Stable error codes carried across the public boundary so callers can map
// failures without string matching.
const (
	CodeInvalidContact   = "invalid_contact"
	CodeGenerationFailed = "generation_failed"
	CodeLeadNotFound     = "lead_not_found"
	CodeRegionMissing    = "region_missing"
	CodePersistence      = "persistence"
)

// Error is the structured failure returned by the engine.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrorCode extracts the screening error code from err, or "" when err is
// not a screening failure.
func ErrorCode(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given screening error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
