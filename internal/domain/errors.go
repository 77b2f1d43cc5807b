package domain

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned by the circuit breaker when a dependency is
// gated off. The protected operation is not invoked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrorCode classifies processing failures
type ErrorCode string

const (
	ErrCodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"
	ErrCodeMissingToken     ErrorCode = "MISSING_TOKEN"
	ErrCodeInvalidToken     ErrorCode = "INVALID_TOKEN"
	ErrCodeTemplateFetch    ErrorCode = "TEMPLATE_FETCH"
	ErrCodeTemplateRender   ErrorCode = "TEMPLATE_RENDER"
	ErrCodePushFailed       ErrorCode = "PUSH_FAILED"
)

// ProcessError is a classified processing failure surfaced by the processor.
type ProcessError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

func NewProcessError(code ErrorCode, message string, err error) *ProcessError {
	return &ProcessError{Code: code, Message: message, Err: err}
}

// CodeOf returns the classification of err, or "UNKNOWN" for errors that did
// not originate in the processor.
func CodeOf(err error) ErrorCode {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrorCode("UNKNOWN")
}
