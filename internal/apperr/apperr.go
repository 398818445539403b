// Package apperr holds the error taxonomy shared by request building, review
// generation and chat.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// RequestFailedPrefix marks every error that crossed the model boundary.
const RequestFailedPrefix = "AI_REQUEST_FAILED"

// Kind classifies a failure for retry decisions and API mapping.
type Kind string

const (
	KindEmptyMatrix            Kind = "EMPTY_MATRIX"
	KindInvalidRequest         Kind = "INVALID_REQUEST"
	KindEmptyOrInvalidResponse Kind = "EMPTY_OR_INVALID_RESPONSE"
	KindTransient              Kind = "TRANSIENT"
	KindRequestFailed          Kind = "REQUEST_FAILED"
)

// ValidationError rejects caller input before any model call. Never retried.
type ValidationError struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: KindInvalidRequest, Field: field, Message: fmt.Sprintf(format, args...)}
}

// EmptyMatrix is returned when a review is requested without criteria.
func EmptyMatrix() *ValidationError {
	return &ValidationError{
		Kind:    KindEmptyMatrix,
		Field:   "scoring_matrix",
		Message: "at least one scoring criterion is required",
	}
}

// GenerationError is a failed review generation.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: [%s] the AI service could not produce a review. Raw error: %v", RequestFailedPrefix, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Retryable reports whether a bounded retry may recover the failure.
func (e *GenerationError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindEmptyOrInvalidResponse
}

// ChatError is a failed chat turn. The session stays usable.
type ChatError struct {
	Kind Kind
	Err  error
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("%s: The AI service was unable to process the chat request. The service may be busy or unavailable. Please wait a moment and try again. Raw error: %v", RequestFailedPrefix, e.Err)
}

func (e *ChatError) Unwrap() error { return e.Err }

// transientMarkers identify overload and availability failures in provider messages.
var transientMarkers = []string{
	"429",
	"rate limit",
	"500",
	"502",
	"503",
	"504",
	"service unavailable",
	"overloaded",
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
}

// Classify maps a model-boundary error onto a Kind by message content.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return KindTransient
		}
	}
	return KindRequestFailed
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
