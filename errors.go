// errors.go: Error codes and coded failure types for the DTO runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for DTO operations
const (
	ErrCodeMissingRequiredKey  = "DTO_MISSING_REQUIRED_KEY"
	ErrCodeValidationFailed    = "DTO_VALIDATION_FAILED"
	ErrCodeInvalidCast         = "DTO_INVALID_CAST"
	ErrCodeModelBindingFailed  = "DTO_MODEL_BINDING_FAILED"
	ErrCodeImmutableProperty   = "DTO_IMMUTABLE_PROPERTY"
	ErrCodeUndefinedProperty   = "DTO_UNDEFINED_PROPERTY"
	ErrCodeUndefinedCache      = "DTO_UNDEFINED_CACHE"
	ErrCodeUnknownEvent        = "DTO_UNKNOWN_EVENT"
	ErrCodeRequestFailed       = "DTO_REQUEST_FAILED"
	ErrCodeInvalidType         = "DTO_INVALID_TYPE"
	ErrCodeInvalidPayload      = "DTO_INVALID_PAYLOAD"
	ErrCodeDecryptFailed       = "DTO_DECRYPT_FAILED"
	ErrCodeNotBuilt            = "DTO_NOT_BUILT"
	ErrCodeInvalidConfig       = "DTO_INVALID_CONFIG"
	ErrCodeIOError             = "DTO_IO_ERROR"
	ErrCodeAuditBackendFailure = "DTO_AUDIT_BACKEND_FAILURE"
)

// CodeOf returns the DTO error code carried by err, or an empty string.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// Violation is a single failed validation rule.
type Violation struct {
	Field   string
	Rule    string
	Message string
}

// ValidationFailure is returned when input data does not satisfy the class rules.
// It carries the per-field messages so callers can render them.
type ValidationFailure struct {
	Class      string
	Violations []Violation
}

func (v *ValidationFailure) Error() string {
	parts := make([]string, 0, len(v.Violations))
	for _, violation := range v.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", violation.Field, violation.Message))
	}
	return fmt.Sprintf("validation failed for %s: %s", v.Class, strings.Join(parts, "; "))
}

// ErrorCode implements errors.ErrorCoder.
func (v *ValidationFailure) ErrorCode() errors.ErrorCode {
	return ErrCodeValidationFailed
}

// Messages groups violation messages by field.
func (v *ValidationFailure) Messages() map[string][]string {
	out := make(map[string][]string, len(v.Violations))
	for _, violation := range v.Violations {
		out[violation.Field] = append(out[violation.Field], violation.Message)
	}
	return out
}

// RequestFailure is returned when a remote fetch answers with status >= 400.
type RequestFailure struct {
	URL    string
	Status int
	Body   []byte
}

func (r *RequestFailure) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", r.URL, r.Status)
}

// ErrorCode implements errors.ErrorCoder.
func (r *RequestFailure) ErrorCode() errors.ErrorCode {
	return ErrCodeRequestFailed
}

func missingKeyError(class, key string, missed []string) error {
	msg := fmt.Sprintf("%s: missing required key %q", class, key)
	if len(missed) > 0 {
		msg += fmt.Sprintf(" (also tried %s)", strings.Join(missed, ", "))
	}
	return errors.New(ErrCodeMissingRequiredKey, msg).
		WithContext("class", class).
		WithContext("key", key).
		WithContext("missed", missed)
}

func invalidCastError(class, property, cast string, cause error) error {
	msg := fmt.Sprintf("%s: invalid cast %q for property %q", class, cast, property)
	if cause != nil {
		return errors.Wrap(cause, ErrCodeInvalidCast, msg).
			WithContext("class", class).
			WithContext("property", property).
			WithContext("cast", cast)
	}
	return errors.New(ErrCodeInvalidCast, msg).
		WithContext("class", class).
		WithContext("property", property).
		WithContext("cast", cast)
}

func undefinedPropertyError(class, name string) error {
	return errors.New(ErrCodeUndefinedProperty, fmt.Sprintf("%s: undefined property %q", class, name)).
		WithContext("class", class).
		WithContext("property", name)
}
