package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoCredentials is returned by Callbacks.APIKey implementations when no
// API key/secret is configured. The affected command aborts after logging;
// other commands are unaffected. Events rejected this way are NOT queued
// for later - with no upload sink configured, queuing would grow without
// bound.
var ErrNoCredentials = errors.New("pipeline: api key and/or api secret are missing")

// CommandError reports a command that failed without mutating the store.
//
// Command errors include:
//   - Not numeric: increment target holds a non-numeric value
//   - List attribute: increment target exists only as a list attribute
//
// Failures are local to the command; the worker logs and continues.
type CommandError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key identifies the affected attribute, if any.
	Key string

	// MpID identifies the affected user identity.
	MpID int64
}

// ErrorCode categorizes command errors.
type ErrorCode string

const (
	// ErrCodeNotNumeric indicates an increment on a non-numeric value.
	ErrCodeNotNumeric ErrorCode = "NOT_NUMERIC"

	// ErrCodeListAttribute indicates an increment on a list attribute.
	ErrCodeListAttribute ErrorCode = "LIST_ATTRIBUTE"
)

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s, mpid=%d)", e.Code, e.Message, e.Key, e.MpID)
	}
	return fmt.Sprintf("%s: %s (mpid=%d)", e.Code, e.Message, e.MpID)
}

// IsNotNumericError returns true if the error is a non-numeric increment
// failure. Uses errors.As to handle wrapped errors.
func IsNotNumericError(err error) bool {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeNotNumeric
	}
	return false
}

// IsListAttributeError returns true if the error is a list-typed increment
// failure. Uses errors.As to handle wrapped errors.
func IsListAttributeError(err error) bool {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeListAttribute
	}
	return false
}

// newNotNumericError creates a CommandError for a non-numeric increment target.
func newNotNumericError(key string, mpID int64) *CommandError {
	return &CommandError{
		Code:    ErrCodeNotNumeric,
		Message: "existing attribute is not a number and can't be incremented",
		Key:     key,
		MpID:    mpID,
	}
}

// newListAttributeError creates a CommandError for a list-typed increment target.
func newListAttributeError(key string, mpID int64) *CommandError {
	return &CommandError{
		Code:    ErrCodeListAttribute,
		Message: "existing attribute is a list, which can't be incremented",
		Key:     key,
		MpID:    mpID,
	}
}
