// Package simerr defines the reason codes and typed errors surfaced by the
// nowcast engine.
//
// Every failure carries a machine-readable Code so batch callers can record a
// per-fire status without inspecting error strings. Errors compare by code:
//
//	errors.Is(err, simerr.ErrEmptySeeds)
package simerr

import (
	"context"
	"errors"
)

type Code string

const (
	// Input layer.
	CodeInputValidation Code = "E_INPUT_VALIDATION"
	CodeEmptySeeds      Code = "E_EMPTY_SEEDS"
	CodeConfig          Code = "E_CONFIG"

	// Ensemble execution.
	CodeMemberFailure    Code = "E_MEMBER_FAILURE"
	CodeFailureThreshold Code = "E_FAILURE_THRESHOLD"
	CodeCancelled        Code = "E_CANCELLED"

	// Post-processing.
	CodeCalibrationUnavailable Code = "E_CALIBRATION_UNAVAILABLE"
	CodeDeterminismViolation   Code = "E_DETERMINISM_VIOLATION"

	CodeInternal Code = "E_INTERNAL"
)

var knownCodes = map[Code]struct{}{
	CodeInputValidation:        {},
	CodeEmptySeeds:             {},
	CodeConfig:                 {},
	CodeMemberFailure:          {},
	CodeFailureThreshold:       {},
	CodeCancelled:              {},
	CodeCalibrationUnavailable: {},
	CodeDeterminismViolation:   {},
	CodeInternal:               {},
}

func IsKnownCode(code Code) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is the engine's coded error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks.
var (
	ErrInputValidation        = New(CodeInputValidation, "input validation failed")
	ErrEmptySeeds             = New(CodeEmptySeeds, "no valid seeds")
	ErrConfig                 = New(CodeConfig, "invalid configuration")
	ErrMemberFailure          = New(CodeMemberFailure, "ensemble member failed")
	ErrFailureThreshold       = New(CodeFailureThreshold, "member failure rate above threshold")
	ErrCancelled              = New(CodeCancelled, "run cancelled")
	ErrCalibrationUnavailable = New(CodeCalibrationUnavailable, "calibration model unavailable")
	ErrDeterminismViolation   = New(CodeDeterminismViolation, "determinism violation")
)

// CodeOf returns the reason code carried by err, or CodeInternal for
// uncoded errors. Context cancellation maps to CodeCancelled.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeInternal
}
