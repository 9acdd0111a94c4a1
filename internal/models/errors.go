package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrNetworkUnavailable
	ErrTLS
	ErrVerification
	ErrMalformedData
	ErrIO
	ErrInstaller
	ErrInvalidConfig
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrNetworkUnavailable:
		return "NetworkUnavailable"
	case ErrTLS:
		return "TlsFailure"
	case ErrVerification:
		return "VerificationFailure"
	case ErrMalformedData:
		return "MalformedData"
	case ErrIO:
		return "IoFailure"
	case ErrInstaller:
		return "InstallerError"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// Causes wrapped by AppError. Callers match them with errors.Is.
var (
	ErrDowngrade        = errors.New("downgrade is not allowed")
	ErrSignatureInvalid = errors.New("signature verification failed")
	ErrHashMismatch     = errors.New("hash did not match")
	ErrMissingFile      = errors.New("file does not exist")
	ErrCountMismatch    = errors.New("package and hash count mismatch")
	ErrMissingTimestamp = errors.New("catalog timestamp not found")
	ErrUserDeclined     = errors.New("installation declined by user")
	ErrBusy             = errors.New("operation already in progress")
	ErrUnknownPackage   = errors.New("package is not tracked")
)

// AppError represents a categorized error raised by a pipeline
type AppError struct {
	Type    ErrorType
	Package string
	Err     error
}

// NewError wraps err with a category and an optional package id
func NewError(t ErrorType, pkg string, err error) *AppError {
	return &AppError{Type: t, Package: pkg, Err: err}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Package, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// TypeOf returns the category of err, or ErrUnknown when err carries none
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrUnknown
}

// IsVerification reports whether err is a signature, hash or downgrade failure
func IsVerification(err error) bool {
	return TypeOf(err) == ErrVerification
}

// Detail returns the innermost technical message of err
func Detail(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
