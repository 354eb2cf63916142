package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrUnavailable indicates a dependency refused a write or read
	ErrUnavailable = errors.New("service unavailable")

	// ErrExternal indicates an external API returned an error
	ErrExternal = errors.New("external service error")
)

// Completion-gateway errors

var (
	// ErrServiceTransient indicates a retryable completion-service failure (5xx, timeout)
	ErrServiceTransient = errors.New("completion service transient failure")

	// ErrServiceFatal indicates a non-retryable completion-service failure (auth, bad request)
	ErrServiceFatal = errors.New("completion service fatal failure")
)

// Access and flow errors

var (
	// ErrAccessDenied indicates the free quota is exhausted and no subscription is active
	ErrAccessDenied = errors.New("access denied")

	// ErrUserBusy indicates the user already has a request in flight
	ErrUserBusy = errors.New("user request already in progress")

	// ErrInvalidPromoCode indicates an unknown promo code
	ErrInvalidPromoCode = errors.New("invalid promo code")

	// ErrProfileRequired indicates the user has no trading profile yet
	ErrProfileRequired = errors.New("trading profile required")

	// ErrInvalidSignature indicates a webhook signature mismatch
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}
