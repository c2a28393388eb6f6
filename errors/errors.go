// Package errors provides standardized error handling for hwstreams
// components. It includes error classification, standard error variables,
// and helper functions for consistent error wrapping across the system.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/hwstreams/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Wire protocol errors. These signal version skew or a producer bug
	// and are always surfaced to the caller, never swallowed.
	ErrBadMessageType = stderrors.New("unexpected message type tag")
	ErrSchemaMismatch = stderrors.New("schema id mismatch")
	ErrSampleArity    = stderrors.New("sample value count does not match schema fields")
	ErrStringTooLong  = stderrors.New("string exceeds 255 byte wire limit")
	ErrShortBuffer    = stderrors.New("buffer too short for frame")
	ErrFieldNotFound  = stderrors.New("field not found in schema")

	// Connection and subscription errors
	ErrNotConnected       = stderrors.New("not connected to NATS")
	ErrAlreadySubscribed  = stderrors.New("already subscribed to a source")
	ErrNotSubscribed      = stderrors.New("not subscribed to any source")
	ErrSubscriptionFailed = stderrors.New("subscription failed")

	// Timeout and state errors
	ErrSchemaTimeout = stderrors.New("timed out waiting for schema")
	ErrNoState       = stderrors.New("no environmental state has been received")

	// Configuration errors, raised at construction time
	ErrInvalidConfig    = stderrors.New("invalid configuration")
	ErrInvalidThreshold = stderrors.New("invalid threshold bounds")
	ErrUnknownBoundTag  = stderrors.New("unknown bound check tag")
	ErrMalformedBound   = stderrors.New("bound check form must have exactly one tag")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsProtocol reports whether an error is a wire protocol error.
func IsProtocol(err error) bool {
	return stderrors.Is(err, ErrBadMessageType) ||
		stderrors.Is(err, ErrSchemaMismatch) ||
		stderrors.Is(err, ErrSampleArity) ||
		stderrors.Is(err, ErrStringTooLong) ||
		stderrors.Is(err, ErrShortBuffer)
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if stderrors.Is(err, ErrNotConnected) ||
		stderrors.Is(err, ErrSchemaTimeout) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
		"retry",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return stderrors.Is(err, ErrInvalidConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return IsProtocol(err) ||
		stderrors.Is(err, ErrInvalidThreshold) ||
		stderrors.Is(err, ErrUnknownBoundTag) ||
		stderrors.Is(err, ErrMalformedBound)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error.
// Use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []error
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: nil, // Empty list means retry all transient errors
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}

	if !IsTransient(err) {
		return false
	}

	if len(rc.RetryableErrors) > 0 {
		for _, retryableErr := range rc.RetryableErrors {
			if stderrors.Is(err, retryableErr) {
				return true
			}
		}
		return false
	}

	return true
}

// ToRetryConfig converts to the retry framework's Config type.
// The conversion adds 1 to MaxRetries (converting "additional attempts"
// to "total attempts") and enables jitter by default.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}

// BackoffDelay calculates the delay for a retry attempt
func (rc RetryConfig) BackoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return rc.InitialDelay
	}

	delay := rc.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * rc.BackoffFactor)
		if delay > rc.MaxDelay {
			delay = rc.MaxDelay
			break
		}
	}

	return delay
}
