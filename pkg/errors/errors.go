// Package errors provides the error types used across ownertag.
// Every type supports errors.Is against one of the package sentinels so
// drivers can decide policy (skip, count as failure, abort) without
// inspecting concrete types.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is, As and Join are re-exported so callers only import one errors package.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// Sentinel errors.
var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that provided input was invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration indicates operator configuration that cannot be honoured.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransient indicates a failure that may succeed when retried later.
	ErrTransient = errors.New("transient error")

	// ErrUnauthorized indicates the service rejected the credential.
	ErrUnauthorized = errors.New("unauthorized")
)

// NotFoundError represents an error when a resource is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// AlreadyExistsError is returned when creating a resource whose name is taken.
type AlreadyExistsError struct {
	Resource string
	Name     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Name)
}

// Is implements errors.Is support.
func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resource, name string) *AlreadyExistsError {
	return &AlreadyExistsError{Resource: resource, Name: name}
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ConfigurationError reports configuration that is valid on its face but
// cannot be applied, such as an owner mapping naming a tag that does not exist.
type ConfigurationError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(component, message string, err error) *ConfigurationError {
	return &ConfigurationError{Component: component, Message: message, Err: err}
}

// TransientError wraps a network-level failure talking to the document service.
type TransientError struct {
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// NewTransientError creates a new TransientError.
func NewTransientError(operation string, err error) *TransientError {
	return &TransientError{Operation: operation, Err: err}
}

// APIError represents a non-success response from the document service.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API error from %s %s (status %d): %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
}

// Is implements errors.Is support.
func (e *APIError) Is(target error) bool {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return target == ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return target == ErrAlreadyExists
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return target == ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return target == ErrTransient
	}
	return false
}

// NewAPIError creates a new APIError.
func NewAPIError(method, endpoint string, statusCode int, message string) *APIError {
	return &APIError{
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Message:    message,
	}
}

// AuthenticationError represents a rejected or missing credential.
type AuthenticationError struct {
	Method  string // authorization scheme presented, e.g. "token", "bearer"
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error (%s): %s", e.Method, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// NewAuthenticationError creates a new AuthenticationError.
func NewAuthenticationError(method, message string, err error) *AuthenticationError {
	return &AuthenticationError{Method: method, Message: message, Err: err}
}

// ParseError represents an error when parsing data formats.
type ParseError struct {
	Format  string // "json", "yaml"
	File    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(format, file, message string, err error) *ParseError {
	return &ParseError{Format: format, File: file, Message: message, Err: err}
}

// IOError represents an error during I/O operations.
type IOError struct {
	Operation string // "read", "write", "open", "close"
	Path      string
	Err       error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("IO error during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *IOError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConfiguration checks if an error is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsTransient checks if an error may succeed on a later attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsUnauthorized checks if an error is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Kind returns a short, stable label for err, suitable for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsConfiguration(err):
		return "configuration"
	case IsNotFound(err):
		return "not_found"
	case IsUnauthorized(err):
		return "unauthorized"
	case IsTransient(err):
		return "transient"
	case IsValidationError(err):
		return "validation"
	default:
		return "other"
	}
}

// WrapIO wraps an error as an IOError.
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Operation: operation, Path: path, Err: err}
}

// WrapParse wraps an error as a ParseError.
func WrapParse(format, file string, err error) error {
	if err == nil {
		return nil
	}
	return NewParseError(format, file, err.Error(), err)
}

// WrapTransient wraps an error as a TransientError.
func WrapTransient(operation string, err error) error {
	if err == nil {
		return nil
	}
	return NewTransientError(operation, err)
}

// WrapContext classifies a context error: cancellation is returned as is so
// callers stop, while an expired deadline becomes a TransientError.
func WrapContext(operation string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	return NewTransientError(operation, err)
}
