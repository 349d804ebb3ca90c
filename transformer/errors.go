package transformer

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure classes of a transform run.
var (
	// ErrSchemaValidation indicates a malformed or unsupported schema document.
	ErrSchemaValidation = errors.New("transform: schema validation failed")
	// ErrInvalidDirective indicates a directive used with a bad location or arguments.
	ErrInvalidDirective = errors.New("transform: invalid directive")
	// ErrResourceConsistency indicates a resource expected in the context is missing.
	ErrResourceConsistency = errors.New("transform: resource consistency")
	// ErrInvalidConfig indicates a configuration error.
	ErrInvalidConfig = errors.New("transform: invalid configuration")
)

// SchemaValidationError is raised before any plugin runs, when the
// document cannot be parsed, fails validation or uses a reserved directive.
type SchemaValidationError struct {
	Type    string
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SchemaValidationError) Error() string {
	var b strings.Builder
	b.WriteString("transform: schema validation error")
	if e.Type != "" {
		b.WriteString(" on type ")
		b.WriteString(e.Type)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *SchemaValidationError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrSchemaValidation.
func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

// NewSchemaValidationError creates a new SchemaValidationError.
func NewSchemaValidationError(typeName, fieldName, message string, cause error) *SchemaValidationError {
	return &SchemaValidationError{
		Type:    typeName,
		Field:   fieldName,
		Message: message,
		Cause:   cause,
	}
}

// InvalidDirectiveError is raised by a plugin when a directive instance
// cannot be honoured. It always names the directive and where it was used.
type InvalidDirectiveError struct {
	Directive string
	Type      string
	Field     string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *InvalidDirectiveError) Error() string {
	var b strings.Builder
	b.WriteString("transform: invalid directive")
	if e.Directive != "" {
		b.WriteString(" @")
		b.WriteString(e.Directive)
	}
	if e.Type != "" {
		b.WriteString(" on type ")
		b.WriteString(e.Type)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *InvalidDirectiveError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrInvalidDirective.
func (e *InvalidDirectiveError) Is(target error) bool {
	return target == ErrInvalidDirective
}

// NewInvalidDirectiveError creates a new InvalidDirectiveError.
func NewInvalidDirectiveError(directive, typeName, fieldName, message string) *InvalidDirectiveError {
	return &InvalidDirectiveError{
		Directive: directive,
		Type:      typeName,
		Field:     fieldName,
		Message:   message,
	}
}

// ResourceConsistencyError reports that a resource a plugin depends on was
// not registered, which points at a pass-ordering bug.
type ResourceConsistencyError struct {
	Kind     string // "table", "datasource", "resolver", "stack"
	Resource string
	Message  string
}

// Error implements the error interface.
func (e *ResourceConsistencyError) Error() string {
	var b strings.Builder
	b.WriteString("transform: resource consistency error")
	if e.Kind != "" {
		b.WriteString(" for ")
		b.WriteString(e.Kind)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, " %q", e.Resource)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is reports whether the target matches ErrResourceConsistency.
func (e *ResourceConsistencyError) Is(target error) bool {
	return target == ErrResourceConsistency
}

// NewResourceConsistencyError creates a new ResourceConsistencyError.
func NewResourceConsistencyError(kind, resource, message string) *ResourceConsistencyError {
	return &ResourceConsistencyError{
		Kind:     kind,
		Resource: resource,
		Message:  message,
	}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Option  string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("transform: config error for %q (value: %v): %s", e.Option, e.Value, e.Message)
	}
	return fmt.Sprintf("transform: config error for %q: %s", e.Option, e.Message)
}

// Is reports whether the target matches ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(option string, value any, message string) *ConfigError {
	return &ConfigError{
		Option:  option,
		Value:   value,
		Message: message,
	}
}

// IsSchemaValidationError reports whether the error is a SchemaValidationError.
func IsSchemaValidationError(err error) bool {
	var target *SchemaValidationError
	return errors.As(err, &target)
}

// IsInvalidDirectiveError reports whether the error is an InvalidDirectiveError.
func IsInvalidDirectiveError(err error) bool {
	var target *InvalidDirectiveError
	return errors.As(err, &target)
}

// IsResourceConsistencyError reports whether the error is a ResourceConsistencyError.
func IsResourceConsistencyError(err error) bool {
	var target *ResourceConsistencyError
	return errors.As(err, &target)
}

// IsConfigError reports whether the error is a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}
