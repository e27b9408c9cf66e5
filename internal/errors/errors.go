// Package errors provides categorised errors for the VM and its collaborators
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrorCategory groups errors by how the VM reacts to them
type ErrorCategory string

const (
	CategoryScriptLoad     ErrorCategory = "script-load"     // syntax or IO failure adding a script
	CategoryScriptRuntime  ErrorCategory = "script-runtime"  // uncaught failure resuming a shred
	CategoryAllocation     ErrorCategory = "allocation"      // shred, scheduler or queue could not be created
	CategoryProtocolMisuse ErrorCategory = "protocol-misuse" // bad yield or rate, a safe default is applied
	CategoryFatal          ErrorCategory = "fatal"
	CategoryAudioDevice    ErrorCategory = "audio-device"
	CategoryMIDIDevice     ErrorCategory = "midi-device"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryFileIO         ErrorCategory = "file-io"
	CategoryValidation     ErrorCategory = "validation"
	CategoryGeneric        ErrorCategory = "generic"
)

// EnhancedError wraps an error with a component, a category and context
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	if len(ee.Context) == 0 {
		return ee.Err.Error()
	}
	keys := make([]string, 0, len(ee.Context))
	for k := range ee.Context {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	b.WriteString(ee.Err.Error())
	b.WriteString(" (")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, ee.Context[k])
	}
	b.WriteString(")")
	return b.String()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, anything else through the wrapped error
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetContext returns a copy of the context map
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an enhanced error around err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts an enhanced error from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
	}
	if ee.Err == nil {
		ee.Err = stderrors.New("unknown error")
	}
	if ee.Component == "" {
		ee.Component = "unknown"
	}
	if ee.Category == "" {
		ee.Category = CategoryGeneric
	}
	return ee
}

// CategoryOf returns the category of the first EnhancedError in err's chain
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && CategoryOf(err) == category
}

// NewStd creates a plain error (passthrough to standard library)
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is is a passthrough to the standard library
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a passthrough to the standard library
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap is a passthrough to the standard library
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join is a passthrough to the standard library
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
