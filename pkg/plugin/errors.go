package plugin

import (
	"fmt"
	"time"
)

// PluginErrorCode represents different types of plugin errors
type PluginErrorCode string

const (
	// Registration errors
	CodeInvalidPlugin   PluginErrorCode = "INVALID_PLUGIN"
	CodeDuplicatePlugin PluginErrorCode = "DUPLICATE_PLUGIN"
	CodePluginNotFound  PluginErrorCode = "PLUGIN_NOT_FOUND"

	// Lifecycle errors
	CodePluginInitFailed    PluginErrorCode = "PLUGIN_INIT_FAILED"
	CodePluginCleanupFailed PluginErrorCode = "PLUGIN_CLEANUP_FAILED"

	// Dispatch errors
	CodeHookExecutionFailed PluginErrorCode = "HOOK_EXECUTION_FAILED"

	// Engine errors
	CodeEngineError PluginErrorCode = "ENGINE_ERROR"
)

// Sentinels for errors.Is. A *PluginError matches the sentinel with the same code.
var (
	ErrInvalidPlugin   = &PluginError{Code: CodeInvalidPlugin, Message: "invalid plugin"}
	ErrDuplicatePlugin = &PluginError{Code: CodeDuplicatePlugin, Message: "plugin already registered"}
	ErrPluginNotFound  = &PluginError{Code: CodePluginNotFound, Message: "plugin not found"}
	ErrInitFailed      = &PluginError{Code: CodePluginInitFailed, Message: "plugin initialization failed"}
	ErrEngine          = &PluginError{Code: CodeEngineError, Message: "engine error"}
)

// PluginError represents a detailed plugin error
type PluginError struct {
	Code        PluginErrorCode `json:"code"`
	Message     string          `json:"message"`
	PluginName  string          `json:"plugin_name,omitempty"`
	Hook        string          `json:"hook,omitempty"`
	Cause       error           `json:"-"`
	Timestamp   time.Time       `json:"timestamp"`
	Suggestions []string        `json:"suggestions,omitempty"`
}

// Error implements the error interface
func (pe *PluginError) Error() string {
	msg := fmt.Sprintf("[%s] %s", pe.Code, pe.Message)
	if pe.PluginName != "" {
		msg = fmt.Sprintf("[%s] plugin '%s': %s", pe.Code, pe.PluginName, pe.Message)
	}
	if pe.Cause != nil {
		msg += ": " + pe.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (pe *PluginError) Unwrap() error {
	return pe.Cause
}

// Is matches any *PluginError carrying the same code.
func (pe *PluginError) Is(target error) bool {
	other, ok := target.(*PluginError)
	return ok && other.Code == pe.Code
}

// NewPluginError creates a new plugin error
func NewPluginError(code PluginErrorCode, message string) *PluginError {
	return &PluginError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewPluginErrorWithCause creates a new plugin error with a cause
func NewPluginErrorWithCause(code PluginErrorCode, message string, cause error) *PluginError {
	pe := NewPluginError(code, message)
	pe.Cause = cause
	return pe
}

// WithPlugin adds plugin context to the error
func (pe *PluginError) WithPlugin(name string) *PluginError {
	pe.PluginName = name
	return pe
}

// WithHook records the hook type a handler failure happened on
func (pe *PluginError) WithHook(hook string) *PluginError {
	pe.Hook = hook
	return pe
}

// WithSuggestions adds troubleshooting suggestions
func (pe *PluginError) WithSuggestions(suggestions ...string) *PluginError {
	pe.Suggestions = append(pe.Suggestions, suggestions...)
	return pe
}

// GetSeverity returns the error severity level
func (pe *PluginError) GetSeverity() string {
	switch pe.Code {
	case CodePluginInitFailed, CodeEngineError:
		return "HIGH"
	case CodeHookExecutionFailed, CodePluginCleanupFailed:
		return "MEDIUM"
	case CodePluginNotFound, CodeDuplicatePlugin, CodeInvalidPlugin:
		return "LOW"
	default:
		return "MEDIUM"
	}
}

// Common error constructors for frequently used errors

func ErrInvalidPluginError(name, reason string) *PluginError {
	return NewPluginError(CodeInvalidPlugin, reason).
		WithPlugin(name).
		WithSuggestions(
			"Return a non-empty Name and Version",
			"Bind handlers only to declared hook types",
		)
}

func ErrPluginAlreadyExists(name string) *PluginError {
	return NewPluginError(CodeDuplicatePlugin, "plugin already registered").
		WithPlugin(name).
		WithSuggestions(
			"Use a different plugin name",
			"Unregister the existing plugin first",
		)
}

func ErrPluginNotFoundError(name string) *PluginError {
	return NewPluginError(CodePluginNotFound, "plugin not found").
		WithPlugin(name).
		WithSuggestions(
			"Check if plugin name is spelled correctly",
			"Ensure plugin is registered",
		)
}

func ErrPluginInitError(name string, cause error) *PluginError {
	return NewPluginErrorWithCause(CodePluginInitFailed, "plugin initialization failed", cause).
		WithPlugin(name).
		WithSuggestions(
			"Check plugin configuration is valid",
			"Review plugin initialization logs",
		)
}

func ErrPluginCleanupError(name string, cause error) *PluginError {
	return NewPluginErrorWithCause(CodePluginCleanupFailed, "plugin cleanup failed", cause).
		WithPlugin(name)
}

func ErrHookExecutionError(name, hook string, cause error) *PluginError {
	return NewPluginErrorWithCause(CodeHookExecutionFailed, "hook handler failed", cause).
		WithPlugin(name).
		WithHook(hook)
}

func ErrEngineError(message string, cause error) *PluginError {
	return NewPluginErrorWithCause(CodeEngineError, message, cause)
}

// ErrorCollector collects multiple plugin errors
type ErrorCollector struct {
	errors []*PluginError
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]*PluginError, 0),
	}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err *PluginError) {
	if err != nil {
		ec.errors = append(ec.errors, err)
	}
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	return len(ec.errors) > 0
}

// GetErrors returns all collected errors
func (ec *ErrorCollector) GetErrors() []*PluginError {
	return ec.errors
}

// Err returns nil when empty, the single error, or the collector itself.
func (ec *ErrorCollector) Err() error {
	switch len(ec.errors) {
	case 0:
		return nil
	case 1:
		return ec.errors[0]
	default:
		return ec
	}
}

// Error implements the error interface for ErrorCollector
func (ec *ErrorCollector) Error() string {
	if len(ec.errors) == 0 {
		return "no errors"
	}

	if len(ec.errors) == 1 {
		return ec.errors[0].Error()
	}

	return fmt.Sprintf("multiple plugin errors (%d total): %s", len(ec.errors), ec.errors[0].Error())
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (ec *ErrorCollector) Unwrap() []error {
	out := make([]error, len(ec.errors))
	for i, err := range ec.errors {
		out[i] = err
	}
	return out
}

// Summary returns a summary of all errors
func (ec *ErrorCollector) Summary() map[string]int {
	summary := make(map[string]int)
	for _, err := range ec.errors {
		summary[err.GetSeverity()]++
	}
	return summary
}
