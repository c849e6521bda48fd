package plugin

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPluginError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *PluginError
		want string
	}{
		{
			name: "with plugin name",
			err:  &PluginError{Code: CodePluginNotFound, Message: "plugin not found", PluginName: "caching"},
			want: "[PLUGIN_NOT_FOUND] plugin 'caching': plugin not found",
		},
		{
			name: "without plugin name",
			err:  &PluginError{Code: CodeEngineError, Message: "dispatch aborted"},
			want: "[ENGINE_ERROR] dispatch aborted",
		},
		{
			name: "with cause",
			err:  &PluginError{Code: CodePluginInitFailed, Message: "init failed", Cause: errors.New("dial tcp: refused")},
			want: "[PLUGIN_INIT_FAILED] init failed: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPluginError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := ErrPluginInitError("metrics", cause)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestPluginError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"duplicate", ErrPluginAlreadyExists("a"), ErrDuplicatePlugin, true},
		{"not found", ErrPluginNotFoundError("a"), ErrPluginNotFound, true},
		{"invalid", ErrInvalidPluginError("a", "empty version"), ErrInvalidPlugin, true},
		{"init", ErrPluginInitError("a", errors.New("x")), ErrInitFailed, true},
		{"engine", ErrEngineError("x", nil), ErrEngine, true},
		{"code mismatch", ErrPluginNotFoundError("a"), ErrDuplicatePlugin, false},
		{"foreign error", errors.New("plain"), ErrPluginNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestPluginError_As(t *testing.T) {
	var wrapped error = ErrHookExecutionError("retry", "on_error", errors.New("boom"))

	var pe *PluginError
	if !errors.As(wrapped, &pe) {
		t.Fatal("errors.As failed")
	}
	if pe.PluginName != "retry" || pe.Hook != "on_error" {
		t.Errorf("got plugin=%q hook=%q", pe.PluginName, pe.Hook)
	}
}

func TestPluginError_WithSuggestions(t *testing.T) {
	err := NewPluginError(CodeInvalidPlugin, "bad").WithSuggestions("one", "two")
	err = err.WithSuggestions("three")

	if len(err.Suggestions) != 3 || err.Suggestions[2] != "three" {
		t.Errorf("Suggestions = %v", err.Suggestions)
	}
}

func TestPluginError_GetSeverity(t *testing.T) {
	tests := []struct {
		code PluginErrorCode
		want string
	}{
		{CodePluginInitFailed, "HIGH"},
		{CodeEngineError, "HIGH"},
		{CodeHookExecutionFailed, "MEDIUM"},
		{CodePluginCleanupFailed, "MEDIUM"},
		{CodeDuplicatePlugin, "LOW"},
		{CodePluginNotFound, "LOW"},
		{PluginErrorCode("SOMETHING_ELSE"), "MEDIUM"},
	}

	for _, tt := range tests {
		if got := NewPluginError(tt.code, "x").GetSeverity(); got != tt.want {
			t.Errorf("GetSeverity(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestPluginError_TimestampSet(t *testing.T) {
	before := time.Now()
	err := NewPluginError(CodeEngineError, "x")

	if err.Timestamp.Before(before) || err.Timestamp.After(time.Now()) {
		t.Errorf("Timestamp %v not within construction window", err.Timestamp)
	}
}

func TestErrorCollector(t *testing.T) {
	ec := NewErrorCollector()

	if ec.HasErrors() || ec.Err() != nil {
		t.Fatal("new collector should be empty")
	}
	if ec.Error() != "no errors" {
		t.Errorf("Error() = %q", ec.Error())
	}

	ec.Add(nil)
	ec.Add(ErrPluginInitError("a", errors.New("x")))
	if ec.Err() != ec.GetErrors()[0] {
		t.Error("single error should be returned as itself")
	}

	ec.Add(ErrPluginCleanupError("b", errors.New("y")))
	ec.Add(ErrPluginNotFoundError("c"))

	if len(ec.GetErrors()) != 3 {
		t.Fatalf("got %d errors, want 3", len(ec.GetErrors()))
	}
	if !strings.HasPrefix(ec.Error(), "multiple plugin errors (3 total)") {
		t.Errorf("Error() = %q", ec.Error())
	}
	if !errors.Is(ec.Err(), ErrPluginNotFound) {
		t.Error("errors.Is should search every collected error")
	}

	summary := ec.Summary()
	if summary["HIGH"] != 1 || summary["MEDIUM"] != 1 || summary["LOW"] != 1 {
		t.Errorf("Summary() = %v", summary)
	}
}
