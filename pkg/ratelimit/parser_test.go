package ratelimit

import (
	"testing"
	"time"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    Rate
		expectError bool
	}{
		{name: "empty", input: "", expected: Rate{}},
		{name: "zero", input: "0", expected: Rate{}},
		{name: "zero per minute", input: "0/m", expected: Rate{}},
		{name: "plain number", input: "10", expected: Rate{Events: 10, Per: time.Second}},
		{name: "per second", input: "10/s", expected: Rate{Events: 10, Per: time.Second}},
		{name: "per sec", input: "10/sec", expected: Rate{Events: 10, Per: time.Second}},
		{name: "per minute", input: "600/m", expected: Rate{Events: 600, Per: time.Minute}},
		{name: "per min uppercase", input: "600/MIN", expected: Rate{Events: 600, Per: time.Minute}},
		{name: "per hour", input: "5/h", expected: Rate{Events: 5, Per: time.Hour}},
		{name: "interval count", input: "3/10s", expected: Rate{Events: 3, Per: 10 * time.Second}},
		{name: "milliseconds", input: "1/250ms", expected: Rate{Events: 1, Per: 250 * time.Millisecond}},
		{name: "whitespace", input: "  20/s ", expected: Rate{Events: 20, Per: time.Second}},
		{name: "negative", input: "-1/s", expectError: true},
		{name: "fraction", input: "1.5/s", expectError: true},
		{name: "unknown unit", input: "10/d", expectError: true},
		{name: "zero interval", input: "10/0s", expectError: true},
		{name: "garbage", input: "fast", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRate(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("ParseRate(%q) expected error, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRate(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseRate(%q) = %+v, want %+v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		rate     Rate
		expected string
	}{
		{Rate{}, "unlimited"},
		{Rate{Events: 10, Per: time.Second}, "10/s"},
		{Rate{Events: 600, Per: time.Minute}, "600/m"},
		{Rate{Events: 5, Per: time.Hour}, "5/h"},
		{Rate{Events: 3, Per: 10 * time.Second}, "3/10s"},
		{Rate{Events: 1, Per: 250 * time.Millisecond}, "1/250ms"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatRate(tt.rate); got != tt.expected {
				t.Errorf("FormatRate(%+v) = %q, want %q", tt.rate, got, tt.expected)
			}
			if tt.rate.Unlimited() {
				return
			}
			back, err := ParseRate(tt.expected)
			if err != nil || back != tt.rate {
				t.Errorf("FormatRate output %q does not parse back: %+v %v", tt.expected, back, err)
			}
		})
	}
}

func TestValidateRate(t *testing.T) {
	if err := ValidateRate("10/s"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateRate("ten per second"); err == nil {
		t.Error("expected error for invalid rate")
	}
}
