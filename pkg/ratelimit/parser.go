package ratelimit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var rateRe = regexp.MustCompile(`^(\d+)(?:/(\d*)(ms|s|sec|m|min|h|hr))?$`)

// ParseRate parses a request rate such as:
//   - "10" (ten per second)
//   - "10/s", "10/sec"
//   - "600/m", "600/min"
//   - "5/h"
//   - "3/10s" (three every ten seconds)
//
// "" and "0" mean unlimited and return the zero Rate.
func ParseRate(rateStr string) (Rate, error) {
	rateStr = strings.TrimSpace(strings.ToLower(rateStr))
	if rateStr == "" || rateStr == "0" {
		return Rate{}, nil
	}

	matches := rateRe.FindStringSubmatch(rateStr)
	if matches == nil {
		return Rate{}, fmt.Errorf("invalid rate format: %q (examples: 10/s, 600/m, 3/10s)", rateStr)
	}

	events, err := strconv.Atoi(matches[1])
	if err != nil {
		return Rate{}, fmt.Errorf("invalid number in rate: %q", matches[1])
	}
	if events == 0 {
		return Rate{}, nil
	}

	count := 1
	if matches[2] != "" {
		count, err = strconv.Atoi(matches[2])
		if err != nil || count == 0 {
			return Rate{}, fmt.Errorf("invalid interval in rate: %q", rateStr)
		}
	}

	var unit time.Duration
	switch matches[3] {
	case "", "s", "sec":
		unit = time.Second
	case "ms":
		unit = time.Millisecond
	case "m", "min":
		unit = time.Minute
	case "h", "hr":
		unit = time.Hour
	default:
		return Rate{}, fmt.Errorf("unsupported unit: %q (supported: ms, s, m, h)", matches[3])
	}

	return Rate{Events: events, Per: time.Duration(count) * unit}, nil
}

// FormatRate formats a rate in its shortest parseable form.
func FormatRate(r Rate) string {
	if r.Unlimited() {
		return "unlimited"
	}

	switch r.Per {
	case time.Second:
		return fmt.Sprintf("%d/s", r.Events)
	case time.Minute:
		return fmt.Sprintf("%d/m", r.Events)
	case time.Hour:
		return fmt.Sprintf("%d/h", r.Events)
	}
	if r.Per%time.Second == 0 {
		return fmt.Sprintf("%d/%ds", r.Events, r.Per/time.Second)
	}
	return fmt.Sprintf("%d/%dms", r.Events, r.Per/time.Millisecond)
}

// ValidateRate checks if a rate string is valid without using the result.
func ValidateRate(rateStr string) error {
	_, err := ParseRate(rateStr)
	return err
}
