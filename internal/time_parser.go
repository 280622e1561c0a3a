// internal/time_parser.go
// ------------------------
// Helpers for turning server-provided time hints into durations.
//
// Functions:
// - ParseTimeStr: convert strings like "1s", "6m0s", "1500ms" into a duration.
// - ParseRetryAfter: interpret a Retry-After header (delta-seconds or HTTP date).
package internal

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseTimeStr converts strings like "1s", "6m0s" or "250ms" into a duration.
// Unparseable input yields 0.
func ParseTimeStr(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}

	return 0
}

// ParseRetryAfter interprets a Retry-After header value relative to now.
// It accepts delta-seconds ("120") and HTTP dates. Past dates and garbage
// yield 0.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if sec, err := strconv.Atoi(value); err == nil {
		if sec <= 0 {
			return 0
		}
		return time.Duration(sec) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}

	return ParseTimeStr(value)
}
