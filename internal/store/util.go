package store

import (
	"strconv"
	"time"
)

func parseTime(s string) (time.Time, error) {
	return time.Parse(rfc3339, s)
}

// resourceVersion is surfaced on the wire as a decimal string for
// compatibility, but stored and compared as an integer internally.
func formatRV(v int64) string {
	return strconv.FormatInt(v, 10)
}

func parseRV(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func mustParseRV(s string) int64 {
	v, _ := parseRV(s)
	return v
}
