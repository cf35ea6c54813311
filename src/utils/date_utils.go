package utils

import "time"

const DefaultDateFormat = "2006-01-02"

// Today returns the current local date in DefaultDateFormat.
func Today() string {
	return time.Now().Format(DefaultDateFormat)
}

// NormalizeDate accepts YYYY-MM-DD, DD/MM/YYYY, DD-MM-YYYY and a full
// RFC3339 timestamp and returns YYYY-MM-DD. Unparseable input is returned as is.
func NormalizeDate(raw string) string {
	for _, layout := range []string{DefaultDateFormat, "02/01/2006", "02-01-2006", "2006/01/02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(DefaultDateFormat)
		}
	}
	return raw
}
