package core

// convert.go turns raw CSV cells into typed values and back.
//
// Cells arrive from spreadsheets in many shapes. Import accepts:
//   - the NullSentinel "?" and blank cells as "no value"
//   - Excel's ="..." text-forcing wrapper (common on phone numbers)
//   - several timestamp and date layouts, interpreted in the server's zone
//
// Export always renders TimestampLayout and DateLayout.

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NullSentinel is the placeholder some spreadsheet tools write for a missing value.
const NullSentinel = "?"

const (
	// TimestampLayout is the rendering used for every exported timestamp.
	TimestampLayout = "2006-01-02 15:04:05"

	// DateLayout is the rendering used for birth dates.
	DateLayout = "2006-01-02"
)

var (
	timestampLayouts = []string{
		TimestampLayout,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006/01/02 15:04:05",
		"2006/01/02 15:04",
		"2006/1/2 15:04:05",
		"2006/1/2 15:04",
	}
	dateLayouts = []string{
		DateLayout,
		"2006/01/02",
		"2006-1-2",
		"2006/1/2",
		"2006.01.02",
		"20060102",
	}
)

// Normalize trims a cell and maps blank cells and the null sentinel to "".
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	if s == NullSentinel {
		return ""
	}
	return s
}

// ParseTimestamp parses a timestamp cell. Date-only values are accepted and
// mean midnight local time.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	if t, err := ParseDate(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseDate parses a calendar date cell.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	// A full timestamp in a date column keeps only its date part.
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.Local), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ParsePoints parses a non-negative integer point balance that fits the
// points column. Decimal input is truncated the way spreadsheet exports of
// whole numbers ("100.0") expect.
func ParsePoints(s string) (int, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return checkPoints(float64(n), s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("points must be an integer, got %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("points must be a finite number, got %q", s)
	}
	return checkPoints(f, s)
}

func checkPoints(f float64, s string) (int, error) {
	if f < 0 {
		return 0, fmt.Errorf("points must not be negative, got %q", s)
	}
	if f > math.MaxInt32 {
		return 0, fmt.Errorf("points must not exceed %d, got %q", math.MaxInt32, s)
	}
	return int(math.Trunc(f)), nil
}

// formatTimestamp renders an optional timestamp for export.
func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(time.Local).Format(TimestampLayout)
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
