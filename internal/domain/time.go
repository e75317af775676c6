package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTime is returned when a clock time fails validation or parsing.
var ErrInvalidTime = errors.New("invalid time of day")

// Time is an immutable hour/minute pair. The zero value is midnight, but
// Time should always be constructed through NewTime or ParseTime so that
// invalid values are rejected up front.
type Time struct {
	hour   int
	minute int
}

// NewTime validates and constructs a Time from hour (0-23) and minute (0-59).
func NewTime(hour, minute int) (Time, error) {
	if hour < 0 || hour > 23 {
		return Time{}, fmt.Errorf("%w: hour %d out of range [0,23]", ErrInvalidTime, hour)
	}
	if minute < 0 || minute > 59 {
		return Time{}, fmt.Errorf("%w: minute %d out of range [0,59]", ErrInvalidTime, minute)
	}
	return Time{hour: hour, minute: minute}, nil
}

// MustNewTime panics on invalid input; reserved for compile-time-known values.
func MustNewTime(hour, minute int) Time {
	t, err := NewTime(hour, minute)
	if err != nil {
		panic(err)
	}
	return t
}

// Hour returns the hour component, 0-23.
func (t Time) Hour() int { return t.hour }

// Minute returns the minute component, 0-59.
func (t Time) Minute() int { return t.minute }

// TotalMinutes returns minutes since midnight, 0-1439.
func (t Time) TotalMinutes() int { return t.hour*60 + t.minute }

// Compare returns -1, 0, or 1 as t is before, equal to, or after other.
func (t Time) Compare(other Time) int {
	switch {
	case t.TotalMinutes() < other.TotalMinutes():
		return -1
	case t.TotalMinutes() > other.TotalMinutes():
		return 1
	default:
		return 0
	}
}

// Equal reports whether t and other denote the same minute.
func (t Time) Equal(other Time) bool { return t.Compare(other) == 0 }

// Before reports whether t is strictly earlier than other.
func (t Time) Before(other Time) bool { return t.Compare(other) < 0 }

// After reports whether t is strictly later than other.
func (t Time) After(other Time) bool { return t.Compare(other) > 0 }

// DiffMinutes returns the signed difference t - other, in minutes.
func (t Time) DiffMinutes(other Time) int { return t.TotalMinutes() - other.TotalMinutes() }

// Format24Hour renders as "HH:MM", e.g. "09:05", "23:59".
func (t Time) Format24Hour() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}

// Format12Hour renders as "H:MM AM|PM", e.g. "9:05 AM", "12:00 PM".
func (t Time) Format12Hour() string {
	h := t.hour % 12
	if h == 0 {
		h = 12
	}
	period := "AM"
	if t.hour >= 12 {
		period = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", h, t.minute, period)
}

func (t Time) String() string { return t.Format24Hour() }

// namedTimes are the fixed-default literals ParseTime accepts.
var namedTimes = map[string]Time{
	"noon":      {12, 0},
	"midnight":  {0, 0},
	"morning":   {9, 0},
	"afternoon": {14, 0},
	"evening":   {18, 0},
	"night":     {21, 0},
}

// ParseTime accepts "HH:MM", "H:MM AM|PM", "H AM|PM", a bare hour, and the
// named literals noon/midnight/morning/afternoon/evening/night.
func ParseTime(s string) (Time, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Time{}, fmt.Errorf("%w: empty string", ErrInvalidTime)
	}

	lower := strings.ToLower(raw)
	if named, ok := namedTimes[lower]; ok {
		return named, nil
	}

	hasAM := strings.HasSuffix(lower, "am")
	hasPM := strings.HasSuffix(lower, "pm")
	if hasAM || hasPM {
		body := strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(lower, "am"), "pm"))
		hourPart, minutePart, hasMinute := strings.Cut(body, ":")

		hour, err := strconv.Atoi(strings.TrimSpace(hourPart))
		if err != nil || hour < 1 || hour > 12 {
			return Time{}, fmt.Errorf("%w: bad 12-hour value %q", ErrInvalidTime, s)
		}

		minute := 0
		if hasMinute {
			minute, err = strconv.Atoi(strings.TrimSpace(minutePart))
			if err != nil || minute < 0 || minute > 59 {
				return Time{}, fmt.Errorf("%w: bad minute in %q", ErrInvalidTime, s)
			}
		}

		h24 := hour % 12
		if hasPM {
			h24 += 12
		}
		return NewTime(h24, minute)
	}

	hourPart, minutePart, hasMinute := strings.Cut(raw, ":")
	hour, err := strconv.Atoi(strings.TrimSpace(hourPart))
	if err != nil {
		return Time{}, fmt.Errorf("%w: %q is not a time", ErrInvalidTime, s)
	}
	minute := 0
	if hasMinute {
		minute, err = strconv.Atoi(strings.TrimSpace(minutePart))
		if err != nil {
			return Time{}, fmt.Errorf("%w: bad minute in %q", ErrInvalidTime, s)
		}
	}
	return NewTime(hour, minute)
}
