// Package types implements special types for planr.
package types

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Week is a calendar week identified by its Monday.
type Week time.Time

const dateLayout = "2006-01-02"

// WeekOf returns the Week containing the time instant, normalized to
// Monday 00:00 UTC.
func WeekOf(t time.Time) Week {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week that started the previous Monday
	}
	monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -(weekday - 1))
	return Week(monday)
}

// ParseWeek parses a "2006-01-02" date string and returns the Week
// containing it.
func ParseWeek(s string) (Week, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Week{}, fmt.Errorf("parsing week date: %w", err)
	}
	return WeekOf(t), nil
}

// String returns the Monday of the week formatted as 2006-01-02.
func (w Week) String() string {
	return time.Time(w).Format(dateLayout)
}

// Start returns the Monday of the week.
func (w Week) Start() time.Time {
	return time.Time(w)
}

// End returns the Sunday of the week.
func (w Week) End() time.Time {
	return time.Time(w).AddDate(0, 0, 6)
}

// Days returns the seven dates of the week, Monday first.
func (w Week) Days() []time.Time {
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = time.Time(w).AddDate(0, 0, i)
	}
	return days
}

// AddWeeks returns the week n weeks after w.
func (w Week) AddWeeks(n int) Week {
	return Week(time.Time(w).AddDate(0, 0, 7*n))
}

// Contains reports whether the time instant falls inside the week.
func (w Week) Contains(t time.Time) bool {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(w.Start()) && !day.After(w.End())
}

// Before reports whether the week instant w is before v.
func (w Week) Before(v Week) bool {
	return time.Time(w).Before(time.Time(v))
}

// Equal reports whether w and v identify the same week.
func (w Week) Equal(v Week) bool {
	return time.Time(w).Equal(time.Time(v))
}

// IsZero reports if the week is the zero value.
func (w Week) IsZero() bool {
	return time.Time(w).IsZero()
}

// MarshalJSON implements the json.Marshaler interface.
func (w Week) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. Any date string
// in the "2006-01-02" format is accepted and normalized to its week.
func (w *Week) UnmarshalJSON(data []byte) error {
	value := strings.Trim(string(data), `"`)
	if value == "" || value == "null" {
		return nil
	}

	week, err := ParseWeek(value)
	if err != nil {
		return err
	}
	*w = week
	return nil
}

// Scan writes the value from the database.
func (w *Week) Scan(value interface{}) error {
	nullTime := &sql.NullTime{}
	err := nullTime.Scan(value)
	*w = WeekOf(nullTime.Time)
	return err
}

// Value returns the value for the SQL driver to write to the database.
func (w Week) Value() (driver.Value, error) {
	return time.Time(w), nil
}
