// Package offset turns a rule's signed offset into the entity date that
// should fire today.
package offset

import (
	"errors"
	"fmt"
	"time"

	"reminder-engine/internal/models"
)

// ErrUnsupportedUnit is returned for units that cannot address a calendar date.
var ErrUnsupportedUnit = errors.New("unsupported offset unit")

// daysPerMonth approximates a month. Changing it moves trigger dates of
// existing MONTHS rules.
const daysPerMonth = 30

// Days converts value/unit into a signed number of days.
func Days(value int, unit models.OffsetUnit) (int, error) {
	switch unit {
	case models.UnitDays:
		return value, nil
	case models.UnitWeeks:
		return value * 7, nil
	case models.UnitMonths:
		return value * daysPerMonth, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedUnit, unit)
	}
}

// TargetDate returns today minus the offset, as a calendar date at midnight
// UTC. A negative offset ("before the event") yields a date after today.
func TargetDate(today time.Time, value int, unit models.OffsetUnit) (time.Time, error) {
	days, err := Days(value, unit)
	if err != nil {
		return time.Time{}, err
	}
	return Date(today).AddDate(0, 0, -days), nil
}

// Date truncates t to its calendar date, keeping the wall-clock day of t's location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
