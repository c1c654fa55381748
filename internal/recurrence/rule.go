package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// ErrInvalidRule is returned for frequency rules that can never produce a due date.
var ErrInvalidRule = errors.New("invalid rule")

// Rule is the schedule part of a checklist.
type Rule struct {
	Frequency   model.FrequencyType
	Interval    int
	CustomUnit  model.CustomUnit
	CustomValue int
	StartDate   time.Time // only the date part is used
	DueTime     string    // "HH:MM", empty means midnight
	Recurring   bool
	Location    *time.Location // nil = UTC
}

// FromChecklist extracts the schedule of a checklist.
func FromChecklist(c model.Checklist, loc *time.Location) Rule {
	return Rule{
		Frequency:   c.FrequencyType,
		Interval:    c.FrequencyInterval,
		CustomUnit:  c.CustomUnit,
		CustomValue: c.CustomValue,
		StartDate:   c.StartDate,
		DueTime:     c.DueTime,
		Recurring:   c.IsRecurring,
		Location:    loc,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

// Validate checks the rule without computing anything.
func (r Rule) Validate() error {
	switch r.Frequency {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly,
		model.FrequencyQuarterly, model.FrequencyYearly:
	case model.FrequencyCustom:
		switch r.CustomUnit {
		case model.UnitHours, model.UnitDays, model.UnitWeeks, model.UnitMonths, model.UnitYears:
		case "":
			return invalid("custom_frequency_unit is required for custom frequency")
		default:
			return invalid("unknown custom_frequency_unit %q", r.CustomUnit)
		}
		if r.CustomValue < 1 {
			return invalid("custom_frequency_value must be >= 1")
		}
	default:
		return invalid("unknown frequency_type %q", r.Frequency)
	}
	if r.Interval < 1 {
		return invalid("frequency_interval must be >= 1")
	}
	if r.StartDate.IsZero() {
		return invalid("start_date is required")
	}
	if _, _, err := ParseDueTime(r.DueTime); err != nil {
		return err
	}
	return nil
}

// ParseDueTime parses "HH:MM" (or "HH:MM:SS", seconds ignored). Empty is midnight.
func ParseDueTime(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, invalid("due_time %q must be HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, invalid("due_time %q has an invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, invalid("due_time %q has an invalid minute", s)
	}
	return hour, minute, nil
}

func (r Rule) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Describe returns a human-readable summary such as "Repeats every 2 weeks at 10:00".
func (r Rule) Describe() string {
	at := ""
	if h, m, err := ParseDueTime(r.DueTime); err == nil {
		at = fmt.Sprintf(" at %02d:%02d", h, m)
	}
	if !r.Recurring {
		return "Once on " + r.StartDate.Format("2006-01-02") + at
	}

	every := func(n int, one, many string) string {
		if n == 1 {
			return "Repeats " + one
		}
		return fmt.Sprintf("Repeats every %d %s", n, many)
	}

	switch r.Frequency {
	case model.FrequencyDaily:
		return every(r.Interval, "daily", "days") + at
	case model.FrequencyWeekly:
		return every(r.Interval, "weekly", "weeks") + at
	case model.FrequencyMonthly:
		return every(r.Interval, "monthly", "months") + at
	case model.FrequencyQuarterly:
		return every(r.Interval, "quarterly", "quarters") + at
	case model.FrequencyYearly:
		return every(r.Interval, "yearly", "years") + at
	case model.FrequencyCustom:
		if r.CustomUnit == model.UnitHours {
			return fmt.Sprintf("Repeats every %d hours", r.CustomValue)
		}
		return fmt.Sprintf("Repeats every %d %s", r.CustomValue, r.CustomUnit) + at
	}
	return ""
}
