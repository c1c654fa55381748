package recurrence

import (
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// maxSteps bounds NextAfter so a far-away reference cannot loop forever.
const maxSteps = 200000

// First returns start_date at due_time, the first occurrence of the rule.
func (r Rule) First() (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	return r.at(r.StartDate.Year(), r.StartDate.Month(), r.StartDate.Day())
}

// Next returns the occurrence following last. With last == nil it returns the
// first occurrence, even when that lies in the past. ok is false when a
// non-recurring rule has already fired.
func Next(r Rule, last *time.Time) (next time.Time, ok bool, err error) {
	first, err := r.First()
	if err != nil {
		return time.Time{}, false, err
	}
	if last == nil {
		return first, true, nil
	}
	if !r.Recurring {
		return time.Time{}, false, nil
	}

	ref := last.In(r.location())
	next, err = r.step(ref)
	if err != nil {
		return time.Time{}, false, err
	}
	// A schedule edit can leave last off the anchor grid; keep stepping until strictly after.
	for i := 0; !next.After(ref); i++ {
		if i >= maxSteps {
			return time.Time{}, false, invalid("no occurrence after %s", ref.Format(time.RFC3339))
		}
		next, err = r.step(next)
		if err != nil {
			return time.Time{}, false, err
		}
	}
	if next.Before(first) {
		return first, true, nil
	}
	return next, true, nil
}

// NextAfter returns the first occurrence following last that is strictly after ref.
func NextAfter(r Rule, last *time.Time, ref time.Time) (time.Time, bool, error) {
	next, ok, err := Next(r, last)
	for i := 0; err == nil && ok && !next.After(ref); i++ {
		if i >= maxSteps {
			return time.Time{}, false, invalid("no occurrence after %s", ref.Format(time.RFC3339))
		}
		cur := next
		next, ok, err = Next(r, &cur)
	}
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return next, true, nil
}

// step advances one period from t.
func (r Rule) step(t time.Time) (time.Time, error) {
	switch r.Frequency {
	case model.FrequencyDaily:
		return r.addDays(t, r.Interval)
	case model.FrequencyWeekly:
		return r.addDays(t, 7*r.Interval)
	case model.FrequencyMonthly:
		return r.addMonths(t, r.Interval)
	case model.FrequencyQuarterly:
		return r.addMonths(t, 3*r.Interval)
	case model.FrequencyYearly:
		return r.addMonths(t, 12*r.Interval)
	case model.FrequencyCustom:
		switch r.CustomUnit {
		case model.UnitHours:
			next := t.Add(time.Duration(r.CustomValue) * time.Hour)
			if next.Year() > 9999 {
				return time.Time{}, invalid("occurrence beyond year 9999")
			}
			return next, nil
		case model.UnitDays:
			return r.addDays(t, r.CustomValue)
		case model.UnitWeeks:
			return r.addDays(t, 7*r.CustomValue)
		case model.UnitMonths:
			return r.addMonths(t, r.CustomValue)
		case model.UnitYears:
			return r.addMonths(t, 12*r.CustomValue)
		}
	}
	return time.Time{}, invalid("unknown frequency_type %q", r.Frequency)
}

func (r Rule) addDays(t time.Time, n int) (time.Time, error) {
	y, m, d := t.Date()
	return r.at(y, m, d+n)
}

// addMonths moves n calendar months forward, landing on the start date's
// day-of-month clamped to the length of the target month.
func (r Rule) addMonths(t time.Time, n int) (time.Time, error) {
	total := int(t.Month()) - 1 + n
	y := t.Year() + total/12
	m := time.Month(total%12 + 1)
	d := r.StartDate.Day()
	if dim := daysInMonth(y, m); d > dim {
		d = dim
	}
	return r.at(y, m, d)
}

// at builds the wall time for a date with due_time applied.
func (r Rule) at(y int, m time.Month, d int) (time.Time, error) {
	h, mm, err := ParseDueTime(r.DueTime)
	if err != nil {
		return time.Time{}, err
	}
	t := time.Date(y, m, d, h, mm, 0, 0, r.location())
	if t.Year() < 1 || t.Year() > 9999 {
		return time.Time{}, invalid("occurrence outside years 1..9999")
	}
	return t, nil
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
