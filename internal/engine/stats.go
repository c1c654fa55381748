package engine

import (
	"sort"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// DueItem is a checklist due inside the current week.
type DueItem struct {
	ChecklistID int64     `json:"checklist_id"`
	Title       string    `json:"title"`
	Code        string    `json:"code"`
	Category    string    `json:"category"`
	DueAt       time.Time `json:"due_at"`
	Overdue     bool      `json:"overdue"`
}

// Stats is the dashboard summary served by /api/stats.
type Stats struct {
	WeekStart    time.Time `json:"week_start"`
	DueThisWeek  []DueItem `json:"due_this_week"`
	OverdueCount int       `json:"overdue_count"`
}

// effectiveDue is the due date the dashboard shows: the stored cycle, or the
// first occurrence of a checklist that has not been scheduled yet. It is nil
// for a finished one-off checklist.
func (e *Engine) effectiveDue(c model.Checklist) *time.Time {
	if c.NextDueAt != nil {
		return c.NextDueAt
	}
	if c.LastDueAt != nil {
		return nil
	}
	first, err := e.rule(c).First()
	if err != nil {
		return nil
	}
	return &first
}

// WeekStart returns Monday 00:00 of the week containing now, in the
// configured location.
func (e *Engine) WeekStart(now time.Time) time.Time {
	local := now.In(e.opts.Location)
	days := (int(local.Weekday()) + 6) % 7
	y, m, d := local.Date()
	return time.Date(y, m, d-days, 0, 0, 0, 0, e.opts.Location)
}

// DueThisWeek lists active, non-archived checklists due between Monday 00:00
// and the following Monday 00:00, earliest first.
func (e *Engine) DueThisWeek(now time.Time) ([]DueItem, error) {
	checklists, err := e.checklists.ListActive()
	if err != nil {
		return nil, err
	}
	start := e.WeekStart(now)
	end := start.AddDate(0, 0, 7)

	items := []DueItem{}
	for _, c := range checklists {
		due := e.effectiveDue(c)
		if due == nil || due.Before(start) || !due.Before(end) {
			continue
		}
		items = append(items, DueItem{
			ChecklistID: c.ID,
			Title:       c.Title,
			Code:        c.Code,
			Category:    c.Category,
			DueAt:       due.UTC(),
			Overdue:     due.Before(now),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].DueAt.Before(items[j].DueAt) })
	return items, nil
}

// OverdueCount counts active, non-archived checklists whose due date has passed.
func (e *Engine) OverdueCount(now time.Time) (int, error) {
	checklists, err := e.checklists.ListActive()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range checklists {
		if due := e.effectiveDue(c); due != nil && due.Before(now) {
			n++
		}
	}
	return n, nil
}

func (e *Engine) Stats(now time.Time) (*Stats, error) {
	due, err := e.DueThisWeek(now)
	if err != nil {
		return nil, err
	}
	overdue, err := e.OverdueCount(now)
	if err != nil {
		return nil, err
	}
	return &Stats{WeekStart: e.WeekStart(now).UTC(), DueThisWeek: due, OverdueCount: overdue}, nil
}
