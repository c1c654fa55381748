package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/metrics"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/recurrence"
	"github.com/reancirl/car-erp-sub006/internal/trigger"
)

// TickReport summarizes one Tick.
type TickReport struct {
	Checklists int     `json:"checklists"`
	Generated  int     `json:"generated"`
	Retried    int     `json:"retried"`
	Dispatched int     `json:"dispatched"`
	Escalated  []int64 `json:"escalated"`
	Errors     int     `json:"errors"`
}

// Tick runs one scheduling pass at now: plan and advance checklist cycles,
// put failed reminders whose backoff elapsed back in the queue, dispatch due
// reminders, then escalate overdue ones. A failing stage does not stop the
// later ones; their errors are joined in the result.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	report := TickReport{Escalated: []int64{}}
	var errs []error
	fail := func(stage string, err error) {
		metrics.TickErrorsTotal.WithLabelValues(stage).Inc()
		report.Errors++
		errs = append(errs, fmt.Errorf("%s: %w", stage, err))
	}

	checklists, err := e.checklists.ListActive()
	if err != nil {
		fail("schedule", err)
	}
	for i := range checklists {
		if ctx.Err() != nil {
			break
		}
		c := &checklists[i]
		report.Checklists++
		created, err := e.schedule(ctx, c, now)
		report.Generated += created
		if err != nil {
			metrics.TickErrorsTotal.WithLabelValues("schedule").Inc()
			report.Errors++
			e.logger.Error("schedule checklist", "checklist_id", c.ID, "code", c.Code, "error", err)
		}
	}

	if report.Retried, err = e.dispatcher.RetryFailed(ctx, now); err != nil {
		fail("retry", err)
	}
	if report.Dispatched, err = e.dispatcher.DispatchDue(ctx, now, e.opts.DispatchBatch, e.opts.DispatchConcurrency); err != nil {
		fail("dispatch", err)
	}
	escalated, err := e.resolver.Sweep(ctx, now)
	if err != nil {
		fail("escalation", err)
	}
	if escalated != nil {
		report.Escalated = escalated
	}

	e.logger.Info("tick complete",
		"checklists", report.Checklists,
		"generated", report.Generated,
		"retried", report.Retried,
		"dispatched", report.Dispatched,
		"escalated", len(report.Escalated),
		"errors", report.Errors,
	)
	return report, errors.Join(errs...)
}

// schedule brings the checklist's cycle up to date at now and plans the
// reminders of its current cycle. A cycle that has arrived is planned once
// more, then advanced to the first occurrence after now, so dormant cycles
// are skipped rather than generated. Checklists that require acknowledgement
// stay on an arrived cycle until CompleteCycle. It returns the number of
// reminders created.
func (e *Engine) schedule(ctx context.Context, c *model.Checklist, now time.Time) (created int, err error) {
	cur, err := e.currentCycle(c, now)
	if err != nil || cur == nil {
		return 0, err
	}
	cycle := *cur

	triggers, err := e.checklists.Triggers(c.ID, true)
	if err != nil {
		return 0, err
	}

	if !cycle.After(now) && !c.RequiresAcknowledgment {
		n, err := e.plan(*c, triggers, cycle, now)
		created += n
		if err != nil {
			return created, err
		}

		next, ok, err := recurrence.NextAfter(e.rule(*c), &cycle, now)
		if err != nil {
			return created, err
		}
		var np *time.Time
		if ok {
			np = &next
		}
		moved, err := e.checklists.AdvanceCycle(c.ID, cycle, np, now)
		if err != nil {
			return created, err
		}
		if !moved || np == nil {
			return created, nil
		}
		e.logger.Debug("checklist cycle advanced", "checklist_id", c.ID, "from", cycle, "to", next)
		c.LastDueAt = &cycle
		c.NextDueAt = np
		cycle = next
	}

	n, err := e.plan(*c, triggers, cycle, now)
	return created + n, err
}

// currentCycle returns next_due_at, initializing it to the first occurrence
// for checklists that have never been scheduled. It returns nil for a
// finished one-off checklist.
func (e *Engine) currentCycle(c *model.Checklist, now time.Time) (*time.Time, error) {
	if c.NextDueAt != nil {
		return c.NextDueAt, nil
	}
	if c.LastDueAt != nil {
		return nil, nil
	}
	first, err := e.rule(*c).First()
	if err != nil {
		return nil, err
	}
	if err := e.checklists.SetCycle(c.ID, &first, nil, now); err != nil {
		return nil, err
	}
	c.NextDueAt = &first
	return &first, nil
}

// plan persists the drafts of one cycle. Advance reminders are not created
// for a cycle that has already arrived.
func (e *Engine) plan(c model.Checklist, triggers []model.Trigger, cycle, now time.Time) (int, error) {
	created := 0
	drafts := trigger.Plan(c, triggers, cycle)
	for i := range drafts {
		d := &drafts[i]
		if d.ReminderType == model.ReminderAdvance && !cycle.After(now) {
			continue
		}
		_, isNew, err := e.reminders.UpsertGenerated(d, now)
		if err != nil {
			return created, fmt.Errorf("checklist %d draft %s: %w", c.ID, d.SourceKey, err)
		}
		if isNew {
			created++
			metrics.RemindersGeneratedTotal.Inc()
		}
	}
	return created, nil
}
