// Package engine exposes the compliance scheduling operations: checklist and
// reminder management, the periodic Tick, and the dashboard aggregates.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/directory"
	"github.com/reancirl/car-erp-sub006/internal/escalation"
	"github.com/reancirl/car-erp-sub006/internal/events"
	"github.com/reancirl/car-erp-sub006/internal/lifecycle"
	"github.com/reancirl/car-erp-sub006/internal/metrics"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/store"
)

type ValidationError = model.ValidationError

var (
	ErrValidation = model.ErrValidation
	ErrNotFound   = store.ErrNotFound

	// ErrAuditDisabled is returned by ExportAudit when no exporter is configured.
	ErrAuditDisabled = errors.New("audit export is not configured")
)

// AuditExporter writes a batch of reminder events somewhere durable and
// returns where it went.
type AuditExporter interface {
	Export(ctx context.Context, from, to time.Time, events []model.ReminderEvent) (string, error)
}

type Options struct {
	Location            *time.Location // week boundaries and due times; nil = UTC
	ArchiveCascade      bool           // archiving a checklist cancels its open reminders
	DispatchConcurrency int
	DispatchBatch       int
	Policy              lifecycle.Policy
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.DispatchConcurrency < 1 {
		o.DispatchConcurrency = 4
	}
	if o.DispatchBatch < 1 {
		o.DispatchBatch = 200
	}
	if o.Policy.MaxAttempts < 1 {
		o.Policy = lifecycle.DefaultPolicy()
	}
	return o
}

type Option func(*Engine)

// WithPublisher fans appended reminder events out to p.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithAuditExporter(x AuditExporter) Option {
	return func(e *Engine) { e.exporter = x }
}

type Engine struct {
	checklists *store.ChecklistStore
	reminders  *store.ReminderStore
	eventLog   *store.EventStore
	archive    *store.ArchiveStore
	dispatcher *lifecycle.Dispatcher
	resolver   *escalation.Resolver
	publisher  events.Publisher
	exporter   AuditExporter
	opts       Options
	logger     *slog.Logger
}

func New(db *sql.DB, dir directory.Directory, senders lifecycle.ChannelSender, opts Options, logger *slog.Logger, options ...Option) *Engine {
	e := &Engine{
		checklists: store.NewChecklistStore(db),
		reminders:  store.NewReminderStore(db),
		eventLog:   store.NewEventStore(db),
		archive:    store.NewArchiveStore(db),
		publisher:  events.Noop{},
		opts:       opts.withDefaults(),
		logger:     logger,
	}
	for _, o := range options {
		o(e)
	}
	e.dispatcher = lifecycle.NewDispatcher(e.reminders, dir, senders, e.publisher, e.opts.Policy, logger.With("component", "dispatch"))
	e.resolver = escalation.NewResolver(e.reminders, dir, senders, e.publisher, logger.With("component", "escalation"))
	return e
}

func (e *Engine) publish(ctx context.Context, evs ...model.ReminderEvent) {
	if len(evs) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, evs...); err != nil {
		e.logger.Warn("publish reminder events", "error", err)
	}
}

// ReminderEvents returns the timeline of a reminder, archived or not.
func (e *Engine) ReminderEvents(id int64) ([]model.ReminderEvent, error) {
	r, err := e.reminders.GetByID(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return e.eventLog.ListByReminder(id)
}

type AuditExport struct {
	Location string    `json:"location"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Events   int       `json:"events"`
}

// ExportAudit hands every event processed in [from, to) to the audit exporter.
func (e *Engine) ExportAudit(ctx context.Context, from, to time.Time) (*AuditExport, error) {
	if e.exporter == nil {
		return nil, ErrAuditDisabled
	}
	if !from.Before(to) {
		return nil, model.Invalid("to", "must be after from")
	}
	evs, err := e.eventLog.ListRange(from, to)
	if err != nil {
		return nil, err
	}
	location, err := e.exporter.Export(ctx, from, to, evs)
	if err != nil {
		metrics.AuditExportsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("export audit log: %w", err)
	}
	metrics.AuditExportsTotal.WithLabelValues("ok").Inc()
	e.logger.Info("audit log exported", "location", location, "events", len(evs))
	return &AuditExport{Location: location, From: from.UTC(), To: to.UTC(), Events: len(evs)}, nil
}
