package engine

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/channel"
	"github.com/reancirl/car-erp-sub006/internal/database"
	"github.com/reancirl/car-erp-sub006/internal/directory"
	"github.com/reancirl/car-erp-sub006/internal/lifecycle"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/recurrence"
)

type delivery struct {
	ch   model.Channel
	to   int64
	kind channel.Kind
}

type recordingSender struct {
	mu   sync.Mutex
	sent []delivery
}

func (s *recordingSender) Send(ctx context.Context, ch model.Channel, recipient channel.Recipient, msg channel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, delivery{ch: ch, to: recipient.UserID, kind: msg.Kind})
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	db     *sql.DB
	engine *Engine
	sender *recordingSender
}

func setup(t *testing.T, opts Options, options ...Option) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dir := directory.Static{Users: []model.DirectoryUser{
		{ID: 1, Name: "Tess", Email: "tess@example.com", Role: "technician", IsActive: true},
		{ID: 2, Name: "Mara", Email: "mara@example.com", Role: "manager", IsActive: true},
	}}
	sender := &recordingSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		db:     db,
		engine: New(db, dir, sender, opts, logger, options...),
		sender: sender,
	}
}

var (
	ctx     = context.Background()
	created = time.Date(2023, 12, 28, 12, 0, 0, 0, time.UTC)
	cycle1  = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cycle2  = time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
)

func weekly(code string) model.Checklist {
	user := int64(1)
	return model.Checklist{
		Title:                  "Fire extinguisher check",
		Code:                   code,
		Category:               "safety",
		FrequencyType:          model.FrequencyWeekly,
		FrequencyInterval:      1,
		StartDate:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DueTime:                "10:00",
		IsRecurring:            true,
		AssignedUserID:         &user,
		AdvanceReminderOffsets: []int{24},
		NotificationChannels:   model.ChannelSet{model.ChannelEmail},
	}
}

func scheduleOf(c model.Checklist) ScheduleUpdate {
	return ScheduleUpdate{
		Status:                 c.Status,
		FrequencyType:          c.FrequencyType,
		FrequencyInterval:      c.FrequencyInterval,
		CustomUnit:             c.CustomUnit,
		CustomValue:            c.CustomValue,
		StartDate:              c.StartDate,
		DueTime:                c.DueTime,
		IsRecurring:            c.IsRecurring,
		AssignedUserID:         c.AssignedUserID,
		AssignedRole:           c.AssignedRole,
		EscalateToUserID:       c.EscalateToUserID,
		EscalateToRole:         c.EscalateToRole,
		EscalationOffsetHours:  c.EscalationOffsetHours,
		AdvanceReminderOffsets: c.AdvanceReminderOffsets,
		NotificationChannels:   c.NotificationChannels,
		RequiresAcknowledgment: c.RequiresAcknowledgment,
		AllowPartialCompletion: c.AllowPartialCompletion,
	}
}

func (f *fixture) createChecklist(t *testing.T, c model.Checklist) *model.Checklist {
	t.Helper()
	got, err := f.engine.CreateChecklist(ctx, c, created)
	if err != nil {
		t.Fatalf("create checklist: %v", err)
	}
	return got
}

func (f *fixture) tick(t *testing.T, now time.Time) TickReport {
	t.Helper()
	report, err := f.engine.Tick(ctx, now)
	if err != nil {
		t.Fatalf("tick at %s: %v", now, err)
	}
	return report
}

func (f *fixture) reminders(t *testing.T, checklistID int64) []model.Reminder {
	t.Helper()
	list, err := f.engine.ChecklistReminders(checklistID)
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	return list
}

func TestCreateChecklistFirstCycle(t *testing.T) {
	f := setup(t, Options{})
	c := f.createChecklist(t, weekly("FE-01"))

	if c.NextDueAt == nil || !c.NextDueAt.Equal(cycle1) {
		t.Fatalf("next_due_at = %v, want %v", c.NextDueAt, cycle1)
	}
	if c.Status != model.ChecklistActive {
		t.Errorf("status = %q, want active", c.Status)
	}

	list := f.reminders(t, c.ID)
	if len(list) != 1 {
		t.Fatalf("reminders = %d, want 1", len(list))
	}
	want := cycle1.Add(-24 * time.Hour)
	if list[0].SourceKey != "offset:24" || !list[0].RemindAt.Equal(want) {
		t.Errorf("reminder = %q at %v, want offset:24 at %v", list[0].SourceKey, list[0].RemindAt, want)
	}
}

func TestCreateChecklistDefaultsChannels(t *testing.T) {
	f := setup(t, Options{})
	in := weekly("FE-02")
	in.NotificationChannels = nil
	c := f.createChecklist(t, in)
	if c.NotificationChannels.String() != "in_app" {
		t.Errorf("notification_channels = %q, want in_app", c.NotificationChannels.String())
	}
}

func TestCreateChecklistValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *model.Checklist)
		field  string
	}{
		{"missing title", func(c *model.Checklist) { c.Title = " " }, "title"},
		{"missing code", func(c *model.Checklist) { c.Code = "" }, "code"},
		{"negative interval", func(c *model.Checklist) { c.FrequencyInterval = -1 }, "frequency"},
		{"custom without unit", func(c *model.Checklist) {
			c.FrequencyType = model.FrequencyCustom
			c.CustomValue = 3
		}, "frequency"},
		{"bad due time", func(c *model.Checklist) { c.DueTime = "25:00" }, "frequency"},
		{"duplicate offsets", func(c *model.Checklist) { c.AdvanceReminderOffsets = []int{24, 24} }, "advance_reminder_offsets"},
		{"unknown channel", func(c *model.Checklist) { c.NotificationChannels = model.ChannelSet{"fax"} }, "notification_channels"},
		{"escalation trigger without target", func(c *model.Checklist) {
			c.Triggers = []model.Trigger{{TriggerType: model.TriggerEscalation, OffsetHours: 6, Channels: model.ChannelSet{model.ChannelEmail}}}
		}, "escalate_to"},
	}

	f := setup(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := weekly("VAL")
			tt.mutate(&c)
			_, err := f.engine.CreateChecklist(ctx, c, created)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("field = %v, want %q", err, tt.field)
			}
		})
	}
}

func TestCreateChecklistInvalidRuleKeepsCause(t *testing.T) {
	f := setup(t, Options{})
	c := weekly("RULE")
	c.FrequencyType = "fortnightly"
	_, err := f.engine.CreateChecklist(ctx, c, created)
	if !errors.Is(err, recurrence.ErrInvalidRule) || !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrInvalidRule and ErrValidation", err)
	}
}

func TestCreateChecklistDuplicateCode(t *testing.T) {
	f := setup(t, Options{})
	f.createChecklist(t, weekly("DUP"))
	_, err := f.engine.CreateChecklist(ctx, weekly("DUP"), created)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "code" {
		t.Errorf("err = %v, want code validation error", err)
	}
}

func TestTickAdvancesWeeklyCycle(t *testing.T) {
	f := setup(t, Options{})
	c := f.createChecklist(t, weekly("FE-01"))

	report := f.tick(t, cycle1.Add(30*time.Minute))
	if report.Dispatched != 1 || report.Generated != 1 {
		t.Errorf("report = %+v, want 1 dispatched and 1 generated", report)
	}

	got, _ := f.engine.GetChecklist(c.ID)
	if got.NextDueAt == nil || !got.NextDueAt.Equal(cycle2) {
		t.Errorf("next_due_at = %v, want %v", got.NextDueAt, cycle2)
	}
	if got.LastDueAt == nil || !got.LastDueAt.Equal(cycle1) {
		t.Errorf("last_due_at = %v, want %v", got.LastDueAt, cycle1)
	}

	list := f.reminders(t, c.ID)
	if len(list) != 2 {
		t.Fatalf("reminders = %d, want 2", len(list))
	}
	if list[0].Status != model.ReminderSent || !list[0].DueCycleAt.Equal(cycle1) {
		t.Errorf("first cycle reminder = %s for %v", list[0].Status, list[0].DueCycleAt)
	}
	if list[1].Status != model.ReminderScheduled || !list[1].RemindAt.Equal(cycle2.Add(-24*time.Hour)) {
		t.Errorf("second cycle reminder = %s at %v", list[1].Status, list[1].RemindAt)
	}
	if f.sender.count() != 1 {
		t.Errorf("deliveries = %d, want 1", f.sender.count())
	}
}

func TestMonthlyStartDateKeepsCallerCalendarDay(t *testing.T) {
	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	f := setup(t, Options{Location: manila})
	c := weekly("FE-MNL")
	c.FrequencyType = model.FrequencyMonthly
	c.StartDate = time.Date(2024, 1, 1, 0, 0, 0, 0, manila)
	c.AdvanceReminderOffsets = nil
	c = *f.createChecklist(t, c)

	wantStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !c.StartDate.Equal(wantStart) {
		t.Errorf("start_date = %v, want %v", c.StartDate, wantStart)
	}
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, manila)
	if c.NextDueAt == nil || !c.NextDueAt.Equal(first) {
		t.Fatalf("first next_due_at = %v, want %v", c.NextDueAt, first)
	}

	f.tick(t, time.Date(2024, 1, 1, 12, 0, 0, 0, manila))

	got, _ := f.engine.GetChecklist(c.ID)
	if !got.StartDate.Equal(wantStart) {
		t.Errorf("stored start_date = %v, want %v", got.StartDate, wantStart)
	}
	second := time.Date(2024, 2, 1, 10, 0, 0, 0, manila)
	if got.NextDueAt == nil || !got.NextDueAt.Equal(second) {
		t.Errorf("second next_due_at = %v, want %v", got.NextDueAt, second)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	f := setup(t, Options{})
	c := f.createChecklist(t, weekly("FE-01"))
	now := time.Date(2023, 12, 29, 8, 0, 0, 0, time.UTC)

	first := f.tick(t, now)
	before := f.reminders(t, c.ID)
	second := f.tick(t, now)
	after := f.reminders(t, c.ID)

	if first.Generated != 0 || second.Generated != 0 {
		t.Errorf("generated = %d then %d, want 0 (planned at create)", first.Generated, second.Generated)
	}
	if len(before) != 1 || len(after) != 1 || before[0].ID != after[0].ID {
		t.Errorf("reminders before = %+v after = %+v", before, after)
	}
}

func TestTickDoesNotBackfillDormantCycles(t *testing.T) {
	f := setup(t, Options{})
	in := weekly("DAILY")
	in.FrequencyType = model.FrequencyDaily
	in.DueTime = "09:00"
	in.AdvanceReminderOffsets = nil
	in.Triggers = []model.Trigger{{TriggerType: model.TriggerDue, Channels: model.ChannelSet{model.ChannelInApp}}}
	c := f.createChecklist(t, in)

	f.tick(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))

	got, _ := f.engine.GetChecklist(c.ID)
	want := time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC)
	if got.NextDueAt == nil || !got.NextDueAt.Equal(want) {
		t.Fatalf("next_due_at = %v, want %v", got.NextDueAt, want)
	}

	list := f.reminders(t, c.ID)
	if len(list) != 2 {
		t.Fatalf("reminders = %d, want 2 (first and current cycle only)", len(list))
	}
	if !list[0].DueCycleAt.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)) || !list[1].DueCycleAt.Equal(want) {
		t.Errorf("cycles = %v, %v", list[0].DueCycleAt, list[1].DueCycleAt)
	}
}

func TestTickContinuesPastBrokenChecklist(t *testing.T) {
	f := setup(t, Options{})
	broken := f.createChecklist(t, weekly("BROKEN"))
	ok := f.createChecklist(t, weekly("OK"))
	if _, err := f.db.Exec(`UPDATE checklists SET due_time = '99:99' WHERE id = ?`, broken.ID); err != nil {
		t.Fatalf("corrupt checklist: %v", err)
	}

	report, err := f.engine.Tick(ctx, cycle1.Add(time.Hour))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Errors != 1 {
		t.Errorf("errors = %d, want 1", report.Errors)
	}
	got, _ := f.engine.GetChecklist(ok.ID)
	if got.NextDueAt == nil || !got.NextDueAt.Equal(cycle2) {
		t.Errorf("healthy checklist next_due_at = %v, want %v", got.NextDueAt, cycle2)
	}
}

func TestRequiresAcknowledgementHoldsCycle(t *testing.T) {
	f := setup(t, Options{})
	in := weekly("ACK")
	in.RequiresAcknowledgment = true
	in.EscalateToRole = "manager"
	in.EscalationOffsetHours = 6
	in.Triggers = []model.Trigger{{TriggerType: model.TriggerDue, Channels: model.ChannelSet{model.ChannelEmail}}}
	c := f.createChecklist(t, in)

	f.tick(t, cycle1.Add(time.Hour))
	got, _ := f.engine.GetChecklist(c.ID)
	if !got.NextDueAt.Equal(cycle1) {
		t.Fatalf("next_due_at = %v, want held at %v", got.NextDueAt, cycle1)
	}
	if n, _ := f.engine.OverdueCount(cycle1.Add(time.Hour)); n != 1 {
		t.Errorf("overdue = %d, want 1", n)
	}

	done, err := f.engine.CompleteCycle(ctx, c.ID, cycle1.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("complete cycle: %v", err)
	}
	if !done.NextDueAt.Equal(cycle2) || !done.LastDueAt.Equal(cycle1) {
		t.Errorf("cycle = %v / %v, want %v / %v", done.NextDueAt, done.LastDueAt, cycle2, cycle1)
	}
	if n, _ := f.engine.OverdueCount(cycle1.Add(2 * time.Hour)); n != 0 {
		t.Errorf("overdue after completion = %d, want 0", n)
	}

	report := f.tick(t, cycle1.Add(7*time.Hour))
	if len(report.Escalated) != 0 {
		t.Errorf("escalated %v after the cycle was completed", report.Escalated)
	}
}

func TestChecklistEscalationWithoutDueTrigger(t *testing.T) {
	f := setup(t, Options{})
	in := weekly("ESC")
	manager := int64(2)
	in.AdvanceReminderOffsets = nil
	in.EscalateToUserID = &manager
	in.EscalationOffsetHours = 6
	c := f.createChecklist(t, in)

	list := f.reminders(t, c.ID)
	if len(list) != 1 || list[0].SourceKey != "due" || !list[0].AutoEscalate {
		t.Fatalf("reminders = %+v, want one auto-escalating due reminder", list)
	}

	f.tick(t, cycle1.Add(5*time.Minute))
	report := f.tick(t, cycle1.Add(7*time.Hour))
	if len(report.Escalated) != 1 || report.Escalated[0] != list[0].ID {
		t.Errorf("escalated = %v, want [%d]", report.Escalated, list[0].ID)
	}
}

func TestCompleteCycleTwiceIsRejected(t *testing.T) {
	f := setup(t, Options{})
	in := weekly("ONCE")
	in.IsRecurring = false
	c := f.createChecklist(t, in)

	done, err := f.engine.CompleteCycle(ctx, c.ID, cycle1)
	if err != nil {
		t.Fatalf("complete cycle: %v", err)
	}
	if done.NextDueAt != nil {
		t.Errorf("one-off next_due_at = %v, want nil", done.NextDueAt)
	}
	if _, err := f.engine.CompleteCycle(ctx, c.ID, cycle1); !errors.Is(err, ErrValidation) {
		t.Errorf("second completion err = %v, want ErrValidation", err)
	}
	if _, err := f.engine.CompleteCycle(ctx, 999, cycle1); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown checklist err = %v, want ErrNotFound", err)
	}
}

func TestArchiveChecklistAggregates(t *testing.T) {
	f := setup(t, Options{})
	c := f.createChecklist(t, weekly("FE-01"))
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

	due, err := f.engine.DueThisWeek(now)
	if err != nil || len(due) != 1 || !due[0].Overdue || !due[0].DueAt.Equal(cycle1) {
		t.Fatalf("due this week = %+v, %v", due, err)
	}
	if n, _ := f.engine.OverdueCount(now); n != 1 {
		t.Errorf("overdue = %d, want 1", n)
	}

	if archived, err := f.engine.ArchiveChecklist(ctx, c.ID, now); err != nil || !archived {
		t.Fatalf("archive = %v, %v", archived, err)
	}
	if due, _ := f.engine.DueThisWeek(now); len(due) != 0 {
		t.Errorf("due this week after archive = %d, want 0", len(due))
	}
	if n, _ := f.engine.OverdueCount(now); n != 0 {
		t.Errorf("overdue after archive = %d, want 0", n)
	}
	for _, r := range f.reminders(t, c.ID) {
		if r.Status != model.ReminderScheduled {
			t.Errorf("reminder %d status = %s, want untouched without cascade", r.ID, r.Status)
		}
	}

	if restored, err := f.engine.RestoreChecklist(c.ID, now); err != nil || !restored {
		t.Fatalf("restore = %v, %v", restored, err)
	}
	got, _ := f.engine.GetChecklist(c.ID)
	if got.Archived() || !got.NextDueAt.Equal(cycle1) {
		t.Errorf("restored checklist archived=%v next_due_at=%v", got.Archived(), got.NextDueAt)
	}
	if due, _ := f.engine.DueThisWeek(now); len(due) != 1 {
		t.Errorf("due this week after restore = %d, want 1", len(due))
	}
}

func TestArchiveChecklistCascade(t *testing.T) {
	f := setup(t, Options{ArchiveCascade: true})
	c := f.createChecklist(t, weekly("FE-01"))

	if _, err := f.engine.ArchiveChecklist(ctx, c.ID, created.Add(time.Hour)); err != nil {
		t.Fatalf("archive: %v", err)
	}
	list := f.reminders(t, c.ID)
	if len(list) != 1 || list[0].Status != model.ReminderCancelled {
		t.Fatalf("reminders = %+v, want one cancelled", list)
	}
	evs, _ := f.engine.ReminderEvents(list[0].ID)
	if len(evs) != 1 || evs[0].EventType != model.EventCancelled {
		t.Errorf("events = %+v", evs)
	}
	if _, err := f.engine.ArchiveChecklist(ctx, 999, created); !errors.Is(err, ErrNotFound) {
		t.Errorf("archive unknown err = %v, want ErrNotFound", err)
	}
}

func TestUpdateScheduleRetiresDrafts(t *testing.T) {
	f := setup(t, Options{})
	in := weekly("FE-01")
	in.AdvanceReminderOffsets = []int{24, 48}
	c := f.createChecklist(t, in)
	if n := len(f.reminders(t, c.ID)); n != 2 {
		t.Fatalf("reminders = %d, want 2", n)
	}
	now := created.Add(time.Hour)

	u := scheduleOf(*c)
	u.AdvanceReminderOffsets = []int{24}
	if _, err := f.engine.UpdateChecklistSchedule(ctx, c.ID, u, now); err != nil {
		t.Fatalf("update offsets: %v", err)
	}
	status := map[string]model.ReminderStatus{}
	for _, r := range f.reminders(t, c.ID) {
		status[r.SourceKey] = r.Status
	}
	if status["offset:24"] != model.ReminderScheduled || status["offset:48"] != model.ReminderCancelled {
		t.Errorf("statuses = %v", status)
	}

	u.DueTime = "14:00"
	got, err := f.engine.UpdateChecklistSchedule(ctx, c.ID, u, now)
	if err != nil {
		t.Fatalf("update due time: %v", err)
	}
	moved := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	if !got.NextDueAt.Equal(moved) {
		t.Errorf("next_due_at = %v, want %v", got.NextDueAt, moved)
	}

	var scheduled []model.Reminder
	for _, r := range f.reminders(t, c.ID) {
		if r.Status == model.ReminderScheduled {
			scheduled = append(scheduled, r)
		}
	}
	if len(scheduled) != 1 || !scheduled[0].DueCycleAt.Equal(moved) {
		t.Errorf("scheduled = %+v, want one for %v", scheduled, moved)
	}

	u.FrequencyInterval = -2
	if _, err := f.engine.UpdateChecklistSchedule(ctx, c.ID, u, now); !errors.Is(err, ErrValidation) {
		t.Errorf("invalid update err = %v, want ErrValidation", err)
	}
}

func TestUpdateScheduleReplacesTriggers(t *testing.T) {
	f := setup(t, Options{})
	in := weekly("FE-01")
	in.AdvanceReminderOffsets = nil
	in.Triggers = []model.Trigger{{TriggerType: model.TriggerAdvance, OffsetHours: 2, Channels: model.ChannelSet{model.ChannelSMS}}}
	c := f.createChecklist(t, in)
	old := f.reminders(t, c.ID)
	if len(old) != 1 {
		t.Fatalf("reminders = %d, want 1", len(old))
	}

	u := scheduleOf(*c)
	u.Triggers = &[]model.Trigger{{TriggerType: model.TriggerDue, Channels: model.ChannelSet{model.ChannelEmail}}}
	got, err := f.engine.UpdateChecklistSchedule(ctx, c.ID, u, created.Add(time.Hour))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n := len(activeTriggers(got.Triggers)); n != 1 {
		t.Errorf("active triggers = %d, want 1", n)
	}

	for _, r := range f.reminders(t, c.ID) {
		switch {
		case r.ID == old[0].ID && r.Status != model.ReminderCancelled:
			t.Errorf("retired trigger reminder status = %s", r.Status)
		case r.ID != old[0].ID && (r.ReminderType != model.ReminderDue || r.Status != model.ReminderScheduled):
			t.Errorf("new reminder = %s %s", r.ReminderType, r.Status)
		}
	}
}

func TestDispatchAtNineOhFive(t *testing.T) {
	f := setup(t, Options{})
	nine := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	user := int64(1)
	r, err := f.engine.CreateReminder(ctx, model.Reminder{
		Title:           "Renew business permit",
		DeliveryChannel: model.ChannelEmail,
		RemindAt:        nine,
		AssignedUserID:  &user,
	}, nine.Add(-time.Hour))
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	f.tick(t, nine.Add(5*time.Minute))

	got, _ := f.engine.GetReminder(r.ID)
	if got.Status != model.ReminderSent || got.SentCount != 1 {
		t.Errorf("status = %s sent_count = %d, want sent/1", got.Status, got.SentCount)
	}
	evs, _ := f.engine.ReminderEvents(r.ID)
	if len(evs) != 1 || evs[0].Channel != model.ChannelEmail || evs[0].Status != model.ReminderSent {
		t.Errorf("events = %+v, want one sent email event", evs)
	}
}

func TestEscalationThroughTick(t *testing.T) {
	f := setup(t, Options{})
	due := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	escalateAt := due.Add(6 * time.Hour)
	user := int64(1)
	r, err := f.engine.CreateReminder(ctx, model.Reminder{
		Title:           "Submit incident report",
		Priority:        model.PriorityHigh,
		DeliveryChannel: model.ChannelInApp,
		RemindAt:        due,
		DueAt:           &due,
		AutoEscalate:    true,
		EscalateAt:      &escalateAt,
		EscalateToRole:  "manager",
		AssignedUserID:  &user,
	}, due.Add(-time.Hour))
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	f.tick(t, due.Add(5*time.Minute))
	if report := f.tick(t, due.Add(5*time.Hour)); len(report.Escalated) != 0 {
		t.Errorf("escalated at T+5h: %v", report.Escalated)
	}
	if report := f.tick(t, due.Add(7*time.Hour)); len(report.Escalated) != 1 || report.Escalated[0] != r.ID {
		t.Errorf("escalated at T+7h = %v, want [%d]", report.Escalated, r.ID)
	}
	if report := f.tick(t, due.Add(7*time.Hour+5*time.Minute)); len(report.Escalated) != 0 {
		t.Errorf("escalated again: %v", report.Escalated)
	}

	got, _ := f.engine.GetReminder(r.ID)
	if got.Status != model.ReminderEscalated {
		t.Errorf("status = %s, want escalated", got.Status)
	}
	evs, _ := f.engine.ReminderEvents(r.ID)
	if len(evs) != 2 || evs[1].EventType != model.EventEscalated {
		t.Errorf("events = %+v, want delivery then escalated", evs)
	}
}

func TestCreateReminderValidation(t *testing.T) {
	f := setup(t, Options{})
	user := int64(1)
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	before := at.Add(-time.Hour)
	missing := int64(42)
	valid := func() model.Reminder {
		return model.Reminder{Title: "Permit", RemindAt: at, DueAt: &at, AssignedUserID: &user}
	}

	tests := []struct {
		name   string
		mutate func(r *model.Reminder)
		field  string
	}{
		{"missing title", func(r *model.Reminder) { r.Title = "" }, "title"},
		{"missing remind_at", func(r *model.Reminder) { r.RemindAt = time.Time{} }, "remind_at"},
		{"no assignee", func(r *model.Reminder) { r.AssignedUserID = nil }, "assigned_to"},
		{"bad priority", func(r *model.Reminder) { r.Priority = "urgent" }, "priority"},
		{"bad channel", func(r *model.Reminder) { r.DeliveryChannel = "fax" }, "delivery_channel"},
		{"escalation without time", func(r *model.Reminder) {
			r.AutoEscalate = true
			r.EscalateToRole = "manager"
		}, "escalate_at"},
		{"escalation before due", func(r *model.Reminder) {
			r.AutoEscalate = true
			r.EscalateAt = &before
			r.EscalateToRole = "manager"
		}, "escalate_at"},
		{"escalation without target", func(r *model.Reminder) {
			later := at.Add(time.Hour)
			r.AutoEscalate = true
			r.EscalateAt = &later
		}, "escalate_to"},
		{"unknown checklist", func(r *model.Reminder) { r.ChecklistID = &missing }, "checklist_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			_, err := f.engine.CreateReminder(ctx, r, before)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("err = %v, want validation error on %q", err, tt.field)
			}
		})
	}

	r := valid()
	r.DeliveryChannels = model.ChannelSet{model.ChannelInApp, model.ChannelSMS, model.ChannelSMS}
	got, err := f.engine.CreateReminder(ctx, r, before)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.DeliveryChannel != model.ChannelInApp || got.DeliveryChannels.String() != "sms" || got.Priority != model.PriorityMedium {
		t.Errorf("defaults = %s %q %s", got.DeliveryChannel, got.DeliveryChannels.String(), got.Priority)
	}
}

func TestCancelReminder(t *testing.T) {
	f := setup(t, Options{})
	user := int64(1)
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	r, _ := f.engine.CreateReminder(ctx, model.Reminder{Title: "Permit", RemindAt: at, AssignedUserID: &user}, at)

	ev, err := f.engine.CancelReminder(ctx, r.ID, at, "")
	if err != nil || ev.Status != model.ReminderCancelled {
		t.Fatalf("cancel = %+v, %v", ev, err)
	}
	if _, err := f.engine.CancelReminder(ctx, r.ID, at, ""); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("second cancel err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.engine.CancelReminder(ctx, 999, at, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown cancel err = %v, want ErrNotFound", err)
	}
}

func TestArchiveAndRestoreReminder(t *testing.T) {
	f := setup(t, Options{})
	user := int64(1)
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	r, _ := f.engine.CreateReminder(ctx, model.Reminder{Title: "Permit", RemindAt: at, AssignedUserID: &user}, at)

	if archived, err := f.engine.ArchiveReminder(ctx, r.ID, at); err != nil || !archived {
		t.Fatalf("archive = %v, %v", archived, err)
	}
	got, _ := f.engine.GetReminder(r.ID)
	if got.Status != model.ReminderCancelled || !got.Archived() {
		t.Errorf("archived reminder = %s archived=%v", got.Status, got.Archived())
	}
	if report := f.tick(t, at.Add(time.Minute)); report.Dispatched != 0 {
		t.Errorf("dispatched an archived reminder")
	}

	if restored, err := f.engine.RestoreReminder(r.ID, at); err != nil || !restored {
		t.Fatalf("restore = %v, %v", restored, err)
	}
	got, _ = f.engine.GetReminder(r.ID)
	if got.Archived() || got.Status != model.ReminderCancelled {
		t.Errorf("restored reminder = %s archived=%v", got.Status, got.Archived())
	}
	evs, _ := f.engine.ReminderEvents(r.ID)
	if len(evs) != 1 {
		t.Errorf("events = %d, want 1", len(evs))
	}
	if _, err := f.engine.RestoreReminder(999, at); !errors.Is(err, ErrNotFound) {
		t.Errorf("restore unknown err = %v, want ErrNotFound", err)
	}
}

func TestWeekStart(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	tests := []struct {
		loc  *time.Location
		now  time.Time
		want time.Time
	}{
		{time.UTC, time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.UTC, time.Date(2024, 1, 7, 23, 59, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.UTC, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
		{manila, time.Date(2024, 1, 7, 20, 0, 0, 0, time.UTC), time.Date(2024, 1, 8, 0, 0, 0, 0, manila)},
	}
	for _, tt := range tests {
		e := &Engine{opts: Options{Location: tt.loc}.withDefaults()}
		if got := e.WeekStart(tt.now); !got.Equal(tt.want) {
			t.Errorf("WeekStart(%v in %s) = %v, want %v", tt.now, tt.loc, got, tt.want)
		}
	}
}

func TestDueThisWeekWindow(t *testing.T) {
	f := setup(t, Options{})
	f.createChecklist(t, weekly("THIS"))
	next := weekly("NEXT")
	next.StartDate = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	f.createChecklist(t, next)

	due, err := f.engine.DueThisWeek(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC))
	if err != nil || len(due) != 0 {
		t.Errorf("previous week = %+v, %v", due, err)
	}
	due, _ = f.engine.DueThisWeek(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	if len(due) != 1 || due[0].Code != "THIS" || due[0].Overdue {
		t.Errorf("this week = %+v", due)
	}

	stats, err := f.engine.Stats(time.Date(2024, 1, 8, 11, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats.DueThisWeek) != 1 || stats.DueThisWeek[0].Code != "NEXT" || stats.OverdueCount != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

type fakeExporter struct {
	events []model.ReminderEvent
}

func (x *fakeExporter) Export(ctx context.Context, from, to time.Time, events []model.ReminderEvent) (string, error) {
	x.events = events
	return "s3://audit/export.jsonl.enc", nil
}

func TestExportAudit(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	user := int64(1)

	f := setup(t, Options{})
	if _, err := f.engine.ExportAudit(ctx, at, at.Add(time.Hour)); !errors.Is(err, ErrAuditDisabled) {
		t.Errorf("err = %v, want ErrAuditDisabled", err)
	}

	x := &fakeExporter{}
	f = setup(t, Options{}, WithAuditExporter(x))
	r, _ := f.engine.CreateReminder(ctx, model.Reminder{Title: "Permit", RemindAt: at, AssignedUserID: &user}, at)
	f.engine.CancelReminder(ctx, r.ID, at, "")

	if _, err := f.engine.ExportAudit(ctx, at, at); !errors.Is(err, ErrValidation) {
		t.Errorf("empty range err = %v, want ErrValidation", err)
	}
	out, err := f.engine.ExportAudit(ctx, at, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out.Events != 1 || len(x.events) != 1 || out.Location == "" {
		t.Errorf("export = %+v, exported %d events", out, len(x.events))
	}
}
