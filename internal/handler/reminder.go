package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/reancirl/car-erp-sub006/internal/clock"
	"github.com/reancirl/car-erp-sub006/internal/engine"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/websocket"
)

type ReminderHandler struct {
	engine *engine.Engine
	clock  clock.Clock
	hub    broadcaster
	logger *slog.Logger
}

func NewReminderHandler(e *engine.Engine, c clock.Clock, hub broadcaster, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{engine: e, clock: c, hub: hub, logger: logger}
}

func (h *ReminderHandler) broadcast(action string, id int64) {
	if h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage("reminder", action, id, nil))
	}
}

// Create handles POST /api/reminders
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.Reminder
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}

	rem, err := h.engine.CreateReminder(r.Context(), req, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to create reminder")
		return
	}

	h.broadcast("created", rem.ID)
	writeJSON(w, http.StatusCreated, rem)
}

// Get handles GET /api/reminders/{id}
func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	rem, err := h.engine.GetReminder(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get reminder")
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

// Events handles GET /api/reminders/{id}/events
func (h *ReminderHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	evs, err := h.engine.ReminderEvents(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to list reminder events")
		return
	}
	if evs == nil {
		evs = []model.ReminderEvent{}
	}
	writeJSON(w, http.StatusOK, evs)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /api/reminders/{id}/cancel. The body is optional.
func (h *ReminderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badJSON(w)
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}

	ev, err := h.engine.CancelReminder(r.Context(), id, h.clock.Now(), req.Reason)
	if err != nil {
		writeError(w, h.logger, err, "failed to cancel reminder")
		return
	}

	h.broadcast("cancelled", id)
	writeJSON(w, http.StatusOK, ev)
}

// Archive handles DELETE /api/reminders/{id}
func (h *ReminderHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	archived, err := h.engine.ArchiveReminder(r.Context(), id, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to archive reminder")
		return
	}
	if archived {
		h.broadcast("archived", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles POST /api/reminders/{id}/restore
func (h *ReminderHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	restored, err := h.engine.RestoreReminder(id, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to restore reminder")
		return
	}
	if restored {
		h.broadcast("restored", id)
	}
	rem, err := h.engine.GetReminder(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get reminder")
		return
	}
	writeJSON(w, http.StatusOK, rem)
}
