package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/reancirl/car-erp-sub006/internal/clock"
	"github.com/reancirl/car-erp-sub006/internal/engine"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/websocket"
)

type ChecklistHandler struct {
	engine *engine.Engine
	clock  clock.Clock
	hub    broadcaster
	logger *slog.Logger
}

func NewChecklistHandler(e *engine.Engine, c clock.Clock, hub broadcaster, logger *slog.Logger) *ChecklistHandler {
	return &ChecklistHandler{engine: e, clock: c, hub: hub, logger: logger}
}

func (h *ChecklistHandler) broadcast(action string, id int64) {
	if h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage("checklist", action, id, nil))
	}
}

// Create handles POST /api/checklists
func (h *ChecklistHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.Checklist
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}

	c, err := h.engine.CreateChecklist(r.Context(), req, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to create checklist")
		return
	}

	h.broadcast("created", c.ID)
	writeJSON(w, http.StatusCreated, c)
}

// Get handles GET /api/checklists/{id}
func (h *ChecklistHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	c, err := h.engine.GetChecklist(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get checklist")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Reminders handles GET /api/checklists/{id}/reminders
func (h *ChecklistHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	reminders, err := h.engine.ChecklistReminders(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to list reminders")
		return
	}
	if reminders == nil {
		reminders = []model.Reminder{}
	}
	writeJSON(w, http.StatusOK, reminders)
}

// UpdateSchedule handles PUT /api/checklists/{id}/schedule
func (h *ChecklistHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	var req engine.ScheduleUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}

	c, err := h.engine.UpdateChecklistSchedule(r.Context(), id, req, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to update schedule")
		return
	}

	h.broadcast("updated", c.ID)
	writeJSON(w, http.StatusOK, c)
}

// Archive handles DELETE /api/checklists/{id}
func (h *ChecklistHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	archived, err := h.engine.ArchiveChecklist(r.Context(), id, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to archive checklist")
		return
	}
	if archived {
		h.broadcast("archived", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles POST /api/checklists/{id}/restore
func (h *ChecklistHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	restored, err := h.engine.RestoreChecklist(id, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to restore checklist")
		return
	}
	if restored {
		h.broadcast("restored", id)
	}
	c, err := h.engine.GetChecklist(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get checklist")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Complete handles POST /api/checklists/{id}/complete
func (h *ChecklistHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	c, err := h.engine.CompleteCycle(r.Context(), id, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to complete cycle")
		return
	}
	h.broadcast("completed", id)
	writeJSON(w, http.StatusOK, c)
}
