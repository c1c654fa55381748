package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/clock"
	"github.com/reancirl/car-erp-sub006/internal/engine"
	"github.com/reancirl/car-erp-sub006/internal/model"
)

type tickRunner interface {
	RunOnce(ctx context.Context) (engine.TickReport, error)
}

// DashboardHandler serves the aggregates, the manual tick and the audit export.
type DashboardHandler struct {
	engine *engine.Engine
	ticks  tickRunner
	clock  clock.Clock
	logger *slog.Logger
}

func NewDashboardHandler(e *engine.Engine, ticks tickRunner, c clock.Clock, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{engine: e, ticks: ticks, clock: c, logger: logger}
}

// Stats handles GET /api/stats. An RFC 3339 ?at= evaluates the aggregates
// at another instant.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at must be an RFC 3339 timestamp"})
			return
		}
		now = at
	}

	stats, err := h.engine.Stats(now)
	if err != nil {
		writeError(w, h.logger, err, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type tickResponse struct {
	engine.TickReport
	Error string `json:"error,omitempty"`
}

// Tick handles POST /api/tick. Stage failures are reported alongside the
// counts; the tick itself always completes.
func (h *DashboardHandler) Tick(w http.ResponseWriter, r *http.Request) {
	report, err := h.ticks.RunOnce(r.Context())
	resp := tickResponse{TickReport: report}
	if err != nil {
		h.logger.Warn("manual tick", "error", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type exportRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ExportAudit handles POST /api/audit/export
func (h *DashboardHandler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}
	if req.From.IsZero() || req.To.IsZero() {
		writeError(w, h.logger, model.Invalid("from", "from and to are required"), "")
		return
	}

	export, err := h.engine.ExportAudit(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, h.logger, err, "failed to export audit log")
		return
	}
	writeJSON(w, http.StatusCreated, export)
}
