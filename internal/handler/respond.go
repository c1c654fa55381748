package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/reancirl/car-erp-sub006/internal/engine"
	"github.com/reancirl/car-erp-sub006/internal/lifecycle"
	"github.com/reancirl/car-erp-sub006/internal/websocket"
)

type broadcaster interface {
	Broadcast(msg websocket.Message)
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to a status code. Anything unrecognized is
// logged and reported as a 500 with msg.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, msg string) {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, engine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrAuditDisabled):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		logger.Error(msg, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
	}
}

func badID(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
}

func badJSON(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
}
