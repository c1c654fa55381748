package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/sms"
	"github.com/reancirl/car-erp-sub006/internal/store"
)

// DirectoryHandler maintains the local mirror of dashboard users that
// reminders are delivered to.
type DirectoryHandler struct {
	users  *store.DirectoryStore
	logger *slog.Logger
}

func NewDirectoryHandler(users *store.DirectoryStore, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{users: users, logger: logger}
}

// Get handles GET /api/directory/users/{id}
func (h *DirectoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badID(w)
		return
	}
	u, err := h.users.GetByID(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get user")
		return
	}
	if u == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Put handles PUT /api/directory/users/{id}
func (h *DirectoryHandler) Put(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil || id <= 0 {
		badID(w)
		return
	}
	var req model.DirectoryUser
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}
	req.ID = id
	req.Name = strings.TrimSpace(req.Name)
	req.Role = strings.TrimSpace(req.Role)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required", "field": "name"})
		return
	}
	if req.Phone != "" {
		phone, err := sms.Normalize(req.Phone)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone: " + err.Error(), "field": "phone"})
			return
		}
		req.Phone = phone
	}

	if err := h.users.Upsert(req); err != nil {
		writeError(w, h.logger, err, "failed to save user")
		return
	}
	writeJSON(w, http.StatusOK, req)
}
