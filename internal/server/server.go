package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/reancirl/car-erp-sub006/internal/clock"
	"github.com/reancirl/car-erp-sub006/internal/engine"
	"github.com/reancirl/car-erp-sub006/internal/handler"
	"github.com/reancirl/car-erp-sub006/internal/middleware"
	"github.com/reancirl/car-erp-sub006/internal/push"
	"github.com/reancirl/car-erp-sub006/internal/scheduler"
	"github.com/reancirl/car-erp-sub006/internal/store"
	ws "github.com/reancirl/car-erp-sub006/internal/websocket"
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	checklistH  *handler.ChecklistHandler
	reminderH   *handler.ReminderHandler
	dashboardH  *handler.DashboardHandler
	directoryH  *handler.DirectoryHandler
	pushH       *handler.PushHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// New wires the HTTP surface. pushSvc may be nil when Web Push is not
// configured; the push routes are then not registered. tickPerMinute bounds
// manual ticks per client IP.
func New(db *sql.DB, eng *engine.Engine, sched *scheduler.Scheduler, hub *ws.Hub, c clock.Clock, pushSvc *push.Service, tickPerMinute int, logger *slog.Logger) *Server {
	directoryStore := store.NewDirectoryStore(db)

	var pushH *handler.PushHandler
	if pushSvc != nil && pushSvc.Configured() {
		pushH = handler.NewPushHandler(store.NewPushStore(db), directoryStore, pushSvc, logger.With("component", "push_handler"))
	}

	return &Server{
		db:          db,
		hub:         hub,
		checklistH:  handler.NewChecklistHandler(eng, c, hub, logger.With("component", "checklist")),
		reminderH:   handler.NewReminderHandler(eng, c, hub, logger.With("component", "reminder")),
		dashboardH:  handler.NewDashboardHandler(eng, sched, c, logger.With("component", "dashboard")),
		directoryH:  handler.NewDirectoryHandler(directoryStore, logger.With("component", "directory")),
		pushH:       pushH,
		rateLimiter: middleware.NewRateLimiter(rate.Limit(float64(tickPerMinute)/60), tickPerMinute),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	// Checklist API routes
	mux.HandleFunc("POST /api/checklists", s.checklistH.Create)
	mux.HandleFunc("GET /api/checklists/{id}", s.checklistH.Get)
	mux.HandleFunc("GET /api/checklists/{id}/reminders", s.checklistH.Reminders)
	mux.HandleFunc("PUT /api/checklists/{id}/schedule", s.checklistH.UpdateSchedule)
	mux.HandleFunc("DELETE /api/checklists/{id}", s.checklistH.Archive)
	mux.HandleFunc("POST /api/checklists/{id}/restore", s.checklistH.Restore)
	mux.HandleFunc("POST /api/checklists/{id}/complete", s.checklistH.Complete)

	// Reminder API routes
	mux.HandleFunc("POST /api/reminders", s.reminderH.Create)
	mux.HandleFunc("GET /api/reminders/{id}", s.reminderH.Get)
	mux.HandleFunc("DELETE /api/reminders/{id}", s.reminderH.Archive)
	mux.HandleFunc("POST /api/reminders/{id}/restore", s.reminderH.Restore)
	mux.HandleFunc("POST /api/reminders/{id}/cancel", s.reminderH.Cancel)
	mux.HandleFunc("GET /api/reminders/{id}/events", s.reminderH.Events)

	// Dashboard and operations
	mux.HandleFunc("GET /api/stats", s.dashboardH.Stats)
	mux.HandleFunc("POST /api/tick", s.rateLimitedHandler(s.dashboardH.Tick))
	mux.HandleFunc("POST /api/audit/export", s.dashboardH.ExportAudit)

	// Directory mirror
	mux.HandleFunc("GET /api/directory/users/{id}", s.directoryH.Get)
	mux.HandleFunc("PUT /api/directory/users/{id}", s.directoryH.Put)

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	}

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = "database unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"clients": s.hub.ClientCount(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
