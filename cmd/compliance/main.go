package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/reancirl/car-erp-sub006/internal/audit"
	"github.com/reancirl/car-erp-sub006/internal/channel"
	"github.com/reancirl/car-erp-sub006/internal/clock"
	"github.com/reancirl/car-erp-sub006/internal/config"
	"github.com/reancirl/car-erp-sub006/internal/database"
	"github.com/reancirl/car-erp-sub006/internal/directory"
	"github.com/reancirl/car-erp-sub006/internal/email"
	"github.com/reancirl/car-erp-sub006/internal/engine"
	"github.com/reancirl/car-erp-sub006/internal/events"
	"github.com/reancirl/car-erp-sub006/internal/lifecycle"
	"github.com/reancirl/car-erp-sub006/internal/logging"
	"github.com/reancirl/car-erp-sub006/internal/metrics"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/push"
	"github.com/reancirl/car-erp-sub006/internal/scheduler"
	"github.com/reancirl/car-erp-sub006/internal/server"
	"github.com/reancirl/car-erp-sub006/internal/sms"
	"github.com/reancirl/car-erp-sub006/internal/store"
	ws "github.com/reancirl/car-erp-sub006/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Error("register metrics", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("invalid engine location", "location", cfg.Engine.Location, "error", err)
		os.Exit(1)
	}
	hub := ws.NewHub(logger.With("component", "websocket"))
	pushSvc := push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)

	registry := buildRegistry(cfg, db, hub, pushSvc, logger)

	publishers := events.Multi{events.NewHub(hub)}
	if cfg.Kafka.Enabled() {
		kafka := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafka.Close()
		publishers = append(publishers, kafka)
		slog.Info("publishing reminder events to kafka", "topic", cfg.Kafka.Topic)
	}

	opts := []engine.Option{
		engine.WithPublisher(events.Logged(publishers, logger.With("component", "events"))),
	}
	if cfg.Audit.Enabled() {
		exporter, err := audit.NewExporter(audit.Config{
			S3: audit.S3Config{
				Endpoint:  cfg.Audit.Endpoint,
				Bucket:    cfg.Audit.Bucket,
				Region:    cfg.Audit.Region,
				AccessKey: cfg.Audit.AccessKey,
				SecretKey: cfg.Audit.SecretKey,
			},
			Prefix:     cfg.Audit.Prefix,
			Passphrase: cfg.Audit.Passphrase,
		}, logger.With("component", "audit"))
		if err != nil {
			slog.Warn("audit export disabled", "error", err)
		} else {
			opts = append(opts, engine.WithAuditExporter(exporter))
		}
	}

	dir := directory.NewStore(store.NewDirectoryStore(db))
	eng := engine.New(db, dir, registry, engine.Options{
		Location:            loc,
		ArchiveCascade:      cfg.Engine.ArchiveCascade,
		DispatchConcurrency: cfg.Engine.DispatchConcurrency,
		DispatchBatch:       cfg.Engine.DispatchBatch,
		Policy: lifecycle.Policy{
			MaxAttempts:  cfg.Engine.MaxAttempts,
			BaseBackoff:  cfg.Engine.BaseBackoff,
			MaxBackoff:   cfg.Engine.MaxBackoff,
			ClaimTimeout: cfg.Engine.ClaimTimeout,
		},
	}, logger.With("component", "engine"), opts...)

	sched := scheduler.New(eng, clock.System{}, cfg.Scheduler.Interval, logger.With("component", "scheduler"))
	srv := server.New(db, eng, sched, hub, clock.System{}, pushSvc, cfg.Server.TickRatePerMinute, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Scheduler.Enabled {
		sched.Start(ctx)
	} else {
		slog.Info("scheduler disabled; ticks run only through POST /api/tick")
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup(time.Hour)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("compliance engine starting", "addr", addr, "tick_interval", cfg.Scheduler.Interval, "location", loc.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	sched.Stop()
	cancel()
}

// buildRegistry registers a sender for every configured channel. Each sender
// is throttled, retried on transient failures and instrumented.
func buildRegistry(cfg *config.Config, db *sql.DB, hub *ws.Hub, pushSvc *push.Service, logger *slog.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	wrap := func(ch model.Channel, provider string, s channel.Sender) channel.Sender {
		limiter := rate.NewLimiter(rate.Limit(cfg.Channels.RatePerSecond), cfg.Channels.Burst)
		return channel.Instrument(ch, provider, channel.WithRetry(ch, channel.WithRateLimit(s, limiter), cfg.Channels.Retries, cfg.Channels.RetryBase))
	}

	registry.Register(model.ChannelInApp, wrap(model.ChannelInApp, "websocket", channel.NewInAppSender(hub)))

	switch cfg.Email.Provider {
	case "sendgrid":
		mailer := email.NewSendGridMailer(cfg.Email.SendGridAPIKey, cfg.Email.FromName, cfg.Email.From, cfg.Email.SendGridHost)
		if mailer.Configured() {
			registry.Register(model.ChannelEmail, wrap(model.ChannelEmail, "sendgrid", channel.NewEmailSender(mailer)))
		}
	default:
		mailer := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From)
		if mailer.Configured() {
			registry.Register(model.ChannelEmail, wrap(model.ChannelEmail, "postmark", channel.NewEmailSender(mailer)))
		}
	}
	if !registry.Has(model.ChannelEmail) {
		slog.Warn("email channel not configured", "provider", cfg.Email.Provider)
	}

	if texter := sms.NewSender(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.From); texter.Configured() {
		registry.Register(model.ChannelSMS, wrap(model.ChannelSMS, "twilio", channel.NewSMSSender(texter)))
	} else {
		slog.Warn("sms channel not configured")
	}

	if pushSvc.Configured() {
		subs := store.NewPushStore(db)
		registry.Register(model.ChannelPush, wrap(model.ChannelPush, "webpush", channel.NewPushSender(pushSvc, subs, logger.With("component", "push"))))
	} else {
		slog.Warn("push channel not configured")
	}

	return registry
}
