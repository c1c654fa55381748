package channel

import (
	"context"
	"errors"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/metrics"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// WithRetry retries transient failures of s with exponential backoff starting
// at base, at most retries extra times. Permanent failures return at once.
func WithRetry(ch model.Channel, s Sender, retries uint64, base time.Duration) Sender {
	return SenderFunc(func(ctx context.Context, recipient Recipient, msg Message) error {
		backoff := retry.WithMaxRetries(retries, retry.NewExponential(base))
		attempt := 0
		return retry.Do(ctx, backoff, func(ctx context.Context) error {
			if attempt > 0 {
				metrics.NotificationRetriesTotal.WithLabelValues(string(ch)).Inc()
			}
			attempt++
			err := s.Send(ctx, recipient, msg)
			if err == nil || IsPermanent(err) || errors.Is(err, context.Canceled) {
				return err
			}
			return retry.RetryableError(err)
		})
	})
}

// WithRateLimit makes s wait for limiter before every send.
func WithRateLimit(s Sender, limiter *rate.Limiter) Sender {
	return SenderFunc(func(ctx context.Context, recipient Recipient, msg Message) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		return s.Send(ctx, recipient, msg)
	})
}

// Instrument records attempt counts and latency of s.
func Instrument(ch model.Channel, provider string, s Sender) Sender {
	return SenderFunc(func(ctx context.Context, recipient Recipient, msg Message) error {
		start := time.Now()
		err := s.Send(ctx, recipient, msg)
		metrics.NotificationSendDuration.WithLabelValues(provider, string(ch)).Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "failure"
		}
		metrics.NotificationsAttemptedTotal.WithLabelValues(string(ch), status, provider).Inc()
		return err
	})
}
