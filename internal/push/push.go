package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/reancirl/car-erp-sub006/internal/model"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrExpired is returned when a push subscription is no longer valid (404/410).
var ErrExpired = errors.New("push subscription expired")

// ErrNotConfigured is returned when VAPID keys are missing.
var ErrNotConfigured = errors.New("push service not configured")

// Payload is the JSON sent to the push service.
type Payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url,omitempty"`
	Tag        string `json:"tag,omitempty"`
	ReminderID int64  `json:"reminder_id,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

// Service handles sending web push notifications.
type Service struct {
	publicKey  string
	privateKey string
	subscriber string
	httpClient webpush.HTTPClient
}

type Option func(*Service)

// WithHTTPClient overrides the client used to reach push endpoints.
func WithHTTPClient(c webpush.HTTPClient) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

// NewService creates a push service with VAPID keys. subscriber is the
// contact (mailto: or https:) sent to push services.
func NewService(publicKey, privateKey, subscriber string, opts ...Option) *Service {
	s := &Service{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Configured() bool {
	return s.publicKey != "" && s.privateKey != ""
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}

// Send sends a push notification to a subscription.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	urgency := webpush.UrgencyNormal
	if payload.Priority == string(model.PriorityCritical) || payload.Priority == string(model.PriorityHigh) {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      s.subscriber,
		TTL:             86400,
		Topic:           payload.Tag,
		Urgency:         urgency,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes, err := key.PublicKey.ECDH()
	if err != nil {
		return "", "", fmt.Errorf("convert public key: %w", err)
	}
	privBytes := make([]byte, 32)
	key.D.FillBytes(privBytes)

	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes.Bytes())
	privateKey = base64.RawURLEncoding.EncodeToString(privBytes)

	return publicKey, privateKey, nil
}
