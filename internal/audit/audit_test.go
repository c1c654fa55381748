package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func testExporter(client s3Client) *Exporter {
	return &Exporter{
		client:     client,
		bucket:     "compliance-audit",
		prefix:     "events",
		passphrase: "correct horse",
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestNewExporterRequiresConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewExporter(Config{}, logger); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("empty config err = %v, want ErrNotConfigured", err)
	}
	cfg := Config{S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s", Region: "us-east-1"}}
	if _, err := NewExporter(cfg, logger); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing passphrase err = %v, want ErrNotConfigured", err)
	}
	cfg.Passphrase = "secret"
	x, err := NewExporter(cfg, logger)
	if err != nil || x == nil {
		t.Fatalf("NewExporter = %v, %v", x, err)
	}
}

func TestExportAndFetch(t *testing.T) {
	mock := newMockS3()
	x := testExporter(mock)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	events := []model.ReminderEvent{
		{ID: 1, ReminderID: 7, EventType: model.EventDelivery, Status: model.ReminderSent, Channel: model.ChannelEmail, ProcessedAt: from.Add(time.Hour)},
		{ID: 2, ReminderID: 7, EventType: model.EventEscalated, Status: model.ReminderEscalated, ProcessedAt: from.Add(7 * time.Hour), Message: "escalated to role manager"},
	}

	location, err := x.Export(context.Background(), from, to, events)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	key := "events/events-2024-01-01T000000Z-2024-01-02T000000Z.jsonl.enc"
	if location != "s3://compliance-audit/"+key {
		t.Errorf("location = %q", location)
	}
	stored := mock.objects[key]
	if len(stored) == 0 || bytes.Contains(stored, []byte("escalated")) {
		t.Fatalf("stored object missing or not encrypted (%d bytes)", len(stored))
	}

	got, err := x.Fetch(context.Background(), key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 || got[1].Message != "escalated to role manager" || !got[0].ProcessedAt.Equal(events[0].ProcessedAt) {
		t.Errorf("fetched = %+v", got)
	}
}

func TestExportUploadError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("access denied")
	x := testExporter(mock)
	now := time.Now()
	_, err := x.Export(context.Background(), now, now.Add(time.Hour), nil)
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("err = %v, want upload error", err)
	}
}

func TestKeyWithoutPrefix(t *testing.T) {
	x := testExporter(newMockS3())
	x.prefix = ""
	from := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("PHT", 8*3600))
	if got := x.Key(from, from.Add(time.Hour)); got != "events-2024-03-01T043000Z-2024-03-01T053000Z.jsonl.enc" {
		t.Errorf("key = %q", got)
	}
}
