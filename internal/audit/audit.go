// Package audit exports the reminder event log as encrypted JSON lines to
// S3-compatible storage.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// ErrNotConfigured is returned by NewExporter when storage or the passphrase is missing.
var ErrNotConfigured = errors.New("audit export not configured")

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3         S3Config
	Prefix     string
	Passphrase string
}

func (c Config) configured() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

// Exporter writes event batches as encrypted objects. Object keys are derived
// from the exported range, so re-exporting a range overwrites the earlier copy.
type Exporter struct {
	client     s3Client
	bucket     string
	prefix     string
	passphrase string
	logger     *slog.Logger
}

func NewExporter(cfg Config, logger *slog.Logger) (*Exporter, error) {
	if !cfg.configured() {
		return nil, ErrNotConfigured
	}
	return &Exporter{
		client:     newS3Client(cfg.S3),
		bucket:     cfg.S3.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		passphrase: cfg.Passphrase,
		logger:     logger,
	}, nil
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Key returns the object key for the range [from, to).
func (x *Exporter) Key(from, to time.Time) string {
	const layout = "2006-01-02T150405Z"
	name := fmt.Sprintf("events-%s-%s.jsonl.enc", from.UTC().Format(layout), to.UTC().Format(layout))
	if x.prefix == "" {
		return name
	}
	return x.prefix + "/" + name
}

// Export encrypts the events as JSON lines and uploads them. It returns the
// s3:// location of the object.
func (x *Exporter) Export(ctx context.Context, from, to time.Time, events []model.ReminderEvent) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return "", fmt.Errorf("encode event %d: %w", e.ID, err)
		}
	}

	sealed, err := Seal(buf.Bytes(), x.passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	key := x.Key(from, to)
	_, err = x.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(x.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	x.logger.Debug("audit object uploaded", "key", key, "bytes", len(sealed), "events", len(events))
	return "s3://" + x.bucket + "/" + key, nil
}

// Fetch downloads and decrypts an export written by Export.
func (x *Exporter) Fetch(ctx context.Context, key string) ([]model.ReminderEvent, error) {
	result, err := x.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(x.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	plain, err := Open(sealed, x.passphrase)
	if err != nil {
		return nil, err
	}

	events := []model.ReminderEvent{}
	scanner := bufio.NewScanner(bytes.NewReader(plain))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e model.ReminderEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}
