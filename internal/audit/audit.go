// Package audit receives records of failed calls to the proctoring vendor.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctoring/internal/config"
)

// Failure describes one failed remote call.
type Failure struct {
	UserID     int       `json:"user_id"`
	AppID      string    `json:"app_id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	// Attempts counts failed inserts by the persistence worker.
	Attempts int `json:"attempts,omitempty"`
}

// Sink accepts failure records.
type Sink interface {
	Report(ctx context.Context, f Failure) error
}

// LogSink writes failures to the structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Report(_ context.Context, f Failure) error {
	s.log.Warn().
		Int("user_id", f.UserID).
		Str("app_id", f.AppID).
		Str("method", f.Method).
		Str("url", f.URL).
		Int("status_code", f.StatusCode).
		Str("message", f.Message).
		Msg("Remote call failed")
	return nil
}

// QueueSink pushes failures onto the Redis list drained by the failure worker.
// The record is logged as well so it is visible before it is persisted.
type QueueSink struct {
	rdb *redis.Client
	log *LogSink
}

func NewQueueSink(rdb *redis.Client, log zerolog.Logger) *QueueSink {
	return &QueueSink{rdb: rdb, log: NewLogSink(log)}
}

func (s *QueueSink) Report(ctx context.Context, f Failure) error {
	_ = s.log.Report(ctx, f)

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode failure record: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistRemoteFailuresQueue, data).Err(); err != nil {
		return fmt.Errorf("queue failure record: %w", err)
	}
	return nil
}
