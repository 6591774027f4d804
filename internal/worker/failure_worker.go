package worker

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/audit"
	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/metrics"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
	// MaxInsertAttempts moves a record to the dead-letter list once it has
	// failed this many single inserts.
	MaxInsertAttempts = 5
)

// FailureStore persists failure records.
type FailureStore interface {
	CopyMany(ctx context.Context, failures []audit.Failure) error
	Insert(ctx context.Context, f audit.Failure) error
}

// FailureWorker drains the remote failure queue filled by audit.QueueSink
// into the remote_call_failures table.
type FailureWorker struct {
	store FailureStore
	rdb   *redis.Client
	log   zerolog.Logger
}

func NewFailureWorker(store FailureStore, rdb *redis.Client, log zerolog.Logger) *FailureWorker {
	return &FailureWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "failure_worker").Logger(),
	}
}

func (w *FailureWorker) Start(ctx context.Context) {
	w.log.Info().Msg("FailureWorker started")

	buffer := make([]audit.Failure, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// Returns immediately when data is queued, otherwise after PollTimeout.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistRemoteFailuresQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var f audit.Failure
		if err := json.Unmarshal([]byte(result[1]), &f); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed failure record")
			continue
		}
		buffer = append(buffer, f)
	}
}

// flushSafe tries a bulk COPY first, then row by row, then requeues or
// dead-letters what is left.
func (w *FailureWorker) flushSafe(ctx context.Context, batch []audit.Failure) {
	if err := w.store.CopyMany(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	metrics.RemoteFailuresPersisted.Add(float64(len(batch)))
}

func (w *FailureWorker) fallbackInsert(ctx context.Context, batch []audit.Failure) {
	failed := make([]audit.Failure, 0)
	for _, f := range batch {
		if err := w.store.Insert(ctx, f); err != nil {
			w.log.Error().Err(err).Str("url", f.URL).Int("attempts", f.Attempts+1).Msg("Insert failed")
			failed = append(failed, f)
			continue
		}
		metrics.RemoteFailuresPersisted.Inc()
	}
	if len(failed) == 0 {
		return
	}
	retry, dead := splitByAttempts(failed)
	if len(dead) > 0 {
		w.push(ctx, config.WorkerKey.DeadRemoteFailuresQueue, dead)
		w.log.Error().Int("count", len(dead)).Msg("Failure records exhausted their insert attempts, moved to dead-letter list")
	}
	if len(retry) > 0 {
		if w.push(ctx, config.WorkerKey.PersistRemoteFailuresQueue, retry) {
			w.log.Info().Int("count", len(retry)).Msg("Requeued failure records")
			// Back off while the database is down.
			time.Sleep(2 * time.Second)
		}
	}
}

// splitByAttempts bumps the attempt count of every failed record and
// separates the ones still worth retrying from the exhausted ones.
func splitByAttempts(failed []audit.Failure) (retry, dead []audit.Failure) {
	for _, f := range failed {
		f.Attempts++
		if f.Attempts >= MaxInsertAttempts {
			dead = append(dead, f)
			continue
		}
		retry = append(retry, f)
	}
	return retry, dead
}

func (w *FailureWorker) push(ctx context.Context, key string, items []audit.Failure) bool {
	pipe := w.rdb.Pipeline()
	for _, f := range items {
		data, _ := json.Marshal(f)
		pipe.RPush(ctx, key, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Str("queue", key).Int("count", len(items)).Msg("CRITICAL: Failed to push failure records. Data loss occurred.")
		return false
	}
	return true
}

func (w *FailureWorker) shutdown(buffer []audit.Failure) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
