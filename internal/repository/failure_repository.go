package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctoring/internal/audit"
)

var remoteFailureColumns = []string{"user_id", "app_id", "method", "url", "status_code", "message", "occurred_at"}

// FailureRepository stores failed vendor calls.
type FailureRepository struct {
	pool *pgxpool.Pool
}

// NewFailureRepository creates a new FailureRepository.
func NewFailureRepository(pool *pgxpool.Pool) *FailureRepository {
	return &FailureRepository{pool: pool}
}

// CopyMany bulk inserts failures with COPY.
func (r *FailureRepository) CopyMany(ctx context.Context, failures []audit.Failure) error {
	rows := make([][]any, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, failureRow(f))
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"remote_call_failures"}, remoteFailureColumns, pgx.CopyFromRows(rows))
	return err
}

// Insert stores a single failure.
func (r *FailureRepository) Insert(ctx context.Context, f audit.Failure) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO remote_call_failures (user_id, app_id, method, url, status_code, message, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		failureRow(f)...)
	return err
}

// ListRecent returns failures newer than since, newest first.
func (r *FailureRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]audit.Failure, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT COALESCE(user_id, 0), app_id, method, url, status_code, message, occurred_at
		 FROM remote_call_failures WHERE occurred_at >= $1
		 ORDER BY occurred_at DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	failures := make([]audit.Failure, 0)
	for rows.Next() {
		var f audit.Failure
		if err := rows.Scan(&f.UserID, &f.AppID, &f.Method, &f.URL, &f.StatusCode, &f.Message, &f.OccurredAt); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func failureRow(f audit.Failure) []any {
	var userID any
	if f.UserID > 0 {
		userID = f.UserID
	}
	return []any{userID, f.AppID, f.Method, f.URL, f.StatusCode, f.Message, f.OccurredAt}
}
