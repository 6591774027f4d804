package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/audit"
)

type fakeFailureStore struct {
	copyErr  error
	copied   int
	inserted []audit.Failure
}

func (s *fakeFailureStore) CopyMany(_ context.Context, failures []audit.Failure) error {
	if s.copyErr != nil {
		return s.copyErr
	}
	s.copied += len(failures)
	return nil
}

func (s *fakeFailureStore) Insert(_ context.Context, f audit.Failure) error {
	s.inserted = append(s.inserted, f)
	return nil
}

func sampleFailures(n int) []audit.Failure {
	out := make([]audit.Failure, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, audit.Failure{
			UserID:     i + 1,
			Method:     "GET",
			URL:        "https://vendor.example.com/api/participant",
			StatusCode: 500,
			OccurredAt: time.Unix(1700000000, 0),
		})
	}
	return out
}

func TestFlushSafeUsesBulkCopy(t *testing.T) {
	store := &fakeFailureStore{}
	w := NewFailureWorker(store, nil, zerolog.Nop())

	w.flushSafe(context.Background(), sampleFailures(3))
	if store.copied != 3 {
		t.Errorf("expected 3 copied rows, got %d", store.copied)
	}
	if len(store.inserted) != 0 {
		t.Errorf("expected no row-by-row inserts, got %d", len(store.inserted))
	}
}

func TestFlushSafeFallsBackToSingleInserts(t *testing.T) {
	store := &fakeFailureStore{copyErr: errors.New("copy failed")}
	w := NewFailureWorker(store, nil, zerolog.Nop())

	w.flushSafe(context.Background(), sampleFailures(2))
	if len(store.inserted) != 2 {
		t.Fatalf("expected 2 single inserts, got %d", len(store.inserted))
	}
	if store.inserted[1].UserID != 2 {
		t.Errorf("expected inserts in order, got user %d second", store.inserted[1].UserID)
	}
}

func TestSplitByAttemptsDeadLettersExhaustedRecords(t *testing.T) {
	failed := sampleFailures(3)
	failed[1].Attempts = MaxInsertAttempts - 1
	failed[2].Attempts = MaxInsertAttempts + 3

	retry, dead := splitByAttempts(failed)
	if len(retry) != 1 || retry[0].UserID != 1 {
		t.Fatalf("expected only user 1 to be retried, got %+v", retry)
	}
	if retry[0].Attempts != 1 {
		t.Errorf("expected the retried record to carry attempt 1, got %d", retry[0].Attempts)
	}
	if len(dead) != 2 {
		t.Fatalf("expected 2 dead records, got %d", len(dead))
	}
	if dead[0].UserID != 2 || dead[0].Attempts != MaxInsertAttempts {
		t.Errorf("unexpected dead record %+v", dead[0])
	}
	if failed[0].Attempts != 0 {
		t.Error("expected the input batch to be left untouched")
	}
}

func TestSplitByAttemptsStopsAPermanentFailure(t *testing.T) {
	batch := sampleFailures(1)
	for round := 1; round <= MaxInsertAttempts; round++ {
		retry, dead := splitByAttempts(batch)
		if round < MaxInsertAttempts {
			if len(retry) != 1 || len(dead) != 0 {
				t.Fatalf("round %d: expected a retry, got retry=%d dead=%d", round, len(retry), len(dead))
			}
			batch = retry
			continue
		}
		if len(retry) != 0 || len(dead) != 1 {
			t.Fatalf("round %d: expected the record to be dead-lettered, got retry=%d dead=%d", round, len(retry), len(dead))
		}
	}
}
