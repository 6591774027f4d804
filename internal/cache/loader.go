package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/stemsi/exstem-proctoring/internal/metrics"
)

// flights collapses concurrent misses on the same key of the same store.
var flights singleflight.Group

// GetJSON decodes the entry stored under key into dst. It reports false on a
// miss or on an entry that no longer decodes.
func GetJSON(ctx context.Context, s Store, scope, key string, dst any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			metrics.CacheLookups.WithLabelValues(scope, "miss").Inc()
			return false, nil
		}
		return false, fmt.Errorf("read %s cache: %w", scope, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.CacheLookups.WithLabelValues(scope, "miss").Inc()
		return false, nil
	}
	metrics.CacheLookups.WithLabelValues(scope, "hit").Inc()
	return true, nil
}

// SetJSON encodes value and stores it under key. Any failure is reported as
// ErrWrite.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrWrite, key, err)
	}
	if err := s.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, key, err)
	}
	return nil
}

// Load returns the cached value for key, computing and storing it on a miss.
// Concurrent callers missing the same key share one computation.
func Load[T any](ctx context.Context, s Store, scope, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var cached T
	ok, err := GetJSON(ctx, s, scope, key, &cached)
	if err != nil {
		return cached, err
	}
	if ok {
		return cached, nil
	}

	v, err, _ := flights.Do(s.Namespace()+"|"+key, func() (any, error) {
		fresh, err := compute(ctx)
		if err != nil {
			return fresh, err
		}
		if err := SetJSON(ctx, s, key, fresh, ttl); err != nil {
			return fresh, err
		}
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}
