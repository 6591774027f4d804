package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyIsStable(t *testing.T) {
	a := Key("participants", "/course/{courseid}/participants", "app", map[string]any{"courseid": 9, "limit": 0})
	b := Key("participants", "/course/{courseid}/participants", "app", map[string]any{"limit": 0, "courseid": 9})
	if a != b {
		t.Errorf("expected identical keys for reordered params, got %q and %q", a, b)
	}

	c := Key("participants", "/course/{courseid}/participants", "app", map[string]any{"courseid": 10})
	if a == c {
		t.Error("expected different keys for different params")
	}

	d := Key("participant", "/course/{courseid}/participants", "app", map[string]any{"courseid": 9, "limit": 0})
	if a == d {
		t.Error("expected namespace to be part of the key")
	}
}

func TestKeySeparatesParts(t *testing.T) {
	if Key("ns", "ab", "c") == Key("ns", "a", "bc") {
		t.Error("expected part boundaries to affect the key")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("expected v, got %q (%v)", got, err)
	}

	added, err := m.Add(ctx, "k", []byte("other"), 0)
	if err != nil || added {
		t.Errorf("expected Add on existing key to report false, got %v (%v)", added, err)
	}
	added, err = m.Add(ctx, "fresh", []byte("x"), time.Minute)
	if err != nil || !added {
		t.Errorf("expected Add on new key to report true, got %v (%v)", added, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after delete, got %v", err)
	}
}

func TestMemoryNamespacesDiffer(t *testing.T) {
	if NewMemory(0).Namespace() == NewMemory(0).Namespace() {
		t.Error("expected distinct namespaces for distinct stores")
	}
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestLoadComputesOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	var calls int32

	compute := func(context.Context) (*payload, error) {
		atomic.AddInt32(&calls, 1)
		return &payload{Name: "p", Count: 3}, nil
	}

	first, err := Load(ctx, m, ScopeRequest, "k", 0, compute)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := Load(ctx, m, ScopeRequest, "k", 0, compute)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected 1 computation, got %d", calls)
	}
	if *first != *second {
		t.Errorf("expected equal results, got %+v and %+v", first, second)
	}
}

func TestLoadCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	var calls int32
	release := make(chan struct{})

	compute := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := Load(ctx, m, ScopeRequest, "shared", 0, compute); err != nil || v != 7 {
				t.Errorf("expected 7, got %d (%v)", v, err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls < 1 || calls > 5 {
		t.Fatalf("unexpected computation count %d", calls)
	}
	if v, _ := Load(ctx, m, ScopeRequest, "shared", 0, compute); v != 7 {
		t.Errorf("expected cached 7, got %d", v)
	}
}

func TestLoadDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	boom := errors.New("boom")

	if _, err := Load(ctx, m, ScopeRequest, "k", 0, func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, err := Load(ctx, m, ScopeRequest, "k", 0, func(context.Context) (int, error) { return 4, nil })
	if err != nil || v != 4 {
		t.Errorf("expected recomputed 4, got %d (%v)", v, err)
	}
}

type failingStore struct{ *Memory }

func (f failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("disk full")
}

func TestLoadWriteFailureIsFatal(t *testing.T) {
	s := failingStore{NewMemory(0)}
	_, err := Load(context.Background(), s, ScopeSession, "k", 0, func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrWrite) {
		t.Errorf("expected ErrWrite, got %v", err)
	}
}

func TestContextScopes(t *testing.T) {
	ctx := context.Background()
	if RequestFrom(ctx) != nil {
		t.Error("expected no request scope on a bare context")
	}

	fallback := NewMemory(0)
	if SessionFrom(ctx, fallback) != Store(fallback) {
		t.Error("expected fallback session store")
	}

	req := NewMemory(0)
	sess := NewMemory(0)
	ctx = WithSession(Begin(ctx, req), sess)
	if RequestFrom(ctx) != Store(req) {
		t.Error("expected attached request store")
	}
	if SessionFrom(ctx, fallback) != Store(sess) {
		t.Error("expected attached session store")
	}
}
