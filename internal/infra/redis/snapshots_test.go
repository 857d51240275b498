package redis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc/health"
	"github.com/vietddude/failover/internal/metrics"
)

type memStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	ttls   map[string]time.Duration
	fail   error
}

func newMemStore() *memStore {
	return &memStore{hashes: make(map[string]map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *memStore) WriteSnapshot(_ context.Context, id string, fields map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.hashes[id] = fields
	m.ttls[id] = ttl
	return nil
}

func (m *memStore) ReadSnapshot(_ context.Context, id string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[id]
	if !ok {
		return nil, ErrNoSnapshot
	}
	return h, nil
}

func (m *memStore) DeleteSnapshot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, id)
	return nil
}

func (m *memStore) ListSnapshots(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.hashes {
		ids = append(ids, id)
	}
	return ids, nil
}

type trackerSource struct {
	tracker *health.Tracker
}

func (s trackerSource) SessionIDs() []string { return s.tracker.Sessions() }

func (s trackerSource) GetHealthStatus(id string) (health.Snapshot, error) {
	snap, ok := s.tracker.Snapshot(id)
	if !ok {
		return nil, errors.New("unknown session")
	}
	return snap, nil
}

func newSource(t *testing.T) trackerSource {
	t.Helper()
	reg, err := domain.NewRegistry([]domain.Endpoint{
		{ID: "primary", Capabilities: []domain.Capability{domain.CapabilityLLM}},
		{ID: "backup", Priority: 1, Capabilities: []domain.Capability{domain.CapabilityLLM}},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return trackerSource{tracker: health.NewTracker(reg, health.DefaultConfig())}
}

func TestPublisher_RoundTrip(t *testing.T) {
	src := newSource(t)
	src.tracker.Open("pub-s1")
	for i := 0; i < 3; i++ {
		src.tracker.RecordOutcome("pub-s1", "backup", domain.ClassServerError)
	}

	store := newMemStore()
	pub := NewPublisher(store, src, Config{SnapshotTTL: time.Hour})
	pub.PublishAll(context.Background())

	if store.ttls["pub-s1"] != time.Hour {
		t.Fatalf("ttl = %v, want 1h", store.ttls["pub-s1"])
	}
	if got := testutil.ToFloat64(metrics.UnhealthyEndpoints.WithLabelValues("pub-s1")); got != 1 {
		t.Fatalf("unhealthy gauge = %v, want 1", got)
	}

	snap, err := NewReader(store).Load(context.Background(), "pub-s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want, _ := src.tracker.Snapshot("pub-s1")
	if len(snap) != len(want) {
		t.Fatalf("snapshot size = %d, want %d", len(snap), len(want))
	}
	b := snap["backup"]
	if b.Failures != 3 || b.ConsecutiveFailures != 3 || b.Healthy || b.LastClassification != domain.ClassServerError {
		t.Fatalf("unexpected backup counters: %+v", b)
	}
	if !b.LastFailureAt.Equal(want["backup"].LastFailureAt) {
		t.Fatalf("timestamp mismatch: %v vs %v", b.LastFailureAt, want["backup"].LastFailureAt)
	}
}

func TestPublisher_RemovesEndedSessions(t *testing.T) {
	src := newSource(t)
	src.tracker.Open("pub-a")
	src.tracker.Open("pub-b")

	store := newMemStore()
	pub := NewPublisher(store, src, Config{})
	pub.PublishAll(context.Background())

	ids, _ := NewReader(store).Sessions(context.Background())
	if len(ids) != 2 {
		t.Fatalf("published = %v, want 2 sessions", ids)
	}

	src.tracker.Drop("pub-a")
	pub.PublishAll(context.Background())

	ids, _ = NewReader(store).Sessions(context.Background())
	sort.Strings(ids)
	if len(ids) != 1 || ids[0] != "pub-b" {
		t.Fatalf("published = %v, want [pub-b]", ids)
	}
	if _, err := NewReader(store).Load(context.Background(), "pub-a"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestPublisher_CountsErrors(t *testing.T) {
	src := newSource(t)
	src.tracker.Open("pub-err")

	store := newMemStore()
	store.fail = errors.New("connection refused")

	before := testutil.ToFloat64(metrics.SnapshotPublishErrors)
	NewPublisher(store, src, Config{}).PublishAll(context.Background())
	if got := testutil.ToFloat64(metrics.SnapshotPublishErrors) - before; got != 1 {
		t.Fatalf("publish errors delta = %v, want 1", got)
	}
}

func TestPublisher_RunFlushesOnStop(t *testing.T) {
	src := newSource(t)
	src.tracker.Open("pub-run")

	store := newMemStore()
	pub := NewPublisher(store, src, Config{PublishInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := NewReader(store).Load(context.Background(), "pub-run"); err != nil {
		t.Fatalf("expected final flush, got %v", err)
	}
}

func TestDecodeSnapshot_Invalid(t *testing.T) {
	if _, err := DecodeSnapshot(map[string]string{"primary": "{not json"}); err == nil {
		t.Fatal("expected decode error")
	}
}
