package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/vietddude/failover/internal/infra/rpc/health"
	"github.com/vietddude/failover/internal/metrics"
)

// ErrNoSnapshot is returned when a session has no published snapshot.
var ErrNoSnapshot = errors.New("no snapshot published for session")

// SnapshotStore is the storage used by Publisher and Reader. *Client
// implements it.
type SnapshotStore interface {
	WriteSnapshot(ctx context.Context, sessionID string, fields map[string]string, ttl time.Duration) error
	ReadSnapshot(ctx context.Context, sessionID string) (map[string]string, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
	ListSnapshots(ctx context.Context) ([]string, error)
}

// SnapshotSource exposes the live sessions and their health.
type SnapshotSource interface {
	SessionIDs() []string
	GetHealthStatus(sessionID string) (health.Snapshot, error)
}

// Publisher periodically exports every live session's health snapshot.
type Publisher struct {
	store    SnapshotStore
	source   SnapshotSource
	ttl      time.Duration
	interval time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	published map[string]bool
}

// NewPublisher creates a publisher.
func NewPublisher(store SnapshotStore, source SnapshotSource, cfg Config) *Publisher {
	interval := cfg.PublishInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Publisher{
		store:     store,
		source:    source,
		ttl:       cfg.SnapshotTTL,
		interval:  interval,
		log:       slog.Default().With("component", "snapshot-publisher"),
		published: make(map[string]bool),
	}
}

// Run publishes on every tick until ctx is done, then publishes once more.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.PublishAll(flushCtx)
			cancel()
			return
		case <-ticker.C:
			p.PublishAll(ctx)
		}
	}
}

// PublishAll exports the current sessions and removes the snapshots of
// sessions that ended since the last run. Failures are logged and counted.
func (p *Publisher) PublishAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := make(map[string]bool)
	for _, id := range p.source.SessionIDs() {
		live[id] = true
		if err := p.publish(ctx, id); err != nil {
			metrics.SnapshotPublishErrors.Inc()
			p.log.Warn("publish snapshot failed", "session", id, "error", err)
		}
	}

	for id := range p.published {
		if live[id] {
			continue
		}
		if err := p.store.DeleteSnapshot(ctx, id); err != nil {
			p.log.Warn("delete snapshot failed", "session", id, "error", err)
			continue
		}
		metrics.UnhealthyEndpoints.DeleteLabelValues(id)
		delete(p.published, id)
	}
}

// PublishSession exports one session's snapshot.
func (p *Publisher) PublishSession(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publish(ctx, sessionID)
}

func (p *Publisher) publish(ctx context.Context, sessionID string) error {
	snap, err := p.source.GetHealthStatus(sessionID)
	if err != nil {
		return err
	}

	fields, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := p.store.WriteSnapshot(ctx, sessionID, fields, p.ttl); err != nil {
		return err
	}

	unhealthy := 0
	for _, c := range snap {
		if !c.Healthy {
			unhealthy++
		}
	}
	metrics.UnhealthyEndpoints.WithLabelValues(sessionID).Set(float64(unhealthy))
	p.published[sessionID] = true
	return nil
}

// EncodeSnapshot renders each endpoint's counters as a JSON hash field.
func EncodeSnapshot(snap health.Snapshot) (map[string]string, error) {
	fields := make(map[string]string, len(snap))
	for id, c := range snap {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode counters for %s: %w", id, err)
		}
		fields[id] = string(b)
	}
	return fields, nil
}

// DecodeSnapshot parses hash fields written by EncodeSnapshot.
func DecodeSnapshot(fields map[string]string) (health.Snapshot, error) {
	snap := make(health.Snapshot, len(fields))
	for id, raw := range fields {
		var c health.Counters
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode counters for %s: %w", id, err)
		}
		snap[id] = c
	}
	return snap, nil
}

// Reader loads published snapshots for operator tooling.
type Reader struct {
	store SnapshotStore
}

// NewReader creates a reader.
func NewReader(store SnapshotStore) *Reader {
	return &Reader{store: store}
}

// Load returns the published snapshot for sessionID.
func (r *Reader) Load(ctx context.Context, sessionID string) (health.Snapshot, error) {
	fields, err := r.store.ReadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(fields)
}

// Sessions lists the sessions with a published snapshot, sorted.
func (r *Reader) Sessions(ctx context.Context) ([]string, error) {
	ids, err := r.store.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
