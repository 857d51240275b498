// Package telemetry delivers attempt and request records to logging and
// metrics collaborators.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/metrics"
)

// Observer receives records from the executor. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	ObserveAttempt(rec domain.AttemptRecord)
	ObserveRequest(rec domain.RequestRecord)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveAttempt(domain.AttemptRecord) {}
func (Nop) ObserveRequest(domain.RequestRecord) {}

// Multi fans records out to several observers.
type Multi []Observer

func (m Multi) ObserveAttempt(rec domain.AttemptRecord) {
	for _, o := range m {
		o.ObserveAttempt(rec)
	}
}

func (m Multi) ObserveRequest(rec domain.RequestRecord) {
	for _, o := range m {
		o.ObserveRequest(rec)
	}
}

// LogObserver writes attempt records as structured log lines.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver creates a log observer. A nil logger uses slog.Default.
func NewLogObserver(log *slog.Logger) *LogObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LogObserver{log: log.With("component", "failover")}
}

// AttemptLevel is the level an attempt record is logged at. Successes,
// non-terminal retries and the expected-offline signature of a
// known-unreliable endpoint go to debug; other failures use the
// classification's hint and never go below warn.
func AttemptLevel(rec domain.AttemptRecord) slog.Level {
	if rec.Succeeded() || rec.Expected || !rec.Terminal {
		return slog.LevelDebug
	}
	level := rec.Classification.Policy().Level
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	return level
}

func (o *LogObserver) ObserveAttempt(rec domain.AttemptRecord) {
	attrs := []slog.Attr{
		slog.String("session", rec.SessionID),
		slog.String("capability", string(rec.Capability)),
		slog.String("endpoint", rec.EndpointID),
		slog.Int("attempt", rec.Attempt),
		slog.String("classification", rec.Classification.String()),
		slog.Duration("latency", rec.Latency),
		slog.Bool("expected", rec.Expected),
	}
	if rec.Err != nil {
		attrs = append(attrs, slog.String("error", rec.Err.Error()))
	}

	msg := "Attempt failed"
	switch {
	case rec.Succeeded():
		msg = "Attempt succeeded"
	case !rec.Terminal:
		msg = "Attempt failed, retrying"
	}
	o.log.LogAttrs(context.Background(), AttemptLevel(rec), msg, attrs...)
}

func (o *LogObserver) ObserveRequest(rec domain.RequestRecord) {
	level := slog.LevelDebug
	msg := "Request succeeded"
	if !rec.Succeeded {
		level = slog.LevelWarn
		msg = "Request failed on all candidates"
	}
	o.log.Log(context.Background(), level, msg,
		"session", rec.SessionID,
		"capability", rec.Capability,
		"strategy", rec.Strategy,
		"endpoint", rec.EndpointID,
		"candidates", rec.Candidates,
		"duration", rec.Duration,
	)
}

// MetricsObserver records Prometheus metrics.
type MetricsObserver struct{}

func (MetricsObserver) ObserveAttempt(rec domain.AttemptRecord) {
	metrics.AttemptsTotal.WithLabelValues(
		string(rec.Capability), rec.EndpointID, rec.Classification.String(),
	).Inc()
	metrics.AttemptDuration.WithLabelValues(
		string(rec.Capability), rec.EndpointID,
	).Observe(rec.Latency.Seconds())
}

func (MetricsObserver) ObserveRequest(rec domain.RequestRecord) {
	result := "success"
	if !rec.Succeeded {
		result = "failure"
	}
	metrics.RequestsTotal.WithLabelValues(string(rec.Capability), string(rec.Strategy), result).Inc()
	metrics.RequestDuration.WithLabelValues(string(rec.Capability), string(rec.Strategy)).
		Observe(rec.Duration.Seconds())
}
