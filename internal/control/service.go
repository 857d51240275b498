// Package control assembles the failover engine and its supporting services
// from configuration and manages their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/failover/internal/core/config"
	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/health"
	redisclient "github.com/vietddude/failover/internal/infra/redis"
	"github.com/vietddude/failover/internal/infra/rpc"
	"github.com/vietddude/failover/internal/infra/rpc/provider"
	"github.com/vietddude/failover/internal/infra/rpc/telemetry"
	"github.com/vietddude/failover/internal/infra/storage/postgres"
)

// Service is the main application struct that owns the engine lifecycle.
type Service struct {
	cfg          *config.AppConfig
	engine       *rpc.Engine
	transport    *provider.Mux
	healthServer *health.Server
	publisher    *redisclient.Publisher
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a Service with all dependencies initialized.
func NewService(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	s := &Service{
		cfg: cfg,
		log: slog.Default().With("component", "service"),
	}

	// 1. Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		s.db = db
	}

	// 2. Endpoint descriptors
	endpoints, err := s.loadEndpoints(ctx)
	if err != nil {
		s.closeStores()
		return nil, err
	}
	registry, err := domain.NewRegistry(endpoints)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("invalid endpoints: %w", err)
	}
	s.log.Info("Loaded endpoints", "count", len(endpoints), "source", cfg.EndpointsSource)

	// 3. Transports and engine
	s.transport = provider.NewMux()
	s.transport.Handle(domain.TransportHTTP, provider.NewHTTPTransport(cfg.Transport.MaxIdlePerHost))
	s.transport.Handle(domain.TransportGRPC, provider.NewGRPCTransport())

	s.engine, err = rpc.NewEngine(rpc.EngineOptions{
		Registry:     registry,
		Transport:    s.transport,
		Capabilities: cfg.CapabilityPolicies(),
		Retry:        cfg.RetryPolicy(),
		Health:       cfg.HealthConfig(),
		Observer: telemetry.Multi{
			telemetry.NewLogObserver(slog.Default()),
			telemetry.MetricsObserver{},
		},
	})
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	// 4. Diagnostic server
	s.healthServer = health.NewServer(s.engine, cfg.Server.Port)
	if s.db != nil {
		s.healthServer.AddCheck("postgres", s.db.Health)
	}

	// 5. Redis snapshot publishing (optional)
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			s.log.Warn("Failed to connect to Redis, snapshot publishing disabled", "error", err)
		} else {
			s.redisClient = client
			s.publisher = redisclient.NewPublisher(client, s.engine, cfg.Redis)
			s.healthServer.AddCheck("redis", client.Ping)
		}
	}

	return s, nil
}

func (s *Service) loadEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	if s.cfg.EndpointsSource != config.SourcePostgres {
		return s.cfg.DomainEndpoints(), nil
	}
	if s.db == nil {
		return nil, errors.New("endpoints_source is postgres but no database is configured")
	}

	if err := postgres.Migrate(ctx, s.db); err != nil {
		return nil, err
	}
	endpoints, err := postgres.NewEndpointRepo(s.db).List(ctx)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("endpoints table: %w", domain.ErrNoEndpoints)
	}
	return endpoints, nil
}

// Engine returns the failover engine.
func (s *Service) Engine() *rpc.Engine {
	return s.engine
}

// PublishSession writes one session's health snapshot to Redis right away.
// It reports false when snapshot publishing is disabled.
func (s *Service) PublishSession(ctx context.Context, sessionID string) (bool, error) {
	if s.publisher == nil {
		return false, nil
	}
	if err := s.publisher.PublishSession(ctx, sessionID); err != nil {
		return true, fmt.Errorf("publish snapshot: %w", err)
	}
	return true, nil
}

// Start starts the diagnostic server and background tasks.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	// Start Health Server
	go func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	}()
	s.log.Info("Diagnostic server listening", "port", s.cfg.Server.Port)

	// Start DB Metrics Collector
	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	// Start Snapshot Publisher
	go func() {
		defer close(s.done)
		if s.publisher != nil {
			s.publisher.Run(ctx)
		}
	}()

	return nil
}

// Stop stops background tasks, the diagnostic server and closes connections.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}

	var errs []error
	if s.healthServer != nil {
		errs = append(errs, s.healthServer.Stop(ctx))
	}
	if s.transport != nil {
		errs = append(errs, s.transport.Close())
	}
	s.closeStores()
	return errors.Join(errs...)
}

func (s *Service) closeStores() {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}
}
