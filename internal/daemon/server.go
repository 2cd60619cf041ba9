// Package daemon runs the prizm recommendation service: the HTTP API, a gRPC
// health endpoint, NATS event ingestion, TTL sweeping, database maintenance
// and config reloads.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/logging"
	"github.com/runger/prizm/internal/suggestions/api"
	"github.com/runger/prizm/internal/suggestions/db"
	"github.com/runger/prizm/internal/suggestions/engine"
	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/maintenance"
)

// Version is set at build time
var Version = "dev"

// HealthService is the gRPC health service name reported alongside "".
const HealthService = "prizm"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// MemoryDBPath selects an in-memory database.
const MemoryDBPath = ":memory:"

// ServerConfig contains configuration options for the daemon server.
type ServerConfig struct {
	// Config is the loaded configuration (required).
	Config *config.Config

	// ConfigPath is reloaded on SIGHUP and watched for changes. Empty
	// disables reloading.
	ConfigPath string

	// Paths is the path configuration (optional, uses defaults if nil)
	Paths *config.Paths

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger

	// Publisher receives transition notifications when NATS is not
	// configured. Used by tests.
	Publisher Publisher
}

// Server is the daemon. Create it with NewServer, then call Run.
type Server struct {
	cfg        *config.Config
	configPath string
	paths      *config.Paths
	logger     *slog.Logger
	publisher  Publisher

	db     *db.DB
	sqlDB  *sql.DB
	engine *engine.Engine

	mu       sync.RWMutex
	httpAddr string
	grpcAddr string
	bridge   *Bridge
	ready    chan struct{}

	closeOnce sync.Once
}

// NewServer opens the database and builds the engine. Suggestions left
// pending by a previous run are expired here.
func NewServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, errors.New("config is required")
	}

	paths := cfg.Paths
	if paths == nil {
		paths = config.DefaultPaths()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg.Config,
		configPath: cfg.ConfigPath,
		paths:      paths,
		logger:     logger,
		publisher:  cfg.Publisher,
		ready:      make(chan struct{}),
	}

	dbPath := databasePath(cfg.Config, paths)
	if dbPath == MemoryDBPath {
		sqlDB, err := db.OpenMemory(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.sqlDB = sqlDB
	} else {
		d, err := db.Open(ctx, db.Options{Path: dbPath, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.db = d
		s.sqlDB = d.DB()
	}

	ecfg, err := EngineConfig(cfg.Config, s.sqlDB, logger)
	if err != nil {
		s.closeDB()
		return nil, err
	}
	e, err := engine.New(ctx, ecfg)
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	s.engine = e

	return s, nil
}

// Engine returns the server's engine.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Ready is closed once every listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// HTTPAddr returns the bound HTTP address. Valid after Ready.
func (s *Server) HTTPAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC health address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grpcAddr
}

// Config returns the active configuration.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Run serves until ctx is done or a component fails, then shuts everything
// down and closes the engine and database.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	cfg := s.Config()

	httpLn, err := net.Listen("tcp", cfg.Daemon.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Daemon.HTTPAddr, err)
	}
	var grpcLn net.Listener
	if cfg.Daemon.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", cfg.Daemon.GRPCAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", cfg.Daemon.GRPCAddr, err)
		}
	}

	bridge, err := s.newBridge(cfg)
	if err != nil {
		httpLn.Close()
		if grpcLn != nil {
			grpcLn.Close()
		}
		return err
	}
	if bridge != nil {
		bridge.trackQueue(s.engine.Metrics())
	}

	s.mu.Lock()
	s.httpAddr = httpLn.Addr().String()
	if grpcLn != nil {
		s.grpcAddr = grpcLn.Addr().String()
	}
	s.bridge = bridge
	s.mu.Unlock()

	httpSrv := &http.Server{
		Handler:           api.NewHandler(s.engine, s.logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	var grpcSrv *grpc.Server
	var healthSrv *health.Server
	if grpcLn != nil {
		grpcSrv = grpc.NewServer()
		healthSrv = health.NewServer()
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthSrv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)

		g.Go(func() error {
			if err := grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server error: %w", err)
			}
			return nil
		})
	}

	if bridge != nil {
		g.Go(func() error { return bridge.Run(ctx) })
	}

	if interval := cfg.Daemon.SweepInterval; interval > 0 {
		g.Go(func() error { return s.sweepLoop(ctx, interval) })
	}

	if interval := cfg.Storage.MaintenanceInterval; interval > 0 {
		runner := s.newMaintenance(cfg, interval)
		unsubscribe := s.engine.Events().Subscribe("maintenance", func(context.Context, event.Event) {
			runner.RecordEvent()
		})
		g.Go(func() error {
			defer unsubscribe()
			runner.Run(ctx)
			return nil
		})
	}

	if s.configPath != "" {
		w := &ConfigWatcher{
			Path:   s.configPath,
			Logger: s.logger,
			OnChange: func(ctx context.Context) {
				if err := s.Reload(ctx, "file"); err != nil {
					s.logger.Error("failed to reload configuration", "error", err)
				}
			},
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		if healthSrv != nil {
			healthSrv.Shutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return nil
	})

	s.logger.Info("daemon listening",
		"http_addr", s.HTTPAddr(),
		"grpc_addr", s.GRPCAddr(),
		"nats", bridge != nil,
	)
	close(s.ready)

	return g.Wait()
}

func (s *Server) newBridge(cfg *config.Config) (*Bridge, error) {
	bcfg := BridgeConfig{
		Subject:       cfg.Events.NATSSubject,
		NotifySubject: cfg.Events.NotifySubject,
		Logger:        s.logger,
	}
	if cfg.Events.Enabled {
		nc, err := ConnectNATS(cfg.Events.NATSURL, s.logger)
		if err != nil {
			return nil, err
		}
		return NewBridge(nc, s.publisher, s.engine, bcfg), nil
	}
	if s.publisher != nil {
		return NewBridge(nil, s.publisher, s.engine, bcfg), nil
	}
	return nil, nil
}

func (s *Server) newMaintenance(cfg *config.Config, interval time.Duration) *maintenance.Runner {
	mcfg := maintenance.Config{
		Interval:  interval,
		Retention: time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
		Logger:    s.logger,
	}
	if s.db != nil {
		mcfg.DBPath = s.db.Path()
	}
	return maintenance.NewRunner(s.sqlDB, mcfg)
}

func (s *Server) sweepLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.engine.SweepExpired(ctx); n > 0 {
				s.logger.Debug("expired stale suggestions", "count", n)
			}
		}
	}
}

// Reload re-reads the config file and applies its scoring, learning,
// lifecycle and explain sections. Listener addresses, storage and NATS
// settings take effect on restart only.
func (s *Server) Reload(ctx context.Context, trigger string) error {
	if s.configPath == "" {
		return errors.New("no config file to reload")
	}
	cfg, err := config.LoadFromFile(s.configPath)
	if err != nil {
		return err
	}
	settings, err := EngineSettings(cfg, s.logger)
	if err != nil {
		return err
	}
	if err := s.engine.Reload(ctx, settings); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if old.Daemon.HTTPAddr != cfg.Daemon.HTTPAddr || old.Events != cfg.Events || old.Storage != cfg.Storage {
		s.logger.Warn("listener, storage and event settings change on restart only")
	}
	logging.LogConfigReload(s.logger, s.configPath, trigger)
	return nil
}

// Close stops background work and closes the engine and database. Run calls
// it on return; it is safe to call again.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.mu.RLock()
		bridge := s.bridge
		s.mu.RUnlock()
		if bridge != nil && bridge.conn != nil {
			bridge.conn.Close()
		}
		s.engine.Close()
		s.closeDB()
	})
}

func (s *Server) closeDB() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("failed to close database", "error", err)
		}
		return
	}
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
}
