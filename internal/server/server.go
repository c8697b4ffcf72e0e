// FilePath: server/meterhub/internal/server/server.go
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/api"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/analyzer"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/config"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/database"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/gate"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/ledger"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/monitoring"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository/files"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository/history"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository/redis"
	nuts "github.com/vaudience/go-nuts"
)

// Server represents our HTTP server
type Server struct {
	config     *config.Config
	srv        *http.Server
	hubservice *hubservice.HubService
	closers    []io.Closer
	stopSweep  context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config: cfg,
		srv:    srv,
	}
}

// Start begins listening for requests
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	svc, closers, err := initializeHubService(ctx, s.config)
	cancel()
	if err != nil {
		return err
	}
	s.hubservice = svc
	s.closers = closers

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	s.stopSweep = stopSweep
	go s.hubservice.Cleanup.Run(sweepCtx)

	s.srv.Handler = api.NewRouter(s.hubservice, s.config.Server)

	// Start server
	go func() {
		nuts.L.Infof("[Server] Starting server on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nuts.L.Errorf("[Server] Error starting server: %v", err)
			os.Exit(1)
		}
	}()

	return s.waitForShutdown()
}

// waitForShutdown waits for interrupt signal and gracefully shuts down the server
func (s *Server) waitForShutdown() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	nuts.L.Infof("[Server] Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	s.stopSweep()
	s.hubservice.Wait()
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil {
			nuts.L.Errorf("[Server] Failed to close backend: %v", cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	nuts.L.Infof("[Server] Server shut down successfully")
	return nil
}

// initializeHubService creates the backends named in cfg and assembles the
// hub service from them. The returned closers release the backends.
func initializeHubService(ctx context.Context, cfg *config.Config) (*hubservice.HubService, []io.Closer, error) {
	var closers []io.Closer
	fail := func(err error) (*hubservice.HubService, []io.Closer, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, nil, err
	}

	deps := hubservice.Deps{
		Analyzer:   analyzer.New(cfg.Analyzer),
		Monitoring: monitoring.NewService(monitoring.Config{}),
	}

	switch cfg.State.Backend {
	case "redis":
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client)
		deps.Ledger = redis.NewLedger(client, cfg.Redis.KeyPrefix)
		deps.Gate = redis.NewGate(client, cfg.Redis.KeyPrefix)
		nuts.L.Infof("[Server] Using redis state backend at %s:%d", cfg.Redis.Host, cfg.Redis.Port)
	default:
		deps.Ledger = ledger.New()
		deps.Gate = gate.New()
		nuts.L.Infof("[Server] Using in-memory state backend")
	}

	hist, err := initHistory(cfg.History)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, hist)
	deps.History = hist

	store, err := files.NewFileRepository(files.FileConfig{
		BasePath:         cfg.FileStore.BasePath,
		MaxFileSize:      cfg.FileStore.MaxFileSize,
		AllowedMimeTypes: cfg.FileStore.AllowedMimeTypes,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to initialize file repository: %w", err))
	}
	deps.Store = store

	svc, err := hubservice.New(cfg, deps)
	if err != nil {
		return fail(err)
	}
	if err := svc.RestoreSequences(ctx); err != nil {
		return fail(fmt.Errorf("failed to restore sequences: %w", err))
	}
	if deps.Analyzer.Enabled() {
		nuts.L.Infof("[Server] Meter analysis enabled (model=%s, auto=%v)", cfg.Analyzer.Model, cfg.Analyzer.AutoAnalyze)
	}
	return svc, closers, nil
}

func initHistory(cfg config.HistoryConfig) (repository.HistoryRepository, error) {
	var (
		db  database.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = database.NewSQLiteDB(cfg.SQLitePath)
	case "postgres":
		db, err = database.NewPostgresDB(cfg.Postgres)
	default:
		return repository.NopHistory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s history store: %w", cfg.Driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s history store: %w", cfg.Driver, err)
	}
	nuts.L.Infof("[Server] History stored in %s", cfg.Driver)
	return history.NewRepository(db), nil
}
