// Package runtime hosts the minibook daemon: telemetry, the run ledger, the
// NATS job service and the health endpoints.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/minibook/internal/bus"
	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/eventstore"
	"github.com/loqalabs/minibook/internal/jobs"
	"github.com/loqalabs/minibook/internal/natsserver"
	"github.com/loqalabs/minibook/internal/protocol"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	checks     []func() bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	defer busClient.Close()
	if busCfg.StatusStream != "" {
		if err := busClient.EnsureStream(busCfg.StatusStream, protocol.SubjectJobStatus); err != nil {
			r.logger.Warn("job status stream unavailable", slog.String("error", err.Error()))
		}
	}

	pipelines, err := NewPipelines(ctx, r.cfg, store, r.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipelines.Close(); err != nil {
			r.logger.Warn("pipeline close error", slog.String("error", err.Error()))
		}
	}()

	jobService := jobs.NewService(ctx, r.cfg.Jobs, busClient, pipelines.Composer, pipelines.Narrator, r.logger)
	if err := jobService.Start(); err != nil {
		return fmt.Errorf("start job service: %w", err)
	}
	defer jobService.Close()

	r.checks = []func() bool{busClient.Healthy, jobService.Healthy}
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.prune(gctx, store)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("runtime", r.cfg.RuntimeName))
	return g.Wait()
}

func (r *Runtime) prune(ctx context.Context, store *eventstore.Store) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	for _, check := range r.checks {
		if !check() {
			return false
		}
	}
	return true
}
