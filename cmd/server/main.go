package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tvplayer-orchestrator/internal/orchestrator"
	"tvplayer-orchestrator/internal/platform/config"
	"tvplayer-orchestrator/internal/platform/logger"
	"tvplayer-orchestrator/internal/platform/metrics"
	"tvplayer-orchestrator/internal/sdk/sim"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	build := sim.NewBuilder(sim.Options{
		Duration:     cfg.SimDuration,
		PrepareDelay: cfg.SimPrepareDelay,
	})
	surface := sim.Window(cfg.SurfaceName)
	newSession := func() *orchestrator.Service {
		return orchestrator.NewService(build, log,
			orchestrator.WithMetrics(met),
			orchestrator.WithPrepareTimeout(cfg.PrepareTimeout),
			orchestrator.WithSurface(surface),
		)
	}
	h := orchestrator.NewHandler(newSession, log, met, cfg.DisposeTimeout)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetPlayerState(int(h.ActiveState())) }).ServeHTTP(w, r)
	})
	h.Register(r, cfg.ControlRateLimit)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		// Ends /events streams so Shutdown does not wait on them.
		h.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("server starting",
		"port", cfg.Port,
		"surface", cfg.SurfaceName,
		"prepare_timeout", cfg.PrepareTimeout,
		"log_level", cfg.LogLevel,
	)

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
