// Command server runs the provenance entity metadata service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"entitycore/internal/adapters/entities"
	"entitycore/internal/blob"
	"entitycore/internal/constraints"
	"entitycore/internal/core"
	"entitycore/internal/schema"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx := context.Background()

	registry, err := schema.Default(nil)
	if err != nil {
		return err
	}
	engine := constraints.Default()

	store, err := core.OpenGraphStore()
	if err != nil {
		return err
	}
	blobStore, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	offloader := blob.NewOffloader(blobStore, offloadThreshold(), "responses")

	service := core.NewService(store, registry, engine,
		core.WithLogger(logger),
		core.WithMetrics(core.NewPrometheusMetrics(nil)),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	entities.New(service, offloader, logger).Register(r)

	addr := os.Getenv("ENTITYCORE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func offloadThreshold() int {
	raw := os.Getenv("ENTITYCORE_OFFLOAD_THRESHOLD_BYTES")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
