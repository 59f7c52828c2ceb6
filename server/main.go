package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gammadia/workloads/api"
	"github.com/gammadia/workloads/metrics"
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/server/flags"
	"github.com/gammadia/workloads/server/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

// Global context for shutdown cascading. When cancel() is called (from signal handler),
// all goroutines watching ctx.Done() begin their shutdown sequence.
var ctx, cancel = context.WithCancel(context.Background())

func main() {
	if err := flags.Init(os.Args[0], os.Args[1:]); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}

	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("Workloads server starting up...", "version", version, "commit", commit)

	store, err := openStore()
	if err != nil {
		log.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close store", "error", err)
		}
	}()

	s, err := createScheduler(store)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	server := &http.Server{
		Addr: viper.GetString(flags.Listen),
		Handler: newRouter(api.NewHandler(s, scheduler.NewCheckpoint(), api.HandlerConfig{
			Logger:        log.Base,
			DefaultTenant: viper.GetString(flags.DefaultTenant),
		})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup signal handling for graceful shutdown
	setupInterrupts()

	// The sweeper and the HTTP server share a group: when one of them fails, the other is stopped.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runSweeper(groupCtx, s, clock.RealClock{}, viper.GetDuration(flags.SweepInterval))
	})
	group.Go(func() error {
		log.Info("Server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), viper.GetDuration(flags.ShutdownTimeout))
		defer shutdownCancel()
		// waits for in-flight requests to finish
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown completed. Bye!")
}

func newRouter(workloads http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(api.WorkloadsPath, workloads)
	mux.Handle(api.WorkloadsPath+"/", workloads)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// setupInterrupts handles Ctrl+C (SIGINT) and SIGTERM with a double-tap pattern:
// - First signal: calls cancel() which cascades shutdown through ctx.Done() to all goroutines
// - Second signal: forces immediate exit (in case graceful shutdown hangs)
func setupInterrupts() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
