package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matt-riley/flagfile"
	"github.com/matt-riley/flagfile/internal/config"
	"github.com/matt-riley/flagfile/internal/logging"
	"github.com/matt-riley/flagfile/internal/metrics"
	"github.com/matt-riley/flagfile/internal/middleware"
	"github.com/matt-riley/flagfile/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

// runWatch keeps a client loaded until ctx is cancelled, logging every reload
// and serving /metrics and /healthz when METRICS_ADDR is set.
func runWatch(ctx context.Context, args []string, _, stderr io.Writer) error {
	fs := newFlagSet("watch", "[path]", stderr)
	rest, err := parseArgs(fs, args, 0, 1)
	if err != nil || rest == nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return usageError("load config: %v", err)
	}
	if path := optionalArg(rest, 0); path != "" {
		cfg.ConfigPath = path
	}

	log := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, stderr)

	shutdownTracer, err := tracing.Init(ctx,
		tracing.WithServiceVersion(buildVersion()),
		tracing.WithSampleRatio(cfg.TraceSampleRatio),
	)
	if err != nil {
		return failure(fmt.Errorf("init tracing: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	client, err := flagfile.New(ctx,
		flagfile.WithConfigPath(cfg.ConfigPath),
		flagfile.WithAutoReload(cfg.AutoReload),
		flagfile.WithReloadDebounce(cfg.ReloadDebounce),
		flagfile.WithStrict(cfg.Strict),
		flagfile.WithLogger(log),
		flagfile.WithMetrics(reg),
		flagfile.WithOnConfigUpdate(func(fc *flagfile.FlagsConfig) {
			log.Info("flag configuration active", slog.Int("flags", fc.Len()))
		}),
	)
	if err != nil {
		return failure(err)
	}
	defer client.Close()

	serveErrCh := make(chan error, 1)
	var server *http.Server
	if cfg.MetricsAddr != "" {
		listener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return failure(fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err))
		}
		server = &http.Server{
			Handler:           middleware.Tracing("flagfile-http")(middleware.RequestLogging(log)(newHTTPHandler(client, reg))),
			ReadHeaderTimeout: httpReadHeaderTimeout,
			ReadTimeout:       httpReadTimeout,
			IdleTimeout:       httpIdleTimeout,
		}
		go func() {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrCh <- fmt.Errorf("serve metrics: %w", err)
			}
		}()
		log.Info("metrics server started", "addr", listener.Addr().String())
	}

	log.Info("watching flag file", "path", client.Path(), "auto_reload", cfg.AutoReload)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	log.Info("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
			serveErr = fmt.Errorf("shutdown metrics server: %w", err)
		}
	}
	if serveErr != nil {
		return failure(serveErr)
	}
	return nil
}

// buildVersion is the module version stamped by go install, if any.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "(devel)" {
		return ""
	}
	return info.Main.Version
}

type readiness interface {
	Ready() bool
}

func newHTTPHandler(client readiness, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.HandlerFor(gatherer))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !client.Ready() {
			http.Error(w, "flag configuration not loaded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
