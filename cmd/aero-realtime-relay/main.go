package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/proxy"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/telemetry"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	if _, err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	shutdownTelemetry, err := telemetry.Setup(context.Background(), telemetry.Options{
		Exporter:       cfg.OTelExporter,
		Writer:         os.Stderr,
		ServiceName:    "aero-realtime-relay",
		ServiceVersion: commit,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	m := metrics.New()
	relay, err := proxy.New(cfg, nil, m, logger)
	if err != nil {
		logger.Error("failed to configure relay", "err", err)
		os.Exit(2)
	}

	logger.Info("starting aero-realtime-relay",
		"listen_addr", cfg.ListenAddr,
		"ops_listen_addr", cfg.OpsListenAddr,
		"upstream_url", cfg.UpstreamURL,
		"mode", cfg.Mode,
		"max_body_bytes", cfg.MaxBodyBytes,
		"upstream_timeout", cfg.UpstreamTimeout,
		"otel_exporter", cfg.OTelExporter,
	)
	logStartupWarnings(logger, cfg, relay.InsecureUpstream())

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	relay.Register(srv.Router())

	servers := []*httpserver.Server{srv}
	listeners := []net.Listener{ln}
	opsRouter := srv.Router()
	if cfg.OpsListenAddr != "" {
		opsLn, err := net.Listen("tcp", cfg.OpsListenAddr)
		if err != nil {
			logger.Error("failed to listen for ops routes", "err", err)
			os.Exit(1)
		}
		ops := httpserver.NewOps(srv)
		servers = append(servers, ops)
		listeners = append(listeners, opsLn)
		opsRouter = ops.Router()
	}
	opsRouter.Method(http.MethodGet, "/metrics", m.Handler())

	errCh := make(chan error, len(servers))
	for i := range servers {
		go func(s *httpserver.Server, l net.Listener) {
			errCh <- s.Serve(l)
		}(servers[i], listeners[i])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
		}
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown failed", "err", err)
	}

	failed := false
	for range servers {
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited after shutdown", "err", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// ldflags win; fall back to the VCS stamp for `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
