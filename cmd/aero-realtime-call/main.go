package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/realtime"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/telemetry"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/webrtcpeer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if _, err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.LoadClient(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	shutdownTelemetry, err := telemetry.Setup(context.Background(), telemetry.Options{
		Exporter:    cfg.OTelExporter,
		Writer:      os.Stderr,
		ServiceName: "aero-realtime-call",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
	}()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	slog.SetDefault(logger)

	api, err := webrtcpeer.NewAPI(webrtcpeer.SettingsFromConfig(cfg, logger))
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		return 2
	}

	rep := newReporter(os.Stdout, cfg.Vendor)
	opts := realtime.OptionsFromConfig(cfg)
	opts.API = api
	opts.Logger = logger
	opts.Observer = rep

	if cfg.FramesDir != "" {
		sink, err := realtime.NewDirSink(cfg.FramesDir)
		if err != nil {
			logger.Error("failed to prepare frames directory", "dir", cfg.FramesDir, "err", err)
			return 2
		}
		opts.Frames = sink
	}

	logger.Info("starting aero-realtime-call",
		"vendor", string(cfg.Vendor.Name),
		"calls_url", cfg.CallsURL(),
		"model", cfg.Model,
		"voice", cfg.Voice,
		"mode", cfg.Mode,
		"call_timeout", cfg.CallTimeout,
		"frames_dir", cfg.FramesDir,
	)
	logStartupWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep.start(cfg.CallsURL())
	out, err := realtime.RunCall(ctx, opts)
	rep.finish(out, err)
	if err != nil {
		return 1
	}
	return 0
}
