package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	envVarRelayListenAddr      = "AERO_REALTIME_RELAY_LISTEN_ADDR"
	envVarRelayOpsListenAddr   = "AERO_REALTIME_RELAY_OPS_LISTEN_ADDR"
	envVarRelayMaxBodyBytes    = "AERO_REALTIME_RELAY_MAX_BODY_BYTES"
	envVarRelayUpstreamTimeout = "AERO_REALTIME_RELAY_UPSTREAM_TIMEOUT"
	envVarRelayShutdownTimeout = "AERO_REALTIME_RELAY_SHUTDOWN_TIMEOUT"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultOpsListenAddr   = "127.0.0.1:8081"
	DefaultShutdown        = 15 * time.Second
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = 1 << 20 // 1MiB
)

// RelayConfig configures aero-realtime-relay.
type RelayConfig struct {
	Logging

	ListenAddr string
	// OpsListenAddr serves /healthz, /readyz, /version and /metrics. When
	// empty they share ListenAddr with the relay routes.
	OpsListenAddr string
	// UpstreamURL is the API base URL calls are forwarded to; it is also what
	// GET /api-url reports.
	UpstreamURL     string
	MaxBodyBytes    int
	UpstreamTimeout time.Duration
	ShutdownTimeout time.Duration
}

func LoadRelay(args []string) (RelayConfig, error) {
	return loadRelay(os.LookupEnv, args)
}

func loadRelay(lookup func(string) (string, bool), args []string) (RelayConfig, error) {
	upstreamEnv := Vendors[VendorRTAV].APIURLEnv

	listenAddr := envOrDefault(lookup, envVarRelayListenAddr, DefaultListenAddr)
	opsListenAddr := envOrDefault(lookup, envVarRelayOpsListenAddr, DefaultOpsListenAddr)
	upstreamURL := envOrDefault(lookup, upstreamEnv, Vendors[VendorRTAV].DefaultAPIURL)
	maxBodyBytes, err := envIntOrDefault(lookup, envVarRelayMaxBodyBytes, DefaultMaxBodyBytes)
	if err != nil {
		return RelayConfig{}, err
	}
	upstreamTimeout, err := envDurationOrDefault(lookup, envVarRelayUpstreamTimeout, DefaultUpstreamTimeout)
	if err != nil {
		return RelayConfig{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envVarRelayShutdownTimeout, DefaultShutdown)
	if err != nil {
		return RelayConfig{}, err
	}

	fs := flag.NewFlagSet("aero-realtime-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	logFlags := bindLoggingFlags(fs, lookup)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port) (env "+envVarRelayListenAddr+")")
	fs.StringVar(&opsListenAddr, "ops-listen-addr", opsListenAddr, "Listen address for health, version and metrics routes; empty serves them on --listen-addr (env "+envVarRelayOpsListenAddr+")")
	fs.StringVar(&upstreamURL, "upstream-url", upstreamURL, "API base URL to forward calls to (env "+upstreamEnv+")")
	fs.IntVar(&maxBodyBytes, "max-body-bytes", maxBodyBytes, "Max proxied request body size in bytes (env "+envVarRelayMaxBodyBytes+")")
	fs.DurationVar(&upstreamTimeout, "upstream-timeout", upstreamTimeout, "Timeout for the upstream call-creation request (env "+envVarRelayUpstreamTimeout+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s) (env "+envVarRelayShutdownTimeout+")")

	if err := fs.Parse(args); err != nil {
		return RelayConfig{}, err
	}

	logging, err := logFlags.resolve(visitedFlags(fs))
	if err != nil {
		return RelayConfig{}, err
	}

	if strings.TrimSpace(listenAddr) == "" {
		return RelayConfig{}, fmt.Errorf("listen address must not be empty")
	}
	opsListenAddr = strings.TrimSpace(opsListenAddr)
	if opsListenAddr != "" && opsListenAddr == strings.TrimSpace(listenAddr) {
		return RelayConfig{}, fmt.Errorf("%s/--ops-listen-addr must differ from --listen-addr", envVarRelayOpsListenAddr)
	}
	if err := validateBaseURL(upstreamURL); err != nil {
		return RelayConfig{}, fmt.Errorf("%s/--upstream-url: %w", upstreamEnv, err)
	}
	if maxBodyBytes <= 0 {
		return RelayConfig{}, fmt.Errorf("%s/--max-body-bytes must be > 0", envVarRelayMaxBodyBytes)
	}
	if upstreamTimeout <= 0 {
		return RelayConfig{}, fmt.Errorf("%s/--upstream-timeout must be > 0", envVarRelayUpstreamTimeout)
	}
	if shutdownTimeout <= 0 {
		return RelayConfig{}, fmt.Errorf("shutdown timeout must be > 0")
	}

	return RelayConfig{
		Logging:         logging,
		ListenAddr:      listenAddr,
		OpsListenAddr:   opsListenAddr,
		UpstreamURL:     strings.TrimRight(strings.TrimSpace(upstreamURL), "/"),
		MaxBodyBytes:    maxBodyBytes,
		UpstreamTimeout: upstreamTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}
