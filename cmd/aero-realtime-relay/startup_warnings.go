package main

import (
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.RelayConfig, insecureUpstream bool) {
	if logger == nil {
		logger = slog.Default()
	}

	if insecureUpstream {
		logger.Warn("startup security warning: upstream is on a private network; TLS certificate verification is disabled for it",
			"warning_code", "upstream_tls_verification_disabled",
			"upstream_host", safeURLHost(cfg.UpstreamURL),
			"mode", cfg.Mode,
		)
	}

	if strings.HasPrefix(strings.ToLower(cfg.UpstreamURL), "http://") {
		logger.Warn("startup security warning: upstream uses plain http; API keys are forwarded unencrypted",
			"warning_code", "upstream_plain_http",
			"upstream_host", safeURLHost(cfg.UpstreamURL),
			"mode", cfg.Mode,
		)
	}

	if host, _, err := net.SplitHostPort(cfg.ListenAddr); err == nil && !isLoopbackListen(host) {
		logger.Warn("startup security warning: relay listens beyond loopback and forwards any caller's Authorization header",
			"warning_code", "listen_addr_not_loopback",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}
}

func isLoopbackListen(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
