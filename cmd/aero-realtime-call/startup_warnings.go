package main

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/policy"
)

func logStartupWarnings(logger *slog.Logger, cfg config.ClientConfig) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.FramesDir != "" {
		switch {
		case !cfg.Vendor.SupportsImages:
			logger.Warn("startup warning: --frames-dir is set but this vendor does not stream video frames",
				"warning_code", "frames_dir_unsupported_vendor",
				"frames_dir", cfg.FramesDir,
				"vendor", string(cfg.Vendor.Name),
			)
		case len(cfg.Modalities) > 0 && !cfg.HasModality(config.ModalityImage):
			logger.Warn("startup warning: --frames-dir is set but the image modality was not requested",
				"warning_code", "frames_dir_without_image_modality",
				"frames_dir", cfg.FramesDir,
				"modalities", cfg.Modalities,
			)
		}
	}

	u, err := url.Parse(strings.TrimSpace(cfg.APIURL))
	if err != nil {
		return
	}

	if strings.EqualFold(u.Scheme, "http") {
		logger.Warn("startup security warning: API URL uses plain http; the API key is sent unencrypted",
			"warning_code", "api_url_plain_http",
			"api_host", u.Host,
			"vendor", string(cfg.Vendor.Name),
			"mode", cfg.Mode,
		)
	}

	if policy.SkipTLSVerify(u) {
		logger.Warn("startup security warning: API URL is on a private network; TLS certificate verification is disabled for it",
			"warning_code", "api_url_tls_verification_disabled",
			"api_host", u.Host,
			"vendor", string(cfg.Vendor.Name),
			"mode", cfg.Mode,
		)
	}
}
