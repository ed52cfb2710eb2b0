package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	envVarMode      = "AERO_REALTIME_MODE"
	envVarLogFormat = "AERO_REALTIME_LOG_FORMAT"
	envVarLogLevel  = "AERO_REALTIME_LOG_LEVEL"
	envVarOTel      = "AERO_REALTIME_OTEL_EXPORTER"

	DefaultMode Mode = ModeDev
)

// ErrMissingAPIKey is returned when no bearer credential is configured for the
// selected vendor. It is detected before any network activity.
var ErrMissingAPIKey = errors.New("missing API key")

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

// OTelExporter selects where traces and OTel log records are exported.
type OTelExporter string

const (
	OTelExporterNone   OTelExporter = "none"
	OTelExporterStdout OTelExporter = "stdout"
)

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Logging holds the settings shared by both commands.
type Logging struct {
	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	OTelExporter OTelExporter
}

// loggingFlags binds --mode, --log-format and --log-level. Env values become
// flag defaults; format and level fall back to mode-derived defaults when
// neither the env var nor the flag was set.
type loggingFlags struct {
	mode   string
	format string
	level  string
	otel   string

	envFormatSet bool
	envLevelSet  bool
}

func bindLoggingFlags(fs *flag.FlagSet, lookup func(string) (string, bool)) *loggingFlags {
	lf := &loggingFlags{}

	modeDefault := string(DefaultMode)
	if envMode, _ := lookup(envVarMode); envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, ok := lookup(envVarLogFormat)
	lf.envFormatSet = ok && envLogFormat != ""
	formatDefault := envLogFormat
	if !lf.envFormatSet {
		formatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, ok := lookup(envVarLogLevel)
	lf.envLevelSet = ok && envLogLevel != ""
	levelDefault := envLogLevel
	if !lf.envLevelSet {
		levelDefault = defaultLogLevelForMode(modeDefault)
	}

	fs.StringVar(&lf.mode, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&lf.format, "log-format", formatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&lf.level, "log-level", levelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.StringVar(&lf.otel, "otel-exporter", envOrDefault(lookup, envVarOTel, string(OTelExporterNone)), "OpenTelemetry trace/log exporter: none or stdout (env "+envVarOTel+")")
	return lf
}

func (lf *loggingFlags) resolve(setFlags map[string]bool) (Logging, error) {
	mode, err := parseMode(lf.mode)
	if err != nil {
		return Logging{}, err
	}

	formatStr := lf.format
	if !lf.envFormatSet && !setFlags["log-format"] {
		formatStr = defaultLogFormatForMode(string(mode))
	}
	levelStr := lf.level
	if !lf.envLevelSet && !setFlags["log-level"] {
		levelStr = defaultLogLevelForMode(string(mode))
	}

	format, err := parseLogFormat(formatStr)
	if err != nil {
		return Logging{}, err
	}
	level, err := parseLogLevel(levelStr)
	if err != nil {
		return Logging{}, err
	}
	exporter, err := parseOTelExporter(lf.otel)
	if err != nil {
		return Logging{}, err
	}
	return Logging{Mode: mode, LogFormat: format, LogLevel: level, OTelExporter: exporter}, nil
}

func visitedFlags(fs *flag.FlagSet) map[string]bool {
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	return setFlags
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseOTelExporter(raw string) (OTelExporter, error) {
	switch e := OTelExporter(strings.ToLower(strings.TrimSpace(raw))); e {
	case "", OTelExporterNone:
		return OTelExporterNone, nil
	case OTelExporterStdout:
		return e, nil
	default:
		return "", fmt.Errorf("invalid %s/--otel-exporter %q (expected none or stdout)", envVarOTel, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
