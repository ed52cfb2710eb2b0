package config

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestClientDefaultsRTAV(t *testing.T) {
	cfg, err := loadClient(lookupMap(map[string]string{
		"RTAV_API_KEY": "sk-test",
	}), nil)
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.Vendor.Name != VendorRTAV {
		t.Fatalf("vendor=%q, want %q", cfg.Vendor.Name, VendorRTAV)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.APIURL != "https://api.rtav.io" {
		t.Fatalf("APIURL=%q, want https://api.rtav.io", cfg.APIURL)
	}
	if got, want := cfg.CallsURL(), "https://api.rtav.io/v1/realtime/calls"; got != want {
		t.Fatalf("CallsURL=%q, want %q", got, want)
	}
	if cfg.Model != "gpt-5.2" {
		t.Fatalf("Model=%q, want gpt-5.2", cfg.Model)
	}
	if cfg.Voice != "default" {
		t.Fatalf("Voice=%q, want default", cfg.Voice)
	}
	if cfg.CallTimeout != DefaultCallTimeout {
		t.Fatalf("CallTimeout=%v, want %v", cfg.CallTimeout, DefaultCallTimeout)
	}
	if cfg.ICEGatherTimeout != DefaultICEGatherTimeout {
		t.Fatalf("ICEGatherTimeout=%v, want %v", cfg.ICEGatherTimeout, DefaultICEGatherTimeout)
	}
	if cfg.CloseGrace != DefaultCloseGrace {
		t.Fatalf("CloseGrace=%v, want %v", cfg.CloseGrace, DefaultCloseGrace)
	}
	if cfg.Instructions != DefaultInstructions {
		t.Fatalf("Instructions=%q, want %q", cfg.Instructions, DefaultInstructions)
	}
	if !strings.Contains(cfg.Prompt, "RTAV Realtime API") {
		t.Fatalf("Prompt=%q, want the RTAV test prompt", cfg.Prompt)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != DefaultSTUNURL {
		t.Fatalf("ICEServers=%+v, want default STUN", cfg.ICEServers)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if cfg.FramesDir != "" {
		t.Fatalf("FramesDir=%q, want empty", cfg.FramesDir)
	}
}

func TestClientVendorOpenAIFromFlag(t *testing.T) {
	cfg, err := loadClient(lookupMap(map[string]string{
		"OPENAI_API_KEY": "sk-openai",
		"RTAV_API_KEY":   "sk-rtav",
		"RTAV_MODEL":     "ignored",
	}), []string{"--vendor", "openai"})
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.Vendor.Name != VendorOpenAI {
		t.Fatalf("vendor=%q, want %q", cfg.Vendor.Name, VendorOpenAI)
	}
	if cfg.APIKey != "sk-openai" {
		t.Fatalf("APIKey=%q, want sk-openai", cfg.APIKey)
	}
	if cfg.Model != "gpt-realtime" {
		t.Fatalf("Model=%q, want gpt-realtime", cfg.Model)
	}
	if cfg.Voice != "alloy" {
		t.Fatalf("Voice=%q, want alloy", cfg.Voice)
	}
	if !cfg.Vendor.NestedVoice {
		t.Fatalf("expected nested voice for openai")
	}
}

func TestClientVendorFromEnvEqualsSyntax(t *testing.T) {
	cfg, err := loadClient(lookupMap(map[string]string{
		envVarVendor:     "rtav",
		"OPENAI_API_KEY": "sk-openai",
	}), []string{"-vendor=OpenAI"})
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.Vendor.Name != VendorOpenAI {
		t.Fatalf("vendor=%q, want %q", cfg.Vendor.Name, VendorOpenAI)
	}
}

func TestClientUnknownVendor(t *testing.T) {
	_, err := loadClient(lookupMap(map[string]string{
		envVarVendor: "acme",
	}), nil)
	if err == nil {
		t.Fatalf("expected error for unknown vendor")
	}
}

func TestClientMissingAPIKey(t *testing.T) {
	_, err := loadClient(lookupMap(nil), nil)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err=%v, want ErrMissingAPIKey", err)
	}
	if !strings.Contains(err.Error(), "RTAV_API_KEY") {
		t.Fatalf("err=%q, want it to name RTAV_API_KEY", err)
	}
}

func TestClientRTAVFaceAndDriving(t *testing.T) {
	cfg, err := loadClient(lookupMap(map[string]string{
		"RTAV_API_KEY":    "k",
		"RTAV_FACE_ID":    "face-1",
		"RTAV_DRIVING_ID": "drv-1",
		"RTAV_VOICE_ID":   "voice-7",
	}), []string{"--modalities", "text, image,TEXT"})
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.Face != "face-1" || cfg.Driving != "drv-1" || cfg.Voice != "voice-7" {
		t.Fatalf("face=%q driving=%q voice=%q", cfg.Face, cfg.Driving, cfg.Voice)
	}
	if len(cfg.Modalities) != 2 || cfg.Modalities[0] != ModalityText || cfg.Modalities[1] != ModalityImage {
		t.Fatalf("Modalities=%v, want [text image]", cfg.Modalities)
	}
	if !cfg.HasModality(ModalityImage) || cfg.HasModality(ModalityAudio) {
		t.Fatalf("HasModality mismatch for %v", cfg.Modalities)
	}
}

func TestClientInvalidModality(t *testing.T) {
	_, err := loadClient(lookupMap(map[string]string{"RTAV_API_KEY": "k"}), []string{"--modalities", "smell"})
	if err == nil {
		t.Fatalf("expected error for unknown modality")
	}
}

func TestClientImageModalityRequiresImageVendor(t *testing.T) {
	_, err := loadClient(lookupMap(map[string]string{"OPENAI_API_KEY": "k"}), []string{"--vendor", "openai", "--modalities", "text,image"})
	if err == nil || !strings.Contains(err.Error(), "image") {
		t.Fatalf("err=%v, want image modality rejected for openai", err)
	}

	cfg, err := loadClient(lookupMap(map[string]string{"OPENAI_API_KEY": "k"}), []string{"--vendor", "openai", "--modalities", "audio,text"})
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.HasModality(ModalityImage) {
		t.Fatalf("HasModality(image)=true for %v", cfg.Modalities)
	}
}

func TestClientInvalidAPIURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "https://", "https://example.com?x=1"} {
		_, err := loadClient(lookupMap(map[string]string{"RTAV_API_KEY": "k"}), []string{"--api-url", raw})
		if err == nil {
			t.Fatalf("expected error for api url %q", raw)
		}
	}
}

func TestClientAPIURLTrailingSlash(t *testing.T) {
	cfg, err := loadClient(lookupMap(map[string]string{
		"RTAV_API_KEY": "k",
		"RTAV_API_URL": "https://192.168.1.5:8443/",
	}), nil)
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if got, want := cfg.CallsURL(), "https://192.168.1.5:8443/v1/realtime/calls"; got != want {
		t.Fatalf("CallsURL=%q, want %q", got, want)
	}
}

func TestClientTimeouts(t *testing.T) {
	cfg, err := loadClient(lookupMap(map[string]string{
		"RTAV_API_KEY":    "k",
		envVarCallTimeout: "5s",
		envVarCloseGrace:  "0s",
		envVarFramesDir:   "/tmp/frames",
	}), []string{"--ice-gather-timeout", "250ms"})
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.CallTimeout != 5*time.Second {
		t.Fatalf("CallTimeout=%v, want 5s", cfg.CallTimeout)
	}
	if cfg.ICEGatherTimeout != 250*time.Millisecond {
		t.Fatalf("ICEGatherTimeout=%v, want 250ms", cfg.ICEGatherTimeout)
	}
	if cfg.CloseGrace != 0 {
		t.Fatalf("CloseGrace=%v, want 0", cfg.CloseGrace)
	}
	if cfg.FramesDir != "/tmp/frames" {
		t.Fatalf("FramesDir=%q, want /tmp/frames", cfg.FramesDir)
	}

	if _, err := loadClient(lookupMap(map[string]string{"RTAV_API_KEY": "k"}), []string{"--call-timeout", "0s"}); err == nil {
		t.Fatalf("expected error for zero call timeout")
	}
	if _, err := loadClient(lookupMap(map[string]string{"RTAV_API_KEY": "k", envVarCallTimeout: "soon"}), nil); err == nil {
		t.Fatalf("expected error for unparsable call timeout")
	}
}

func TestClientWebRTCUDPPortRange(t *testing.T) {
	_, err := loadClient(lookupMap(map[string]string{
		"RTAV_API_KEY":         "k",
		envVarWebRTCUDPPortMin: "50000",
	}), nil)
	if err == nil {
		t.Fatalf("expected error when only the min port is set")
	}

	cfg, err := loadClient(lookupMap(map[string]string{"RTAV_API_KEY": "k"}), []string{
		"--webrtc-udp-port-min", "50000",
		"--webrtc-udp-port-max", "50100",
	})
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil || cfg.WebRTCUDPPortRange.Min != 50000 || cfg.WebRTCUDPPortRange.Max != 50100 {
		t.Fatalf("WebRTCUDPPortRange=%+v, want 50000-50100", cfg.WebRTCUDPPortRange)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := loadRelay(lookupMap(nil), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := loadRelay(lookupMap(map[string]string{
		envVarMode:      "prod",
		envVarLogFormat: "text",
	}), nil)
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	if _, err := loadRelay(lookupMap(nil), []string{"--log-level", "loud"}); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
}

func TestRelayDefaults(t *testing.T) {
	cfg, err := loadRelay(lookupMap(nil), nil)
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.UpstreamURL != "https://api.rtav.io" {
		t.Fatalf("UpstreamURL=%q, want https://api.rtav.io", cfg.UpstreamURL)
	}
	if cfg.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("MaxBodyBytes=%d, want %d", cfg.MaxBodyBytes, DefaultMaxBodyBytes)
	}
	if cfg.UpstreamTimeout != DefaultUpstreamTimeout {
		t.Fatalf("UpstreamTimeout=%v, want %v", cfg.UpstreamTimeout, DefaultUpstreamTimeout)
	}
	if cfg.ShutdownTimeout != DefaultShutdown {
		t.Fatalf("ShutdownTimeout=%v, want %v", cfg.ShutdownTimeout, DefaultShutdown)
	}
	if cfg.OpsListenAddr != DefaultOpsListenAddr {
		t.Fatalf("OpsListenAddr=%q, want %q", cfg.OpsListenAddr, DefaultOpsListenAddr)
	}
	if cfg.OTelExporter != OTelExporterNone {
		t.Fatalf("OTelExporter=%q, want %q", cfg.OTelExporter, OTelExporterNone)
	}
}

func TestRelayOpsListenAddr(t *testing.T) {
	cfg, err := loadRelay(lookupMap(map[string]string{
		"AERO_REALTIME_RELAY_OPS_LISTEN_ADDR": "127.0.0.1:9100",
	}), nil)
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.OpsListenAddr != "127.0.0.1:9100" {
		t.Fatalf("OpsListenAddr=%q, want 127.0.0.1:9100", cfg.OpsListenAddr)
	}

	cfg, err = loadRelay(lookupMap(nil), []string{"--ops-listen-addr="})
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.OpsListenAddr != "" {
		t.Fatalf("OpsListenAddr=%q, want empty", cfg.OpsListenAddr)
	}

	if _, err := loadRelay(lookupMap(nil), []string{"--ops-listen-addr", DefaultListenAddr}); err == nil {
		t.Fatalf("expected error when ops and relay addresses collide")
	}
}

func TestOTelExporterFlag(t *testing.T) {
	cfg, err := loadRelay(lookupMap(map[string]string{"AERO_REALTIME_OTEL_EXPORTER": "stdout"}), nil)
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.OTelExporter != OTelExporterStdout {
		t.Fatalf("OTelExporter=%q, want %q", cfg.OTelExporter, OTelExporterStdout)
	}

	cfg, err = loadRelay(lookupMap(map[string]string{"AERO_REALTIME_OTEL_EXPORTER": "stdout"}), []string{"--otel-exporter", "none"})
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.OTelExporter != OTelExporterNone {
		t.Fatalf("OTelExporter=%q, want flag to override env", cfg.OTelExporter)
	}

	if _, err := loadRelay(lookupMap(nil), []string{"--otel-exporter", "jaeger"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestRelayUpstreamFromEnv(t *testing.T) {
	cfg, err := loadRelay(lookupMap(map[string]string{
		"RTAV_API_URL": "https://10.0.0.5:8443/",
	}), []string{"--max-body-bytes", "4096"})
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.UpstreamURL != "https://10.0.0.5:8443" {
		t.Fatalf("UpstreamURL=%q, want https://10.0.0.5:8443", cfg.UpstreamURL)
	}
	if cfg.MaxBodyBytes != 4096 {
		t.Fatalf("MaxBodyBytes=%d, want 4096", cfg.MaxBodyBytes)
	}

	if _, err := loadRelay(lookupMap(nil), []string{"--max-body-bytes", "0"}); err == nil {
		t.Fatalf("expected error for zero max body bytes")
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(Logging{LogFormat: LogFormatJSON, LogLevel: slog.LevelInfo}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("hidden")
	logger.With("component", "test").Info("visible", "n", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record leaked at info level: %s", out)
	}
	if !strings.Contains(out, `"msg":"visible"`) || !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(Logging{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unknown log format")
	}
}

func TestScanFlagValue(t *testing.T) {
	cases := []struct {
		args []string
		want string
		ok   bool
	}{
		{[]string{"--vendor", "openai"}, "openai", true},
		{[]string{"-vendor=rtav"}, "rtav", true},
		{[]string{"--model", "x", "--vendor=openai"}, "openai", true},
		{[]string{"--", "--vendor", "openai"}, "", false},
		{[]string{"---vendor", "openai"}, "", false},
		{[]string{"--vendor"}, "", false},
	}
	for _, tc := range cases {
		got, ok := scanFlagValue(tc.args, "vendor")
		if got != tc.want || ok != tc.ok {
			t.Fatalf("scanFlagValue(%v)=(%q,%v), want (%q,%v)", tc.args, got, ok, tc.want, tc.ok)
		}
	}
}
