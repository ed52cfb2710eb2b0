package webrtcpeer

import (
	"fmt"
	"log/slog"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
)

// Settings are the knobs applied to the pion SettingEngine.
type Settings struct {
	UDPPortRange *config.UDPPortRange

	// Logger receives pion's internal logs. Nil keeps pion's default logger.
	Logger *slog.Logger

	// Net replaces the OS network stack, e.g. with a vnet for tests.
	Net transport.Net
}

func SettingsFromConfig(cfg config.ClientConfig, logger *slog.Logger) Settings {
	return Settings{
		UDPPortRange: cfg.WebRTCUDPPortRange,
		Logger:       logger,
	}
}

// NewAPI builds a webrtc.API with the default codecs registered, so offers
// carry a usable audio section.
func NewAPI(s Settings) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if err := ApplyNetworkSettings(&se, s); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		se.LoggerFactory = NewLoggerFactory(s.Logger)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, s Settings) error {
	if s.UDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(s.UDPPortRange.Min, s.UDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if s.Net != nil {
		se.SetNet(s.Net)
	}
	return nil
}
