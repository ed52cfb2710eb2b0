package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarVendor           = "AERO_REALTIME_VENDOR"
	envVarModalities       = "AERO_REALTIME_MODALITIES"
	envVarInstructions     = "AERO_REALTIME_INSTRUCTIONS"
	envVarPrompt           = "AERO_REALTIME_PROMPT"
	envVarCallTimeout      = "AERO_REALTIME_CALL_TIMEOUT"
	envVarICEGatherTimeout = "AERO_REALTIME_ICE_GATHER_TIMEOUT"
	envVarCloseGrace       = "AERO_REALTIME_CLOSE_GRACE"
	envVarFramesDir        = "AERO_REALTIME_FRAMES_DIR"

	envVarWebRTCUDPPortMin = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax = "WEBRTC_UDP_PORT_MAX"

	DefaultInstructions     = "You are a helpful assistant. Keep your responses concise."
	DefaultCallTimeout      = 60 * time.Second
	DefaultICEGatherTimeout = 2 * time.Second
	DefaultCloseGrace       = 500 * time.Millisecond
)

// Modality is one output kind a session may produce.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// ClientConfig configures one call made by aero-realtime-call.
type ClientConfig struct {
	Logging

	Vendor Vendor

	APIURL  string
	APIKey  string
	Model   string
	Voice   string
	Face    string
	Driving string

	Modalities   []Modality
	Instructions string
	Prompt       string

	CallTimeout      time.Duration
	ICEGatherTimeout time.Duration
	CloseGrace       time.Duration

	// FramesDir enables persistence of received video frames when non-empty.
	FramesDir string

	ICEServers         []webrtc.ICEServer
	WebRTCUDPPortRange *UDPPortRange
}

// CallsURL is the call-creation endpoint derived from APIURL.
func (c ClientConfig) CallsURL() string {
	return strings.TrimRight(c.APIURL, "/") + "/v1/realtime/calls"
}

func LoadClient(args []string) (ClientConfig, error) {
	return loadClient(os.LookupEnv, args)
}

func loadClient(lookup func(string) (string, bool), args []string) (ClientConfig, error) {
	// The vendor decides which env vars the remaining defaults come from, so it
	// is resolved from env and a pre-scan of args before the real flag set.
	vendorStr := envOrDefault(lookup, envVarVendor, string(DefaultVendor))
	if v, ok := scanFlagValue(args, "vendor"); ok {
		vendorStr = v
	}
	vendor, err := LookupVendor(vendorStr)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("%s/--vendor: %w", envVarVendor, err)
	}

	apiURL := envOrDefault(lookup, vendor.APIURLEnv, vendor.DefaultAPIURL)
	apiKey := envOrDefault(lookup, vendor.APIKeyEnv, "")
	model := envOrDefault(lookup, vendor.ModelEnv, vendor.DefaultModel)
	voice := envOrDefault(lookup, vendor.VoiceEnv, vendor.DefaultVoice)
	var face, driving string
	if vendor.FaceEnv != "" {
		face = envOrDefault(lookup, vendor.FaceEnv, "")
	}
	if vendor.DrivingEnv != "" {
		driving = envOrDefault(lookup, vendor.DrivingEnv, "")
	}
	modalitiesStr := envOrDefault(lookup, envVarModalities, "")
	instructions := envOrDefault(lookup, envVarInstructions, DefaultInstructions)
	prompt := envOrDefault(lookup, envVarPrompt, vendor.TestPrompt)
	framesDir := envOrDefault(lookup, envVarFramesDir, "")

	callTimeout, err := envDurationOrDefault(lookup, envVarCallTimeout, DefaultCallTimeout)
	if err != nil {
		return ClientConfig{}, err
	}
	iceGatherTimeout, err := envDurationOrDefault(lookup, envVarICEGatherTimeout, DefaultICEGatherTimeout)
	if err != nil {
		return ClientConfig{}, err
	}
	closeGrace, err := envDurationOrDefault(lookup, envVarCloseGrace, DefaultCloseGrace)
	if err != nil {
		return ClientConfig{}, err
	}

	var portMin, portMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		portMin = uint(p)
	}
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		portMax = uint(p)
	}

	fs := flag.NewFlagSet("aero-realtime-call", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	logFlags := bindLoggingFlags(fs, lookup)
	var ice iceFlags
	ice.bind(fs.StringVar, lookup)

	fs.StringVar(&vendorStr, "vendor", vendorStr, "Realtime vendor: openai or rtav (env "+envVarVendor+")")
	fs.StringVar(&apiURL, "api-url", apiURL, "API base URL (env "+vendor.APIURLEnv+")")
	fs.StringVar(&apiKey, "api-key", apiKey, "API key sent as a bearer token (env "+vendor.APIKeyEnv+")")
	fs.StringVar(&model, "model", model, "Model name (env "+vendor.ModelEnv+")")
	fs.StringVar(&voice, "voice", voice, "Voice id (env "+vendor.VoiceEnv+")")
	fs.StringVar(&face, "face", face, "Face id for video-capable vendors")
	fs.StringVar(&driving, "driving", driving, "Driving id for video-capable vendors")
	fs.StringVar(&modalitiesStr, "modalities", modalitiesStr, "Comma-separated output modalities: audio, text, image (env "+envVarModalities+")")
	fs.StringVar(&instructions, "instructions", instructions, "Session instructions (env "+envVarInstructions+")")
	fs.StringVar(&prompt, "prompt", prompt, "User message sent once the session is configured (env "+envVarPrompt+")")
	fs.DurationVar(&callTimeout, "call-timeout", callTimeout, "Max time to wait for the response to complete (env "+envVarCallTimeout+")")
	fs.DurationVar(&iceGatherTimeout, "ice-gather-timeout", iceGatherTimeout, "Max time to wait for ICE gathering before sending the offer (env "+envVarICEGatherTimeout+")")
	fs.DurationVar(&closeGrace, "close-grace", closeGrace, "Time to keep draining events after completion (env "+envVarCloseGrace+")")
	fs.StringVar(&framesDir, "frames-dir", framesDir, "Directory to save received video frames into (env "+envVarFramesDir+")")
	fs.UintVar(&portMin, "webrtc-udp-port-min", portMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&portMax, "webrtc-udp-port-max", portMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}
	if fs.NArg() > 0 {
		return ClientConfig{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	logging, err := logFlags.resolve(visitedFlags(fs))
	if err != nil {
		return ClientConfig{}, err
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ClientConfig{}, fmt.Errorf("%w: set %s or --api-key", ErrMissingAPIKey, vendor.APIKeyEnv)
	}
	if err := validateBaseURL(apiURL); err != nil {
		return ClientConfig{}, fmt.Errorf("%s/--api-url: %w", vendor.APIURLEnv, err)
	}
	if strings.TrimSpace(model) == "" {
		return ClientConfig{}, fmt.Errorf("%s/--model must not be empty", vendor.ModelEnv)
	}
	modalities, err := parseModalities(modalitiesStr)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("%s/--modalities: %w", envVarModalities, err)
	}
	if !vendor.SupportsImages && containsModality(modalities, ModalityImage) {
		return ClientConfig{}, fmt.Errorf("%s/--modalities: %s does not stream image output", envVarModalities, vendor.DisplayName)
	}
	if strings.TrimSpace(prompt) == "" {
		return ClientConfig{}, fmt.Errorf("%s/--prompt must not be empty", envVarPrompt)
	}
	if callTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("%s/--call-timeout must be > 0", envVarCallTimeout)
	}
	if iceGatherTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("%s/--ice-gather-timeout must be > 0", envVarICEGatherTimeout)
	}
	if closeGrace < 0 {
		return ClientConfig{}, fmt.Errorf("%s/--close-grace must be >= 0", envVarCloseGrace)
	}

	portRange, err := parsePortRange(portMin, portMax)
	if err != nil {
		return ClientConfig{}, err
	}

	iceServers, err := ice.servers()
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		Logging:            logging,
		Vendor:             vendor,
		APIURL:             strings.TrimRight(strings.TrimSpace(apiURL), "/"),
		APIKey:             apiKey,
		Model:              strings.TrimSpace(model),
		Voice:              strings.TrimSpace(voice),
		Face:               strings.TrimSpace(face),
		Driving:            strings.TrimSpace(driving),
		Modalities:         modalities,
		Instructions:       instructions,
		Prompt:             prompt,
		CallTimeout:        callTimeout,
		ICEGatherTimeout:   iceGatherTimeout,
		CloseGrace:         closeGrace,
		FramesDir:          strings.TrimSpace(framesDir),
		ICEServers:         iceServers,
		WebRTCUDPPortRange: portRange,
	}, nil
}

// scanFlagValue finds the value of -name/--name in args without parsing the
// rest of the command line.
func scanFlagValue(args []string, name string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return "", false
		}
		trimmed := strings.TrimLeft(arg, "-")
		if trimmed == arg || len(arg)-len(trimmed) > 2 {
			continue
		}
		if k, v, ok := strings.Cut(trimmed, "="); ok {
			if k == name {
				return v, true
			}
			continue
		}
		if trimmed == name && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must not contain a query or fragment")
	}
	return nil
}

func parseModalities(raw string) ([]Modality, error) {
	var out []Modality
	seen := map[Modality]bool{}
	for _, part := range splitCommaSeparated(raw) {
		m := Modality(strings.ToLower(part))
		switch m {
		case ModalityAudio, ModalityText, ModalityImage:
		default:
			return nil, fmt.Errorf("unknown modality %q (expected audio, text or image)", part)
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

func parsePortRange(portMin, portMax uint) (*UDPPortRange, error) {
	if (portMin == 0) != (portMax == 0) {
		return nil, fmt.Errorf("%s and %s must be set together (or both unset)", envVarWebRTCUDPPortMin, envVarWebRTCUDPPortMax)
	}
	if portMin == 0 {
		return nil, nil
	}
	lo, err := parsePortUint(portMin)
	if err != nil {
		return nil, fmt.Errorf("--webrtc-udp-port-min: %w", err)
	}
	hi, err := parsePortUint(portMax)
	if err != nil {
		return nil, fmt.Errorf("--webrtc-udp-port-max: %w", err)
	}
	if lo > hi {
		return nil, fmt.Errorf("webrtc udp port range min %d > max %d", lo, hi)
	}
	return &UDPPortRange{Min: lo, Max: hi}, nil
}

func parsePortString(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	return parsePortUint(uint(n))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range", v)
	}
	return uint16(v), nil
}

// HasModality reports whether m was requested. An empty modality list means
// the vendor default.
func (c ClientConfig) HasModality(m Modality) bool {
	return containsModality(c.Modalities, m)
}

func containsModality(ms []Modality, m Modality) bool {
	for _, have := range ms {
		if have == m {
			return true
		}
	}
	return false
}
