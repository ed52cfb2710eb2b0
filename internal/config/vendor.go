package config

import (
	"fmt"
	"sort"
	"strings"
)

type VendorName string

const (
	VendorOpenAI VendorName = "openai"
	VendorRTAV   VendorName = "rtav"

	DefaultVendor = VendorRTAV
)

// Vendor describes one realtime calls endpoint. The call client is identical
// for every vendor; only the values in this table differ.
type Vendor struct {
	Name        VendorName
	DisplayName string

	DefaultAPIURL string
	DefaultModel  string
	DefaultVoice  string

	APIKeyEnv  string
	APIURLEnv  string
	ModelEnv   string
	VoiceEnv   string
	FaceEnv    string
	DrivingEnv string

	// NestedVoice sends the voice as audio.output.voice instead of a flat
	// voice field, and tags session.update payloads with type=realtime.
	NestedVoice bool
	// SupportsImages is true when the endpoint can stream video frames as
	// image deltas.
	SupportsImages bool

	TestPrompt string
}

var Vendors = map[VendorName]Vendor{
	VendorOpenAI: {
		Name:          VendorOpenAI,
		DisplayName:   "OpenAI",
		DefaultAPIURL: "https://api.openai.com",
		DefaultModel:  "gpt-realtime",
		DefaultVoice:  "alloy",
		APIKeyEnv:     "OPENAI_API_KEY",
		APIURLEnv:     "OPENAI_API_URL",
		ModelEnv:      "OPENAI_MODEL",
		VoiceEnv:      "OPENAI_VOICE",
		NestedVoice:   true,
		TestPrompt:    `Hello! Can you say "Hello, this is OpenAI Realtime API" in a friendly way?`,
	},
	VendorRTAV: {
		Name:           VendorRTAV,
		DisplayName:    "RTAV",
		DefaultAPIURL:  "https://api.rtav.io",
		DefaultModel:   "gpt-5.2",
		DefaultVoice:   "default",
		APIKeyEnv:      "RTAV_API_KEY",
		APIURLEnv:      "RTAV_API_URL",
		ModelEnv:       "RTAV_MODEL",
		VoiceEnv:       "RTAV_VOICE_ID",
		FaceEnv:        "RTAV_FACE_ID",
		DrivingEnv:     "RTAV_DRIVING_ID",
		SupportsImages: true,
		TestPrompt:     `Hello! Can you say "Hello, this is RTAV Realtime API" in a friendly way?`,
	},
}

func LookupVendor(raw string) (Vendor, error) {
	name := VendorName(strings.ToLower(strings.TrimSpace(raw)))
	v, ok := Vendors[name]
	if !ok {
		return Vendor{}, fmt.Errorf("unknown vendor %q (expected %s)", raw, strings.Join(vendorNames(), " or "))
	}
	return v, nil
}

func vendorNames() []string {
	names := make([]string, 0, len(Vendors))
	for name := range Vendors {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
