package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/upstream"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/webrtcpeer"
)

const (
	DefaultHandshakeTimeout = 30 * time.Second

	inboxSize = 256
)

// Options describes one call. OptionsFromConfig fills it from the client
// configuration; zero durations fall back to the config defaults.
type Options struct {
	Vendor   config.Vendor
	CallsURL string
	APIKey   string

	Model   string
	Voice   string
	Face    string
	Driving string

	Modalities   []config.Modality
	Instructions string
	Prompt       string

	CallTimeout      time.Duration
	ICEGatherTimeout time.Duration
	CloseGrace       time.Duration

	ICEServers []webrtc.ICEServer
	// API creates the peer connection. nil uses pion defaults.
	API *webrtc.API
	// HTTPClient posts the offer. nil builds one with upstream.NewClient.
	HTTPClient *http.Client

	Frames   FrameSink
	Observer Observer
	Logger   *slog.Logger
}

func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		Vendor:           cfg.Vendor,
		CallsURL:         cfg.CallsURL(),
		APIKey:           cfg.APIKey,
		Model:            cfg.Model,
		Voice:            cfg.Voice,
		Face:             cfg.Face,
		Driving:          cfg.Driving,
		Modalities:       cfg.Modalities,
		Instructions:     cfg.Instructions,
		Prompt:           cfg.Prompt,
		CallTimeout:      cfg.CallTimeout,
		ICEGatherTimeout: cfg.ICEGatherTimeout,
		CloseGrace:       cfg.CloseGrace,
		ICEServers:       cfg.ICEServers,
	}
}

// CallSession is the session object posted with the offer.
func (o Options) CallSession() SessionConfig {
	s := SessionConfig{
		Type:         sessionTypeRealtime,
		Model:        o.Model,
		Instructions: o.Instructions,
		Face:         o.Face,
		Driving:      o.Driving,
		Modalities:   o.modalityNames(),
	}
	o.setVoice(&s)
	return s
}

// SessionUpdate is the session object sent in session.update once the
// session exists.
func (o Options) SessionUpdate() SessionConfig {
	s := SessionConfig{
		Model:        o.Model,
		Instructions: o.Instructions,
		Face:         o.Face,
		Driving:      o.Driving,
		Modalities:   o.modalityNames(),
	}
	if o.Vendor.NestedVoice {
		s.Type = sessionTypeRealtime
	}
	o.setVoice(&s)
	return s
}

func (o Options) setVoice(s *SessionConfig) {
	if o.Voice == "" {
		return
	}
	if o.Vendor.NestedVoice {
		s.Audio = &AudioConfig{Output: AudioOutputConfig{Voice: o.Voice}}
		return
	}
	s.Voice = o.Voice
}

func (o Options) modalityNames() []string {
	if len(o.Modalities) == 0 {
		return nil
	}
	out := make([]string, 0, len(o.Modalities))
	for _, m := range o.Modalities {
		out = append(out, string(m))
	}
	return out
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = config.DefaultCallTimeout
	}
	if o.ICEGatherTimeout <= 0 {
		o.ICEGatherTimeout = config.DefaultICEGatherTimeout
	}
	if o.CloseGrace < 0 {
		o.CloseGrace = 0
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Prompt == "" {
		o.Prompt = o.Vendor.TestPrompt
	}
	return o
}

// Outcome summarizes a finished call. RunCall returns it on failure too,
// holding whatever was received before the call ended.
type Outcome struct {
	Vendor    config.VendorName
	SessionID string
	// FinalState is the state the call was in when it ended.
	FinalState State
	Completed  bool

	ResponseID string
	Text       string

	ImageFrames int
	// ReportedFrames is the server's total_frames, or -1 if none was sent.
	ReportedFrames int

	AudioCodec   string
	AudioPackets uint64
	AudioBytes   uint64

	Events       map[string]int
	DecodeErrors int

	StartedAt time.Time
	EndedAt   time.Time
}

func (o *Outcome) Duration() time.Duration { return o.EndedAt.Sub(o.StartedAt) }

type inboundKind int

const (
	inboundOpen inboundKind = iota
	inboundMessage
	inboundState
	inboundTrack
)

// inbound is one pion callback, forwarded to the driver goroutine.
type inbound struct {
	kind     inboundKind
	data     []byte
	isString bool
	state    webrtc.PeerConnectionState
	codec    string
}

// RunCall places one call and blocks until the response completes, the far
// end reports an error, the transport fails, the call times out or ctx is
// canceled. The peer connection is closed on every path.
func RunCall(ctx context.Context, opts Options) (*Outcome, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, config.ErrMissingAPIKey
	}

	client := opts.HTTPClient
	insecure := false
	if client == nil {
		target, err := upstream.ParseTarget(opts.CallsURL)
		if err != nil {
			return nil, fmt.Errorf("calls url: %w", err)
		}
		client, insecure = upstream.NewClient(target, DefaultHandshakeTimeout)
	}

	ctx, span := tracer.Start(ctx, "realtime.call", trace.WithAttributes(
		attribute.String("realtime.vendor", string(opts.Vendor.Name)),
		attribute.String("realtime.model", opts.Model),
		attribute.Bool("realtime.tls_verification_skipped", insecure),
	))
	defer span.End()

	log := opts.Logger.With("vendor", string(opts.Vendor.Name))
	if insecure {
		log.Debug("TLS certificate verification disabled for private API host", "calls_url", opts.CallsURL)
	}
	call := newCall(callParams{
		Session:  opts.SessionUpdate(),
		Prompt:   opts.Prompt,
		Frames:   opts.Frames,
		Observer: opts.Observer,
		Logger:   log,
	})
	audio := &audioStats{}
	out := &Outcome{Vendor: opts.Vendor.Name, StartedAt: time.Now()}

	finish := func(err error) (*Outcome, error) {
		call.close()
		call.fillOutcome(out)
		out.AudioPackets = audio.packets.Load()
		out.AudioBytes = audio.bytes.Load()
		out.EndedAt = time.Now()
		if out.SessionID != "" {
			span.SetAttributes(attribute.String("realtime.session_id", out.SessionID))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("call ended with error", "state", out.FinalState.String(), "err", err)
		} else {
			log.Info("call completed", "duration", out.Duration(), "text_bytes", len(out.Text), "image_frames", out.ImageFrames)
		}
		return out, err
	}

	offerer, err := webrtcpeer.NewOfferer(opts.API, opts.ICEServers)
	if err != nil {
		return finish(err)
	}
	defer offerer.Close()

	// Handlers only forward into inbox; done stops them once RunCall returns.
	inbox := make(chan inbound, inboxSize)
	done := make(chan struct{})
	defer close(done)
	post := func(in inbound) {
		select {
		case inbox <- in:
		case <-done:
		}
	}

	dc := offerer.DataChannel()
	dc.OnOpen(func() {
		post(inbound{kind: inboundOpen})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// pion reuses the message buffer after the callback returns.
		data := append([]byte(nil), msg.Data...)
		post(inbound{kind: inboundMessage, data: data, isString: msg.IsString})
	})

	pc := offerer.PeerConnection()
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		post(inbound{kind: inboundState, state: s})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		post(inbound{kind: inboundTrack, codec: track.Codec().MimeType})
		go readAudio(track, audio)
	})

	offer, complete, err := offerer.CreateOffer(ctx, opts.ICEGatherTimeout)
	if err != nil {
		return finish(err)
	}
	if !complete {
		log.Warn("ICE gathering incomplete; sending the candidates gathered so far", "timeout", opts.ICEGatherTimeout)
	}

	call.setState(StateHandshaking)
	answer, err := CreateCall(ctx, client, CallRequest{
		URL:      opts.CallsURL,
		APIKey:   opts.APIKey,
		OfferSDP: offer.SDP,
		Session:  opts.CallSession(),
	})
	if err != nil {
		return finish(err)
	}
	call.recordSessionID(answer.SessionID)
	if err := offerer.AcceptAnswer(answer.SDP); err != nil {
		return finish(err)
	}
	call.setState(StateNegotiated)

	d := driver{call: call, dc: dc, inbox: inbox, log: log}
	if err := d.run(ctx, opts.CallTimeout); err != nil {
		return finish(err)
	}
	d.drain(ctx, opts.CloseGrace)
	return finish(nil)
}

type driver struct {
	call  *Call
	dc    sender
	inbox <-chan inbound
	log   *slog.Logger
}

// run consumes inbox until the response completes or the call fails.
func (d *driver) run(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w after %s (state %s)", ErrTimeout, timeout, d.call.State())
		case in := <-d.inbox:
			done, err := d.handle(in)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (d *driver) handle(in inbound) (bool, error) {
	switch in.kind {
	case inboundOpen:
		d.call.channelOpen(d.dc)
	case inboundMessage:
		// pion may deliver a message before running the open handler.
		d.call.channelOpen(d.dc)
		return d.call.handleMessage(in.data, in.isString)
	case inboundState:
		d.log.Debug("peer connection state", "state", in.state.String())
		switch in.state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			return false, fmt.Errorf("%w: peer connection %s", ErrTransportLost, in.state)
		}
	case inboundTrack:
		d.call.audioTrack(in.codec)
	}
	return false, nil
}

// drain keeps consuming for grace after a successful completion so trailing
// events are logged rather than lost. Errors during the drain are not fatal.
func (d *driver) drain(ctx context.Context, grace time.Duration) {
	if grace <= 0 {
		return
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case in := <-d.inbox:
			if _, err := d.handle(in); err != nil {
				d.log.Debug("error while draining", "err", err)
			}
		}
	}
}
