package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// sender is the outbound half of the data channel.
type sender interface {
	SendText(s string) error
}

// Observer receives progress notifications while a call runs. Methods are
// invoked from the call's driver goroutine, one at a time, and must not block.
type Observer interface {
	OnStateChange(from, to State)
	OnSessionID(id string)
	OnEvent(ev Event)
	OnTextDelta(delta string)
	OnImageFrame(seq int, jpeg []byte)
	OnAudioTrack(codec string)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnStateChange(State, State) {}
func (NopObserver) OnSessionID(string)         {}
func (NopObserver) OnEvent(Event)              {}
func (NopObserver) OnTextDelta(string)         {}
func (NopObserver) OnImageFrame(int, []byte)   {}
func (NopObserver) OnAudioTrack(string)        {}

type response struct {
	id     string
	text   strings.Builder
	frames int
	// reportedFrames is total_frames from response.output_image.done, -1
	// until one arrives.
	reportedFrames int
}

type callParams struct {
	Session  SessionConfig
	Prompt   string
	Frames   FrameSink
	Observer Observer
	Logger   *slog.Logger
}

// Call is the state machine of one conversation. It is not safe for
// concurrent use; RunCall feeds it from a single goroutine.
type Call struct {
	log     *slog.Logger
	obs     Observer
	frames  FrameSink
	session SessionConfig
	prompt  string

	send  sender
	state State
	// final is the state the call was in when it ended.
	final State

	sessionID   string
	updateSent  bool
	messageSent bool
	completed   bool

	open *response
	last *response

	frameSeq     int
	decodeErrors int
	counts       map[string]int
	audioCodec   string
}

func newCall(p callParams) *Call {
	obs := p.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Call{
		log:     log,
		obs:     obs,
		frames:  p.Frames,
		session: p.Session,
		prompt:  p.Prompt,
		state:   StateConnecting,
		counts:  make(map[string]int),
	}
}

func (c *Call) State() State { return c.state }

func (c *Call) SessionID() string { return c.sessionID }

func (c *Call) setState(to State) {
	if to == c.state {
		return
	}
	from := c.state
	c.state = to
	c.log.Debug("call state changed", "from", from.String(), "to", to.String())
	c.obs.OnStateChange(from, to)
}

func (c *Call) recordSessionID(id string) {
	id = strings.TrimSpace(id)
	if id == "" || id == c.sessionID {
		return
	}
	if c.sessionID != "" {
		c.log.Debug("session id replaced", "previous", c.sessionID, "session_id", id)
	}
	c.sessionID = id
	c.log = c.log.With("session_id", id)
	c.obs.OnSessionID(id)
}

// channelOpen marks the data channel usable. Sends before this fail with
// ErrChannelNotOpen.
func (c *Call) channelOpen(s sender) {
	if c.state == StateClosed || c.send != nil {
		return
	}
	c.send = s
	c.log.Info("data channel open")
	c.setState(StateConfiguring)
}

func (c *Call) audioTrack(codec string) {
	c.audioCodec = codec
	c.log.Info("remote audio track", "codec", codec)
	c.obs.OnAudioTrack(codec)
}

func (c *Call) sendEvent(v any) error {
	if c.state == StateClosed {
		return ErrCallClosed
	}
	if c.send == nil {
		return ErrChannelNotOpen
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode client event: %w", err)
	}
	if err := c.send.SendText(string(b)); err != nil {
		return fmt.Errorf("send client event: %w", err)
	}
	return nil
}

// handleMessage decodes one data channel message and dispatches it. Decode
// failures are logged and dropped. done reports that the response completed.
func (c *Call) handleMessage(data []byte, isString bool) (done bool, err error) {
	if c.state == StateClosed {
		return false, nil
	}
	if !isString {
		c.decodeErrors++
		c.log.Warn("dropping binary data channel message", "bytes", len(data))
		return false, nil
	}
	ev, err := ParseEvent(data)
	if err != nil {
		c.decodeErrors++
		c.log.Warn("dropping undecodable data channel message", "err", err, "bytes", len(data))
		return false, nil
	}
	return c.dispatch(ev)
}

// dispatch applies one event. It is the only place call state changes in
// response to the far end.
func (c *Call) dispatch(ev Event) (done bool, err error) {
	if c.state == StateClosed {
		return false, nil
	}
	c.counts[ev.EventType()]++
	c.obs.OnEvent(ev)

	if c.completed {
		c.log.Debug("event after completion", "event_type", ev.EventType())
		return false, nil
	}

	switch e := ev.(type) {
	case SessionCreated:
		c.recordSessionID(e.SessionID)
		c.log.Info("session created")
		if c.updateSent {
			c.log.Warn("duplicate session.created ignored")
			return false, nil
		}
		if err := c.sendEvent(newSessionUpdate(c.session)); err != nil {
			return false, fmt.Errorf("%s: %w", TypeSessionUpdate, err)
		}
		c.updateSent = true

	case SessionUpdated:
		c.recordSessionID(e.SessionID)
		if c.messageSent {
			c.log.Warn("session.updated received again after the message was sent")
			return false, nil
		}
		if c.state != StateConfiguring {
			c.log.Warn("session.updated before data channel open", "state", c.state.String())
			return false, nil
		}
		c.log.Info("session configured")
		c.setState(StateConversing)
		if err := c.sendEvent(newUserMessage(c.prompt)); err != nil {
			return false, fmt.Errorf("%s: %w", TypeConversationItemCreate, err)
		}
		if err := c.sendEvent(newResponseCreate()); err != nil {
			return false, fmt.Errorf("%s: %w", TypeResponseCreate, err)
		}
		c.messageSent = true
		c.setState(StateStreaming)

	case ResponseCreated:
		if c.state != StateStreaming {
			c.log.Warn("response.created before the message was sent ignored", "response_id", e.ResponseID)
			return false, nil
		}
		if c.open != nil {
			c.log.Warn("response.created while a response is open ignored",
				"open_response_id", c.open.id, "response_id", e.ResponseID)
			return false, nil
		}
		c.open = &response{id: e.ResponseID, reportedFrames: -1}
		c.log.Debug("response created", "response_id", e.ResponseID)

	case TextDelta:
		r := c.openResponse(ev)
		if r == nil {
			return false, nil
		}
		r.text.WriteString(e.Delta)
		c.obs.OnTextDelta(e.Delta)

	case ImageDelta:
		r := c.openResponse(ev)
		if r == nil {
			return false, nil
		}
		frame, err := decodeFrame(e.Delta)
		if err != nil {
			c.decodeErrors++
			c.log.Warn("dropping undecodable image frame", "err", err)
			return false, nil
		}
		c.frameSeq++
		r.frames++
		if c.frames != nil {
			if err := c.frames.WriteFrame(c.frameSeq, frame); err != nil {
				c.log.Warn("failed to persist image frame", "seq", c.frameSeq, "err", err)
			}
		}
		c.obs.OnImageFrame(c.frameSeq, frame)

	case ImageDone:
		r := c.openResponse(ev)
		if r == nil {
			return false, nil
		}
		r.reportedFrames = e.TotalFrames
		if e.TotalFrames >= 0 && e.TotalFrames != r.frames {
			c.log.Warn("image frame count mismatch", "received", r.frames, "reported", e.TotalFrames)
		} else {
			c.log.Debug("image stream done", "frames", r.frames)
		}

	case ResponseDone:
		if c.state != StateStreaming {
			c.log.Warn("response.done before the message was sent ignored")
			return false, nil
		}
		r := c.open
		if r == nil {
			c.log.Warn("response.done without response.created", "response_id", e.ResponseID)
			r = &response{id: e.ResponseID, reportedFrames: -1}
		}
		if r.id == "" {
			r.id = e.ResponseID
		}
		c.open = nil
		c.last = r
		c.completed = true
		c.log.Info("response done", "response_id", r.id, "status", e.Status)
		return true, nil

	case ErrorEvent:
		c.log.Error("remote error event", "message", e.Message, "code", e.Code)
		return false, e.Err()

	case Unknown:
		c.log.Debug("event received", "event_type", e.Type)
	}
	return false, nil
}

func (c *Call) openResponse(ev Event) *response {
	if c.open == nil {
		c.log.Warn("delta without an open response ignored", "event_type", ev.EventType())
		return nil
	}
	return c.open
}

// close moves the call to Closed. Later messages are ignored and sends fail
// with ErrCallClosed.
func (c *Call) close() {
	if c.state == StateClosed {
		return
	}
	c.final = c.state
	c.setState(StateClosed)
}

func (c *Call) fillOutcome(out *Outcome) {
	out.SessionID = c.sessionID
	out.FinalState = c.final
	if c.state != StateClosed {
		out.FinalState = c.state
	}
	out.Completed = c.completed
	out.AudioCodec = c.audioCodec
	out.DecodeErrors = c.decodeErrors
	out.Events = make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out.Events[k] = v
	}

	r := c.last
	if r == nil {
		r = c.open
	}
	out.ReportedFrames = -1
	if r != nil {
		out.ResponseID = r.id
		out.Text = r.text.String()
		out.ImageFrames = r.frames
		out.ReportedFrames = r.reportedFrames
	}
}

func decodeFrame(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: image delta: %v", ErrDecode, err)
}
