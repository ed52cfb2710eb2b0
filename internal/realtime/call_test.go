package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
)

type fakeSender struct {
	sent []map[string]any
	err  error
}

func (s *fakeSender) SendText(text string) error {
	if s.err != nil {
		return s.err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSender) types() []string {
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m["type"].(string))
	}
	return out
}

type recordingObserver struct {
	NopObserver
	states []State
	deltas []string
	frames []int
}

func (o *recordingObserver) OnStateChange(_, to State) { o.states = append(o.states, to) }
func (o *recordingObserver) OnTextDelta(d string)      { o.deltas = append(o.deltas, d) }
func (o *recordingObserver) OnImageFrame(seq int, _ []byte) {
	o.frames = append(o.frames, seq)
}

type memorySink struct {
	frames map[int][]byte
}

func (s *memorySink) WriteFrame(seq int, jpeg []byte) error {
	if s.frames == nil {
		s.frames = make(map[int][]byte)
	}
	s.frames[seq] = jpeg
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCall(obs Observer, sink FrameSink) *Call {
	c := newCall(callParams{
		Session:  SessionConfig{Model: "gpt-5.2", Voice: "default", Instructions: "be brief"},
		Prompt:   "hello",
		Frames:   sink,
		Observer: obs,
		Logger:   discardLogger(),
	})
	c.setState(StateNegotiated)
	return c
}

// feed delivers raw messages in order and returns the result of the last one.
func feed(t *testing.T, c *Call, msgs ...string) (bool, error) {
	t.Helper()
	var (
		done bool
		err  error
	)
	for _, m := range msgs {
		done, err = c.handleMessage([]byte(m), true)
		if err != nil || done {
			return done, err
		}
	}
	return done, err
}

func TestCall_HappyPathAccumulatesText(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestCall(obs, nil)
	s := &fakeSender{}
	c.channelOpen(s)

	done, err := feed(t, c,
		`{"type":"session.created","session":{"id":"sess_1"}}`,
		`{"type":"session.updated"}`,
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.output_text.delta","delta":"Hi"}`,
		`{"type":"response.output_text.delta","delta":" there"}`,
		`{"type":"response.done","response":{"id":"resp_1","status":"completed"}}`,
	)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !done {
		t.Fatalf("expected the call to complete")
	}

	var out Outcome
	c.close()
	c.fillOutcome(&out)
	if out.Text != "Hi there" {
		t.Fatalf("text=%q, want %q", out.Text, "Hi there")
	}
	if !out.Completed || out.ResponseID != "resp_1" || out.SessionID != "sess_1" {
		t.Fatalf("outcome=%+v", out)
	}
	if out.FinalState != StateStreaming {
		t.Fatalf("final state=%v, want %v", out.FinalState, StateStreaming)
	}

	wantSent := []string{TypeSessionUpdate, TypeConversationItemCreate, TypeResponseCreate}
	if got := s.types(); len(got) != len(wantSent) || got[0] != wantSent[0] || got[1] != wantSent[1] || got[2] != wantSent[2] {
		t.Fatalf("sent=%v, want %v", got, wantSent)
	}
	for _, m := range s.sent {
		if id, _ := m["event_id"].(string); id == "" {
			t.Fatalf("client event without event_id: %v", m)
		}
	}
	item := s.sent[1]["item"].(map[string]any)
	content := item["content"].([]any)[0].(map[string]any)
	if item["role"] != "user" || content["type"] != "input_text" || content["text"] != "hello" {
		t.Fatalf("conversation item=%v", item)
	}

	wantStates := []State{StateNegotiated, StateConfiguring, StateConversing, StateStreaming, StateClosed}
	if len(obs.states) != len(wantStates) {
		t.Fatalf("states=%v, want %v", obs.states, wantStates)
	}
	for i := range wantStates {
		if obs.states[i] != wantStates[i] {
			t.Fatalf("states=%v, want %v", obs.states, wantStates)
		}
	}
	if len(obs.deltas) != 2 {
		t.Fatalf("deltas=%v, want 2", obs.deltas)
	}
}

func TestCall_MalformedMessagesDoNotStopTheLoop(t *testing.T) {
	c := newTestCall(nil, nil)
	c.channelOpen(&fakeSender{})

	done, err := feed(t, c,
		`{"type":"session.created"}`,
		`{not json`,
		`{"type":"session.updated"}`,
		`{"no_type":true}`,
		`{"type":"response.created","response":{"id":"r"}}`,
		`{"type":"response.output_text.delta","delta":7}`,
		`{"type":"response.output_text.delta","delta":"ok"}`,
		`{"type":"response.done"}`,
	)
	if err != nil || !done {
		t.Fatalf("done=%v err=%v, want completion", done, err)
	}
	if _, err := c.handleMessage([]byte{0xff, 0x00}, false); err != nil {
		t.Fatalf("binary message: %v", err)
	}

	var out Outcome
	c.fillOutcome(&out)
	if out.Text != "ok" {
		t.Fatalf("text=%q, want ok", out.Text)
	}
	if out.DecodeErrors != 4 {
		t.Fatalf("decode errors=%d, want 4", out.DecodeErrors)
	}
}

func TestCall_DeltasWithoutOpenResponseAreIgnored(t *testing.T) {
	c := newTestCall(nil, nil)
	c.channelOpen(&fakeSender{})

	_, err := feed(t, c,
		`{"type":"session.created"}`,
		`{"type":"response.output_text.delta","delta":"early"}`,
		`{"type":"session.updated"}`,
		`{"type":"response.output_text.delta","delta":"orphan"}`,
		`{"type":"response.created","response":{"id":"a"}}`,
		`{"type":"response.output_text.delta","delta":"A"}`,
		`{"type":"response.created","response":{"id":"b"}}`,
		`{"type":"response.output_text.delta","delta":"B"}`,
	)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if c.open == nil || c.open.id != "a" {
		t.Fatalf("open response=%+v, want a", c.open)
	}
	if got := c.open.text.String(); got != "AB" {
		t.Fatalf("text=%q, want AB", got)
	}
}

func TestCall_ErrorEventFailsTheCall(t *testing.T) {
	c := newTestCall(nil, nil)
	c.channelOpen(&fakeSender{})

	_, err := feed(t, c,
		`{"type":"session.created"}`,
		`{"type":"error","error":{"message":"Invalid face id"}}`,
	)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err=%v, want *RemoteError", err)
	}
	if remote.Message != "Invalid face id" {
		t.Fatalf("message=%q, want %q", remote.Message, "Invalid face id")
	}
}

func TestCall_DuplicateSessionUpdatedSendsOnce(t *testing.T) {
	c := newTestCall(nil, nil)
	s := &fakeSender{}
	c.channelOpen(s)

	if _, err := feed(t, c,
		`{"type":"session.created"}`,
		`{"type":"session.updated"}`,
		`{"type":"session.updated"}`,
		`{"type":"session.created"}`,
	); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if got := len(s.sent); got != 3 {
		t.Fatalf("sent %d events (%v), want 3", got, s.types())
	}
	if c.State() != StateStreaming {
		t.Fatalf("state=%v, want %v", c.State(), StateStreaming)
	}
}

func TestCall_SendGuards(t *testing.T) {
	c := newTestCall(nil, nil)
	if err := c.sendEvent(newResponseCreate()); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("send before open err=%v, want ErrChannelNotOpen", err)
	}

	c.channelOpen(&fakeSender{})
	c.close()
	if err := c.sendEvent(newResponseCreate()); !errors.Is(err, ErrCallClosed) {
		t.Fatalf("send after close err=%v, want ErrCallClosed", err)
	}
	done, err := c.handleMessage([]byte(`{"type":"session.created"}`), true)
	if done || err != nil {
		t.Fatalf("message after close done=%v err=%v, want ignored", done, err)
	}
}

func TestCall_SendFailureIsFatal(t *testing.T) {
	c := newTestCall(nil, nil)
	c.channelOpen(&fakeSender{err: errors.New("sctp closed")})
	if _, err := feed(t, c, `{"type":"session.created"}`); err == nil {
		t.Fatalf("expected send failure to end the call")
	}
}

func TestCall_ImageFrames(t *testing.T) {
	obs := &recordingObserver{}
	sink := &memorySink{}
	c := newTestCall(obs, sink)
	c.channelOpen(&fakeSender{})

	frame1 := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0x01})
	frame2 := base64.RawStdEncoding.EncodeToString([]byte{0xff, 0xd8, 0x02, 0x03})
	done, err := feed(t, c,
		`{"type":"session.created"}`,
		`{"type":"session.updated"}`,
		`{"type":"response.created","response":{"id":"r"}}`,
		`{"type":"response.output_image.delta","delta":"`+frame1+`"}`,
		`{"type":"response.output_image.delta","delta":"%%%"}`,
		`{"type":"response.image.delta","delta":"`+frame2+`"}`,
		`{"type":"response.output_image.done","total_frames":3}`,
		`{"type":"response.done"}`,
	)
	if err != nil || !done {
		t.Fatalf("done=%v err=%v, want completion", done, err)
	}

	var out Outcome
	c.fillOutcome(&out)
	if out.ImageFrames != 2 || out.ReportedFrames != 3 {
		t.Fatalf("frames=%d reported=%d, want 2 and 3", out.ImageFrames, out.ReportedFrames)
	}
	if len(obs.frames) != 2 || obs.frames[0] != 1 || obs.frames[1] != 2 {
		t.Fatalf("observed frame seqs=%v, want [1 2]", obs.frames)
	}
	if got := sink.frames[2]; len(got) != 4 || got[3] != 0x03 {
		t.Fatalf("frame 2=%x", got)
	}
}

func TestCall_EventsAfterCompletionAreOnlyCounted(t *testing.T) {
	c := newTestCall(nil, nil)
	c.channelOpen(&fakeSender{})
	if _, err := feed(t, c,
		`{"type":"session.created"}`,
		`{"type":"session.updated"}`,
		`{"type":"response.created","response":{"id":"r"}}`,
		`{"type":"response.output_text.delta","delta":"x"}`,
		`{"type":"response.done"}`,
	); err != nil {
		t.Fatalf("feed: %v", err)
	}

	done, err := c.handleMessage([]byte(`{"type":"error","error":{"message":"late"}}`), true)
	if done || err != nil {
		t.Fatalf("late error done=%v err=%v, want ignored", done, err)
	}
	if _, err := c.handleMessage([]byte(`{"type":"response.output_text.delta","delta":"y"}`), true); err != nil {
		t.Fatalf("late delta: %v", err)
	}

	var out Outcome
	c.fillOutcome(&out)
	if out.Text != "x" {
		t.Fatalf("text=%q, want x", out.Text)
	}
	if out.Events[TypeError] != 1 {
		t.Fatalf("error events counted=%d, want 1", out.Events[TypeError])
	}
}

func TestOptions_SessionShapes(t *testing.T) {
	rtav := Options{
		Vendor:       vendorForTest(false),
		Model:        "gpt-5.2",
		Voice:        "v1",
		Face:         "f1",
		Instructions: "be brief",
	}
	got := rtav.CallSession()
	if got.Type != "realtime" || got.Voice != "v1" || got.Audio != nil || got.Face != "f1" {
		t.Fatalf("rtav call session=%+v", got)
	}
	upd := rtav.SessionUpdate()
	if upd.Type != "" || upd.Model != "gpt-5.2" || upd.Voice != "v1" {
		t.Fatalf("rtav session.update=%+v", upd)
	}

	openai := Options{Vendor: vendorForTest(true), Model: "gpt-realtime", Voice: "alloy"}
	got = openai.CallSession()
	if got.Voice != "" || got.Audio == nil || got.Audio.Output.Voice != "alloy" {
		t.Fatalf("openai call session=%+v", got)
	}
	b, err := json.Marshal(openai.SessionUpdate())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"type":"realtime","model":"gpt-realtime","audio":{"output":{"voice":"alloy"}}}`; string(b) != want {
		t.Fatalf("openai session.update=%s, want %s", b, want)
	}
}

func TestSessionUpdate_CarriesModelForEveryVendor(t *testing.T) {
	for _, nested := range []bool{true, false} {
		opts := Options{Vendor: vendorForTest(nested), Model: "m-1", Instructions: "x"}
		b, err := json.Marshal(newSessionUpdate(opts.SessionUpdate()))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var ev struct {
			Type    string `json:"type"`
			Session struct {
				Model        string `json:"model"`
				Instructions string `json:"instructions"`
			} `json:"session"`
		}
		if err := json.Unmarshal(b, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != TypeSessionUpdate || ev.Session.Model != "m-1" || ev.Session.Instructions != "x" {
			t.Fatalf("%s session.update=%s, want model m-1", opts.Vendor.Name, b)
		}
	}
}

func vendorForTest(nested bool) config.Vendor {
	if nested {
		return config.Vendors[config.VendorOpenAI]
	}
	return config.Vendors[config.VendorRTAV]
}
