package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/realtime"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	responseText = lipgloss.NewStyle().Italic(true)
)

// reporter prints call progress for a human watching the terminal. It runs on
// the call's driver goroutine and is never shared.
type reporter struct {
	realtime.NopObserver

	w      io.Writer
	vendor config.Vendor

	streaming bool
	frames    int
}

func newReporter(w io.Writer, vendor config.Vendor) *reporter {
	return &reporter{w: w, vendor: vendor}
}

func (r *reporter) start(callsURL string) {
	fmt.Fprintln(r.w, titleStyle.Render(r.vendor.DisplayName+" realtime call"))
	fmt.Fprintln(r.w, dimStyle.Render("endpoint: "+callsURL))
}

func (r *reporter) step(msg string) {
	r.endTextLine()
	fmt.Fprintln(r.w, stepStyle.Render("> ")+msg)
}

func (r *reporter) OnStateChange(_, to realtime.State) {
	switch to {
	case realtime.StateHandshaking:
		r.step("sending offer")
	case realtime.StateNegotiated:
		r.step("answer accepted, connecting")
	case realtime.StateConfiguring:
		r.step("data channel open, waiting for session")
	case realtime.StateConversing:
		r.step("session configured, sending message")
	case realtime.StateStreaming:
		r.step("waiting for response")
	}
}

func (r *reporter) OnSessionID(id string) {
	r.step("session " + id)
}

func (r *reporter) OnAudioTrack(codec string) {
	r.step("receiving audio (" + codec + ")")
}

func (r *reporter) OnTextDelta(delta string) {
	if !r.streaming {
		fmt.Fprint(r.w, stepStyle.Render("< "))
		r.streaming = true
	}
	fmt.Fprint(r.w, responseText.Render(delta))
}

func (r *reporter) OnImageFrame(int, []byte) {
	r.frames++
	if r.frames == 1 {
		r.step("receiving video frames")
	}
}

func (r *reporter) endTextLine() {
	if r.streaming {
		fmt.Fprintln(r.w)
		r.streaming = false
	}
}

func (r *reporter) finish(out *realtime.Outcome, err error) {
	r.endTextLine()
	if out != nil {
		r.summary(out)
	}
	if err != nil {
		fmt.Fprintln(r.w, failStyle.Render("FAILED")+" "+describeFailure(err))
		return
	}
	fmt.Fprintln(r.w, okStyle.Render("OK")+" "+r.vendor.DisplayName+" call completed")
}

func (r *reporter) summary(out *realtime.Outcome) {
	lines := []string{
		fmt.Sprintf("state:     %s", out.FinalState),
		fmt.Sprintf("duration:  %s", out.Duration().Round(time.Millisecond)),
	}
	if out.SessionID != "" {
		lines = append(lines, "session:   "+out.SessionID)
	}
	if out.ResponseID != "" {
		lines = append(lines, "response:  "+out.ResponseID)
	}
	if out.Text != "" {
		lines = append(lines, fmt.Sprintf("text:      %q", out.Text))
	}
	if out.ImageFrames > 0 || out.ReportedFrames >= 0 {
		frames := fmt.Sprintf("frames:    %d", out.ImageFrames)
		if out.ReportedFrames >= 0 {
			frames += fmt.Sprintf(" (server reported %d)", out.ReportedFrames)
		}
		lines = append(lines, frames)
	}
	if out.AudioCodec != "" {
		lines = append(lines, fmt.Sprintf("audio:     %s, %d packets, %d bytes", out.AudioCodec, out.AudioPackets, out.AudioBytes))
	}
	if out.DecodeErrors > 0 {
		lines = append(lines, fmt.Sprintf("dropped:   %d undecodable messages", out.DecodeErrors))
	}
	if len(out.Events) > 0 {
		lines = append(lines, "events:    "+formatCounts(out.Events))
	}
	fmt.Fprintln(r.w, dimStyle.Render(strings.Join(lines, "\n")))
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func describeFailure(err error) string {
	var rejected *realtime.CallRejectedError
	var remote *realtime.RemoteError
	switch {
	case errors.As(err, &rejected):
		return fmt.Sprintf("call rejected with HTTP %d: %s", rejected.StatusCode, rejected.Body)
	case errors.As(err, &remote):
		return "server error: " + remote.Message
	case errors.Is(err, realtime.ErrTimeout):
		return "timed out: " + err.Error()
	case errors.Is(err, realtime.ErrTransportLost):
		return "connection lost: " + err.Error()
	default:
		return err.Error()
	}
}
