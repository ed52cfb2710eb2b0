package realtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/rtp"
)

func TestDirSink_WritesZeroPaddedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	sink, err := NewDirSink(dir)
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}

	if err := sink.WriteFrame(1, []byte{0xff, 0xd8, 1}); err != nil {
		t.Fatalf("WriteFrame(1): %v", err)
	}
	if err := sink.WriteFrame(2, []byte{0xff, 0xd8, 2}); err != nil {
		t.Fatalf("WriteFrame(2): %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "frame_000002.jpg"))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(got) != 3 || got[2] != 2 {
		t.Fatalf("frame 2=%x", got)
	}
	if sink.Written() != 2 {
		t.Fatalf("written=%d, want 2", sink.Written())
	}
	if got := sink.Path(123456); filepath.Base(got) != "frame_123456.jpg" {
		t.Fatalf("path=%q", got)
	}
}

func TestDirSink_RejectsOutOfOrderFrames(t *testing.T) {
	sink, err := NewDirSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}
	if err := sink.WriteFrame(2, []byte{1}); err != nil {
		t.Fatalf("WriteFrame(2): %v", err)
	}
	if err := sink.WriteFrame(2, []byte{1}); err == nil {
		t.Fatalf("expected a repeated sequence number to fail")
	}
	if err := sink.WriteFrame(1, []byte{1}); err == nil {
		t.Fatalf("expected a lower sequence number to fail")
	}
}

func TestNewDirSink_EmptyDir(t *testing.T) {
	if _, err := NewDirSink(""); err == nil {
		t.Fatalf("expected an error for an empty directory")
	}
}

func TestAudioStats_Observe(t *testing.T) {
	var s audioStats
	s.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}, Payload: make([]byte, 160)})
	s.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 2}, Payload: make([]byte, 80)})
	if got := s.packets.Load(); got != 2 {
		t.Fatalf("packets=%d, want 2", got)
	}
	if got := s.bytes.Load(); got != 240 {
		t.Fatalf("bytes=%d, want 240", got)
	}
}
