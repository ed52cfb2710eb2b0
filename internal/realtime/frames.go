package realtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FrameSink receives decoded video frames in arrival order. seq starts at 1
// and increases by one per frame.
type FrameSink interface {
	WriteFrame(seq int, jpeg []byte) error
}

// DirSink writes each frame to dir as frame_000001.jpg, frame_000002.jpg, ...
type DirSink struct {
	dir string

	mu      sync.Mutex
	lastSeq int
	written int
}

func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("frames directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames directory: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) WriteFrame(seq int, jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		return fmt.Errorf("frame %d out of order (last %d)", seq, s.lastSeq)
	}
	if err := os.WriteFile(s.Path(seq), jpeg, 0o644); err != nil {
		return fmt.Errorf("write frame %d: %w", seq, err)
	}
	s.lastSeq = seq
	s.written++
	return nil
}

// Path is the file a frame with the given sequence number is written to.
func (s *DirSink) Path(seq int) string {
	return filepath.Join(s.dir, fmt.Sprintf("frame_%06d.jpg", seq))
}

func (s *DirSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
