package realtime

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// audioStats counts RTP received on the remote audio track. The track reader
// goroutine writes; the call driver reads once at the end.
type audioStats struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (s *audioStats) observe(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
}

// readAudio drains track until it ends. Playback is out of scope; packets are
// only counted.
func readAudio(track *webrtc.TrackRemote, stats *audioStats) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		stats.observe(pkt)
	}
}
