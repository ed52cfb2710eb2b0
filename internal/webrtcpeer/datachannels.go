package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabelRealtime is the label of the control channel carrying JSON
// client and server events.
const DataChannelLabelRealtime = "realtime"

// CreateRealtimeDataChannel opens the ordered, fully reliable control channel.
func CreateRealtimeDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	return pc.CreateDataChannel(DataChannelLabelRealtime, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
}

// ValidateRealtimeDataChannel checks the control channel's label and
// reliability. Events are JSON documents that depend on their predecessors, so the channel
// must be ordered and reliable.
func ValidateRealtimeDataChannel(dc *webrtc.DataChannel) error {
	if dc.Label() != DataChannelLabelRealtime {
		return fmt.Errorf("expected label=%q (got %q)", DataChannelLabelRealtime, dc.Label())
	}
	if !dc.Ordered() {
		return fmt.Errorf("realtime datachannel must be ordered (ordered=false)")
	}
	if dc.MaxPacketLifeTime() != nil {
		return fmt.Errorf("realtime datachannel must be fully reliable (maxPacketLifeTime must be unset)")
	}
	if dc.MaxRetransmits() != nil {
		return fmt.Errorf("realtime datachannel must be fully reliable (maxRetransmits must be unset)")
	}
	return nil
}
