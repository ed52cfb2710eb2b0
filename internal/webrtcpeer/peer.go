package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Offerer owns the client side of a call: one PeerConnection, a recvonly audio
// transceiver and the realtime control channel.
type Offerer struct {
	pc    *webrtc.PeerConnection
	dc    *webrtc.DataChannel
	audio *webrtc.RTPTransceiver

	close sync.Once
}

func NewOfferer(api *webrtc.API, iceServers []webrtc.ICEServer) (*Offerer, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	// Some endpoints reject offers without an audio m-section.
	audio, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	dc, err := CreateRealtimeDataChannel(pc)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create realtime datachannel: %w", err)
	}
	if err := ValidateRealtimeDataChannel(dc); err != nil {
		_ = pc.Close()
		return nil, err
	}

	return &Offerer{pc: pc, dc: dc, audio: audio}, nil
}

func (o *Offerer) PeerConnection() *webrtc.PeerConnection { return o.pc }

func (o *Offerer) DataChannel() *webrtc.DataChannel { return o.dc }

func (o *Offerer) AudioTransceiver() *webrtc.RTPTransceiver { return o.audio }

// CreateOffer sets the local description and waits for ICE gathering, at most
// gatherTimeout. complete is false when the wait was cut short; the returned
// offer then holds the candidates gathered so far.
func (o *Offerer) CreateOffer(ctx context.Context, gatherTimeout time.Duration) (offer webrtc.SessionDescription, complete bool, err error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, false, err
	}
	desc, err := o.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, false, fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(o.pc)
	if err := o.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, false, fmt.Errorf("set local description: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()
	select {
	case <-gatherComplete:
		complete = true
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return webrtc.SessionDescription{}, false, err
		}
	}

	local := o.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, false, errors.New("missing local description")
	}
	return *local, complete, nil
}

// AcceptAnswer applies the remote SDP answer.
func (o *Offerer) AcceptAnswer(sdp string) error {
	if err := o.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (o *Offerer) Close() error {
	var err error
	o.close.Do(func() {
		err = o.pc.Close()
	})
	return err
}
