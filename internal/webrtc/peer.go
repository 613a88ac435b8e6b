// Package webrtc implements the session and media-call transport
// contracts on pion PeerConnections: one negotiated DataChannel per
// session for envelopes, and a second PeerConnection carrying
// audio/video tracks once a call is accepted. SDP/ICE travels through
// the signaling rendezvous, addressed by peer identity.
package webrtc

import (
	"github.com/pion/webrtc/v4"
)

// defaultStunServers are used when the config supplies none. No TURN —
// the tool is designed for direct P2P connectivity with zero
// infrastructure cost.
var defaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with the given
// STUN servers.
func newPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	if len(stunServers) == 0 {
		stunServers = defaultStunServers
	}
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates the pre-negotiated, ordered DataChannel for a
// session. Negotiated mode (ID 0) lets both sides create the channel
// independently without relying on OnDataChannel. Ordered and reliable:
// the envelope protocol leans on in-order delivery for everything
// except chunk reassembly, which is defensive about order anyway.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("session", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
