package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/peerwire/peerwire/internal/signaling"
	"github.com/peerwire/peerwire/internal/transport"
	"github.com/peerwire/peerwire/internal/util"
)

// ---------------------------------------------------------------------------
// Local media
// ---------------------------------------------------------------------------

// LocalMedia bundles the locally produced audio and video tracks for
// one call.
type LocalMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
}

// Release stops feeding the tracks. Static sample tracks hold no device
// handles, so there is nothing to stop; a capture-backed implementation
// would stop the hardware here. Safe to call more than once.
func (m *LocalMedia) Release() {}

func (m *LocalMedia) tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

// StaticSource implements transport.MediaSource with static sample
// tracks (Opus audio, VP8 video). Capture and encoding are collaborator
// concerns; this source never fails, which keeps the permission-denied
// path exclusively in the hands of real device sources.
type StaticSource struct{}

// Acquire creates a fresh track pair.
func (StaticSource) Acquire() (transport.LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "peerwire")
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "peerwire")
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return &LocalMedia{audio: audio, video: video}, nil
}

// remoteMedia is the observed identity of the peer's media stream.
type remoteMedia struct {
	id string
}

func (r remoteMedia) ID() string { return r.id }

// ---------------------------------------------------------------------------
// Media call
// ---------------------------------------------------------------------------

// MediaCall is one audio/video PeerConnection. It satisfies
// transport.Call for both the dialing and the answering side; on the
// answering side the peer's offer is parked until Answer attaches
// local tracks.
type MediaCall struct {
	peer       string
	pc         *webrtc.PeerConnection
	sendSignal func(signaling.Message) error

	mu          sync.Mutex
	remoteSet   bool
	pendingCand []webrtc.ICECandidateInit
	offerSDP    string // answering side only
	onStream    func(transport.RemoteMedia)
	onClose     func()
	onError     func(transport.ErrorKind)
}

func newMediaCall(peer string, stunServers []string, sendSignal func(signaling.Message) error) (*MediaCall, error) {
	pc, err := newPeerConnection(stunServers)
	if err != nil {
		return nil, err
	}

	c := &MediaCall{peer: peer, pc: pc, sendSignal: sendSignal}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("remote %s track from %s", track.Kind(), peer)
		c.mu.Lock()
		fn := c.onStream
		c.mu.Unlock()
		if fn != nil {
			fn(remoteMedia{id: track.StreamID()})
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("media PeerConnection to %s: %s", peer, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			go c.fireError(transport.ErrNegotiationFailed)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			go c.fireClose()
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, _ := json.Marshal(cand.ToJSON())
		if err := sendSignal(signaling.Message{
			Type:      signaling.MsgTypeCandidate,
			Channel:   signaling.ChannelMedia,
			Candidate: string(data),
		}); err != nil {
			util.LogDebug("media candidate not delivered: %v", err)
		}
	})

	return c, nil
}

func (c *MediaCall) fireClose() {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *MediaCall) fireError(kind transport.ErrorKind) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

// place attaches the caller's tracks and sends the offer.
func (c *MediaCall) place(local *LocalMedia) error {
	for _, track := range local.tracks() {
		if _, err := c.pc.AddTrack(track); err != nil {
			return fmt.Errorf("AddTrack: %w", err)
		}
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return c.sendSignal(signaling.Message{
		Type:    signaling.MsgTypeOffer,
		Channel: signaling.ChannelMedia,
		SDP:     offer.SDP,
	})
}

// answer attaches the callee's tracks, applies the parked offer, and
// returns the answer through the rendezvous.
func (c *MediaCall) answer(local *LocalMedia) error {
	c.mu.Lock()
	offerSDP := c.offerSDP
	c.mu.Unlock()
	if offerSDP == "" {
		return fmt.Errorf("no offer to answer from %s", c.peer)
	}

	for _, track := range local.tracks() {
		if _, err := c.pc.AddTrack(track); err != nil {
			return fmt.Errorf("AddTrack: %w", err)
		}
	}

	if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return c.sendSignal(signaling.Message{
		Type:    signaling.MsgTypeAnswer,
		Channel: signaling.ChannelMedia,
		SDP:     answer.SDP,
	})
}

func (c *MediaCall) acceptAnswer(sdp string) error {
	return c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (c *MediaCall) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.pendingCand
	c.pendingCand = nil
	c.mu.Unlock()

	for _, init := range pending {
		if err := c.pc.AddICECandidate(init); err != nil {
			util.LogDebug("AddICECandidate (media): %v", err)
		}
	}
	return nil
}

func (c *MediaCall) addCandidate(raw string) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		util.LogDebug("bad media candidate from %s: %v", c.peer, err)
		return
	}

	c.mu.Lock()
	if !c.remoteSet {
		c.pendingCand = append(c.pendingCand, init)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(init); err != nil {
		util.LogDebug("AddICECandidate (media): %v", err)
	}
}

// ---------------------------------------------------------------------------
// transport.Call
// ---------------------------------------------------------------------------

func (c *MediaCall) OnStream(fn func(transport.RemoteMedia)) {
	c.mu.Lock()
	c.onStream = fn
	c.mu.Unlock()
}

func (c *MediaCall) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *MediaCall) OnError(fn func(transport.ErrorKind)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Close hangs up. Idempotent at the PeerConnection level.
func (c *MediaCall) Close() error {
	return c.pc.Close()
}
