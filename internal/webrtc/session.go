package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/peerwire/peerwire/internal/protocol"
	"github.com/peerwire/peerwire/internal/signaling"
	"github.com/peerwire/peerwire/internal/transport"
	"github.com/peerwire/peerwire/internal/util"
)

// Session is one DataChannel link to a peer. It satisfies
// transport.Session; its lifecycle is governed by the DataChannel
// state and the context passed at construction time.
type Session struct {
	peer string
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel

	sender     *sender
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	sendSignal func(signaling.Message) error

	mu          sync.Mutex
	remoteSet   bool
	pendingCand []webrtc.ICECandidateInit
	onOpen      func()
	onEnvelope  func(*protocol.Envelope)
	onClose     func()
	onError     func(transport.ErrorKind)
}

// newSession builds the PeerConnection + DataChannel pair and wires the
// pion callbacks. sendSignal delivers SDP/ICE to the peer through the
// rendezvous, already addressed.
func newSession(parentCtx context.Context, peer string, stunServers []string, sendSignal func(signaling.Message) error) (*Session, error) {
	pc, err := newPeerConnection(stunServers)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(parentCtx)
	s := &Session{
		peer:       peer,
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		sendSignal: sendSignal,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			close(s.openSignal)
			go s.fireOpen()
		})
	})

	dc.OnClose(func() {
		util.LogDebug("DataChannel to %s closed", peer)
		cancel()
		go s.fireClose()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		env, err := protocol.Decode(msg.Data)
		if err != nil {
			util.LogWarning("undecodable envelope from %s: %v", peer, err)
			return
		}
		s.fireEnvelope(env)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection to %s: %s", peer, state.String())
		if state == webrtc.PeerConnectionStateFailed {
			cancel()
			go s.fireError(transport.ErrNegotiationFailed)
		}
	})

	// Trickle ICE: forward local candidates through the rendezvous.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		if err := sendSignal(signaling.Message{
			Type:      signaling.MsgTypeCandidate,
			Channel:   signaling.ChannelData,
			Candidate: string(data),
		}); err != nil {
			util.LogDebug("candidate not delivered: %v", err)
		}
	})

	s.sender = newSender(ctx, dc, s.openSignal)
	return s, nil
}

// ---------------------------------------------------------------------------
// transport.Session
// ---------------------------------------------------------------------------

// Peer returns the remote peer's identity.
func (s *Session) Peer() string { return s.peer }

// Send encodes and enqueues one envelope. The single-writer sender
// applies DataChannel backpressure; an error means the session is gone.
func (s *Session) Send(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := s.sender.send(s.ctx, data); err != nil {
		return fmt.Errorf("session to %s is closed: %w", s.peer, err)
	}
	util.Stats.AddSent(len(data))
	return nil
}

// Close shuts down the DataChannel and PeerConnection. Idempotent.
func (s *Session) Close() error {
	s.cancel()
	return errors.Join(s.dc.Close(), s.pc.Close())
}

// Done returns a channel closed when the session is shut down.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) OnOpen(fn func()) {
	s.mu.Lock()
	s.onOpen = fn
	s.mu.Unlock()

	// The channel may have opened before registration (incoming
	// sessions are delivered already open).
	select {
	case <-s.openSignal:
		go fn()
	default:
	}
}

func (s *Session) OnEnvelope(fn func(*protocol.Envelope)) {
	s.mu.Lock()
	s.onEnvelope = fn
	s.mu.Unlock()
}

func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) OnError(fn func(transport.ErrorKind)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

func (s *Session) fireOpen() {
	s.mu.Lock()
	fn := s.onOpen
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Session) fireEnvelope(env *protocol.Envelope) {
	s.mu.Lock()
	fn := s.onEnvelope
	s.mu.Unlock()
	if fn == nil {
		util.LogDebug("no envelope handler yet, dropping %s from %s", env.Kind, s.peer)
		return
	}
	fn(env)
}

func (s *Session) fireClose() {
	s.mu.Lock()
	fn := s.onClose
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Session) fireError(kind transport.ErrorKind) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

// ---------------------------------------------------------------------------
// SDP exchange
// ---------------------------------------------------------------------------

// offer starts the exchange as the initiating side.
func (s *Session) offer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.sendSignal(signaling.Message{
		Type:    signaling.MsgTypeOffer,
		Channel: signaling.ChannelData,
		SDP:     offer.SDP,
	})
}

// acceptOffer completes the exchange as the responding side.
func (s *Session) acceptOffer(sdp string) error {
	if err := s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.sendSignal(signaling.Message{
		Type:    signaling.MsgTypeAnswer,
		Channel: signaling.ChannelData,
		SDP:     answer.SDP,
	})
}

// acceptAnswer applies the peer's answer on the initiating side.
func (s *Session) acceptAnswer(sdp string) error {
	return s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}

	// Flush candidates that arrived before the remote description.
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingCand
	s.pendingCand = nil
	s.mu.Unlock()

	for _, init := range pending {
		if err := s.pc.AddICECandidate(init); err != nil {
			util.LogDebug("AddICECandidate: %v", err)
		}
	}
	return nil
}

// addCandidate applies (or parks) a remote ICE candidate.
func (s *Session) addCandidate(raw string) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		util.LogDebug("bad candidate from %s: %v", s.peer, err)
		return
	}

	s.mu.Lock()
	if !s.remoteSet {
		s.pendingCand = append(s.pendingCand, init)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(init); err != nil {
		util.LogDebug("AddICECandidate: %v", err)
	}
}
