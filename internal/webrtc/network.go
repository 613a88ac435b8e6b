package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/peerwire/peerwire/internal/signaling"
	"github.com/peerwire/peerwire/internal/transport"
	"github.com/peerwire/peerwire/internal/util"
)

// Compile-time contract checks.
var (
	_ transport.Network      = (*Network)(nil)
	_ transport.MediaNetwork = (*Network)(nil)
)

// Network implements both collaborator contracts on top of the
// rendezvous client: envelope sessions and media calls, each an arena
// of handles keyed by peer identity.
type Network struct {
	selfID      string
	stunServers []string
	client      *signaling.Client

	mu             sync.Mutex
	sessions       map[string]*Session
	calls          map[string]*MediaCall
	onIncoming     func(transport.Session)
	onIncomingCall func(string, transport.Call)
}

// NewNetwork connects to the rendezvous server and registers selfID.
func NewNetwork(ctx context.Context, selfID, signalURL string, stunServers []string) (*Network, error) {
	client, err := signaling.Dial(ctx, signalURL, selfID)
	if err != nil {
		return nil, err
	}

	n := &Network{
		selfID:      selfID,
		stunServers: stunServers,
		client:      client,
		sessions:    make(map[string]*Session),
		calls:       make(map[string]*MediaCall),
	}

	client.OnMessage(n.handleSignal)
	client.OnClosed(func(err error) {
		util.LogWarning("rendezvous link lost: %v — open sessions continue, new connects will fail", err)
	})

	return n, nil
}

// Close drops the rendezvous link. Established sessions are unaffected.
func (n *Network) Close() {
	n.client.Close()
}

// sendTo returns a signal sender that addresses peer.
func (n *Network) sendTo(peer string) func(signaling.Message) error {
	return func(msg signaling.Message) error {
		msg.To = peer
		return n.client.Send(msg)
	}
}

// ---------------------------------------------------------------------------
// transport.Network
// ---------------------------------------------------------------------------

// Connect creates the session, registers it, and sends the offer. The
// returned session opens asynchronously; the caller waits for OnOpen.
func (n *Network) Connect(ctx context.Context, peerID string) (transport.Session, error) {
	if peerID == n.selfID {
		return nil, fmt.Errorf("cannot connect to self")
	}

	s, err := newSession(ctx, peerID, n.stunServers, n.sendTo(peerID))
	if err != nil {
		return nil, err
	}
	n.registerSession(peerID, s)

	if err := s.offer(); err != nil {
		s.Close()
		return nil, fmt.Errorf("offer to %s: %w", peerID, err)
	}
	return s, nil
}

// OnIncoming registers the handler for remotely-initiated sessions.
func (n *Network) OnIncoming(fn func(transport.Session)) {
	n.mu.Lock()
	n.onIncoming = fn
	n.mu.Unlock()
}

// registerSession stores the per-peer session and removes it again once
// its lifecycle ends, unless it was already replaced.
func (n *Network) registerSession(peer string, s *Session) {
	n.mu.Lock()
	n.sessions[peer] = s
	n.mu.Unlock()

	go func() {
		<-s.Done()
		n.mu.Lock()
		if n.sessions[peer] == s {
			delete(n.sessions, peer)
		}
		n.mu.Unlock()
	}()
}

func (n *Network) session(peer string) (*Session, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sessions[peer]
	return s, ok
}

// ---------------------------------------------------------------------------
// transport.MediaNetwork
// ---------------------------------------------------------------------------

// Call dials the peer's media transport with the given local tracks.
func (n *Network) Call(peerID string, local transport.LocalMedia) (transport.Call, error) {
	media, ok := local.(*LocalMedia)
	if !ok {
		return nil, fmt.Errorf("local media was not acquired from this transport")
	}

	c, err := newMediaCall(peerID, n.stunServers, n.sendTo(peerID))
	if err != nil {
		return nil, err
	}
	n.registerCall(peerID, c)

	if err := c.place(media); err != nil {
		c.Close()
		return nil, fmt.Errorf("call to %s: %w", peerID, err)
	}
	return c, nil
}

// Answer accepts an inbound media call with the callee's local tracks.
func (n *Network) Answer(call transport.Call, local transport.LocalMedia) error {
	c, ok := call.(*MediaCall)
	if !ok {
		return fmt.Errorf("call handle was not produced by this transport")
	}
	media, ok := local.(*LocalMedia)
	if !ok {
		return fmt.Errorf("local media was not acquired from this transport")
	}
	return c.answer(media)
}

// OnIncomingCall registers the handler for remotely-placed media calls.
func (n *Network) OnIncomingCall(fn func(string, transport.Call)) {
	n.mu.Lock()
	n.onIncomingCall = fn
	n.mu.Unlock()
}

func (n *Network) registerCall(peer string, c *MediaCall) {
	n.mu.Lock()
	n.calls[peer] = c
	n.mu.Unlock()
}

func (n *Network) call(peer string) (*MediaCall, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.calls[peer]
	return c, ok
}

// ---------------------------------------------------------------------------
// Signal dispatch
// ---------------------------------------------------------------------------

func (n *Network) handleSignal(msg signaling.Message) {
	switch msg.Channel {
	case signaling.ChannelData:
		n.handleDataSignal(msg)
	case signaling.ChannelMedia:
		n.handleMediaSignal(msg)
	default:
		if msg.Type != signaling.MsgTypeError {
			util.LogDebug("signal with unknown channel %q from %s", msg.Channel, msg.From)
		}
	}
}

// handleDataSignal drives the envelope-session exchange. An inbound
// offer builds the responding session and delivers it — already open —
// through OnIncoming.
func (n *Network) handleDataSignal(msg signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		s, err := newSession(context.Background(), msg.From, n.stunServers, n.sendTo(msg.From))
		if err != nil {
			util.LogError("session for inbound offer from %s: %v", msg.From, err)
			return
		}
		n.registerSession(msg.From, s)

		// Deliver only once the DataChannel is open.
		s.OnOpen(func() {
			n.mu.Lock()
			fn := n.onIncoming
			n.mu.Unlock()
			if fn != nil {
				fn(s)
			}
		})

		if err := s.acceptOffer(msg.SDP); err != nil {
			util.LogError("answer to %s: %v", msg.From, err)
			s.Close()
		}

	case signaling.MsgTypeAnswer:
		if s, ok := n.session(msg.From); ok {
			if err := s.acceptAnswer(msg.SDP); err != nil {
				util.LogError("apply answer from %s: %v", msg.From, err)
			}
		}

	case signaling.MsgTypeCandidate:
		if s, ok := n.session(msg.From); ok {
			s.addCandidate(msg.Candidate)
		}
	}
}

// handleMediaSignal drives the media-call exchange. An inbound offer
// parks the SDP on a fresh call handle and surfaces it unanswered.
func (n *Network) handleMediaSignal(msg signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		c, err := newMediaCall(msg.From, n.stunServers, n.sendTo(msg.From))
		if err != nil {
			util.LogError("call handle for inbound offer from %s: %v", msg.From, err)
			return
		}
		c.mu.Lock()
		c.offerSDP = msg.SDP
		c.mu.Unlock()
		n.registerCall(msg.From, c)

		n.mu.Lock()
		fn := n.onIncomingCall
		n.mu.Unlock()
		if fn != nil {
			fn(msg.From, c)
		}

	case signaling.MsgTypeAnswer:
		if c, ok := n.call(msg.From); ok {
			if err := c.acceptAnswer(msg.SDP); err != nil {
				util.LogError("apply call answer from %s: %v", msg.From, err)
			}
		}

	case signaling.MsgTypeCandidate:
		if c, ok := n.call(msg.From); ok {
			c.addCandidate(msg.Candidate)
		}
	}
}
