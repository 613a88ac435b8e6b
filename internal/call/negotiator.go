// Package call coordinates the in-band consent handshake that precedes
// an audio/video call, and owns the locally-captured media for the
// call's lifetime. It is layered on top of an established session: the
// session controller feeds it CALL_REQUEST/CALL_RESPONSE envelopes and
// tears it down when the session goes away.
package call

import (
	"fmt"
	"sync"

	"github.com/peerwire/peerwire/internal/journal"
	"github.com/peerwire/peerwire/internal/protocol"
	"github.com/peerwire/peerwire/internal/transport"
	"github.com/peerwire/peerwire/internal/util"
)

// Phase is the negotiation state.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseRequesting Phase = "REQUESTING" // caller sent CALL_REQUEST, awaiting verdict
	PhaseIncoming   Phase = "INCOMING"   // callee received CALL_REQUEST, awaiting local decision
	PhaseActive     Phase = "ACTIVE"
)

// Role distinguishes which side of the handshake this endpoint took.
type Role string

const (
	RoleNone   Role = ""
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Negotiator is the per-session call state machine. All methods are
// safe to invoke from transport callbacks and user actions alike; a
// single mutex serializes them.
type Negotiator struct {
	selfID  string
	media   transport.MediaNetwork
	source  transport.MediaSource
	send    func(*protocol.Envelope) error
	journal *journal.Journal

	mu      sync.Mutex
	phase   Phase
	role    Role
	peerID  string
	local   transport.LocalMedia // owned; released exactly once per call
	remote  transport.RemoteMedia
	handle  transport.Call // the live media call, once placed or answered
	pending transport.Call // inbound media call not yet answered

	onPhase func(Phase, Role)
}

// NewNegotiator wires a negotiator to the media transport, the local
// media source, and the session's envelope sender.
func NewNegotiator(selfID string, media transport.MediaNetwork, source transport.MediaSource, send func(*protocol.Envelope) error, jrnl *journal.Journal) *Negotiator {
	n := &Negotiator{
		selfID:  selfID,
		media:   media,
		source:  source,
		send:    send,
		journal: jrnl,
		phase:   PhaseIdle,
	}
	media.OnIncomingCall(n.handleIncomingCall)
	return n
}

// OnPhase registers the observer notified on every phase change.
func (n *Negotiator) OnPhase(fn func(Phase, Role)) {
	n.mu.Lock()
	n.onPhase = fn
	n.mu.Unlock()
}

// Phase returns the current negotiation phase.
func (n *Negotiator) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// Role returns the current role, RoleNone while idle.
func (n *Negotiator) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// setPhase updates the phase under the lock and returns the observer
// call to perform after unlocking.
func (n *Negotiator) setPhase(phase Phase, role Role) func() {
	n.phase = phase
	n.role = role
	fn := n.onPhase
	if fn == nil {
		return func() {}
	}
	return func() { fn(phase, role) }
}

// releaseMedia stops the locally-owned tracks. Idempotent: safe to call
// when nothing was ever acquired, and a second call is a no-op.
func (n *Negotiator) releaseMedia() {
	if n.local != nil {
		n.local.Release()
		n.local = nil
	}
}

// ---------------------------------------------------------------------------
// Caller side
// ---------------------------------------------------------------------------

// Request starts the handshake toward peerID. No media is touched until
// the peer accepts.
func (n *Negotiator) Request(peerID string) error {
	n.mu.Lock()
	if n.phase != PhaseIdle {
		n.mu.Unlock()
		return fmt.Errorf("call already in progress (phase %s)", n.phase)
	}
	notify := n.setPhase(PhaseRequesting, RoleCaller)
	n.peerID = peerID
	n.mu.Unlock()
	notify()

	if err := n.send(protocol.NewCallRequest(n.selfID)); err != nil {
		n.mu.Lock()
		notify = n.setPhase(PhaseIdle, RoleNone)
		n.mu.Unlock()
		notify()
		return fmt.Errorf("send call request: %w", err)
	}

	n.journal.Record(journal.SeverityInfo, "calling %s", peerID)
	return nil
}

// handleResponse reacts to the peer's verdict while we are REQUESTING.
func (n *Negotiator) handleResponse(env *protocol.Envelope) {
	n.mu.Lock()
	if n.phase != PhaseRequesting {
		n.mu.Unlock()
		util.LogDebug("ignoring CALL_RESPONSE in phase %s", n.phase)
		return
	}

	if !env.Accepted() {
		notify := n.setPhase(PhaseIdle, RoleNone)
		n.releaseMedia() // nothing acquired yet; kept for the invariant
		n.mu.Unlock()
		notify()
		n.journal.Record(journal.SeverityInfo, "%s declined the call", env.SenderID)
		return
	}

	// Accepted: acquire media, then place the media call.
	local, err := n.source.Acquire()
	if err != nil {
		notify := n.setPhase(PhaseIdle, RoleNone)
		n.mu.Unlock()
		notify()
		n.journal.Record(journal.SeverityError, "media acquisition failed: %v", err)
		return
	}
	n.local = local

	handle, err := n.media.Call(n.peerID, local)
	if err != nil {
		n.releaseMedia()
		notify := n.setPhase(PhaseIdle, RoleNone)
		n.mu.Unlock()
		notify()
		n.journal.Record(journal.SeverityError, "placing call failed: %v", err)
		return
	}

	n.handle = handle
	n.watchLocked(handle)
	notify := n.setPhase(PhaseActive, RoleCaller)
	n.mu.Unlock()
	notify()
	n.journal.Record(journal.SeverityInfo, "call with %s active", env.SenderID)
}

// ---------------------------------------------------------------------------
// Callee side
// ---------------------------------------------------------------------------

// handleRequest reacts to an inbound CALL_REQUEST. A request while a
// call is already underway is declined without disturbing it.
func (n *Negotiator) handleRequest(env *protocol.Envelope) {
	n.mu.Lock()
	if n.phase != PhaseIdle {
		n.mu.Unlock()
		n.journal.Record(journal.SeverityWarning, "declining call from %s: busy", env.SenderID)
		if err := n.send(protocol.NewCallResponse(n.selfID, false)); err != nil {
			util.LogDebug("busy-decline not delivered: %v", err)
		}
		return
	}

	n.peerID = env.SenderID
	notify := n.setPhase(PhaseIncoming, RoleCallee)
	n.mu.Unlock()
	notify()
	n.journal.Record(journal.SeverityInfo, "incoming call from %s", env.SenderID)
}

// Accept answers the pending call request: acquire media, send the
// ACCEPT verdict, and answer the inbound media call once it arrives.
func (n *Negotiator) Accept() error {
	n.mu.Lock()
	if n.phase != PhaseIncoming {
		n.mu.Unlock()
		return fmt.Errorf("no incoming call to accept (phase %s)", n.phase)
	}

	local, err := n.source.Acquire()
	if err != nil {
		notify := n.setPhase(PhaseIdle, RoleNone)
		n.mu.Unlock()
		notify()
		n.journal.Record(journal.SeverityError, "media acquisition failed: %v", err)
		return err
	}
	n.local = local

	if err := n.send(protocol.NewCallResponse(n.selfID, true)); err != nil {
		n.releaseMedia()
		notify := n.setPhase(PhaseIdle, RoleNone)
		n.mu.Unlock()
		notify()
		return fmt.Errorf("send accept: %w", err)
	}

	// The caller places the media call only after seeing ACCEPT, so the
	// handle may arrive before or after this point.
	if n.pending != nil {
		pending := n.pending
		n.pending = nil
		if !n.answerLocked(pending) {
			notify := n.setPhase(PhaseIdle, RoleNone)
			n.mu.Unlock()
			notify()
			return fmt.Errorf("answering media call failed")
		}
	}

	notify := n.setPhase(PhaseActive, RoleCallee)
	n.mu.Unlock()
	notify()
	return nil
}

// Reject declines the pending call request. No media is acquired.
func (n *Negotiator) Reject() error {
	n.mu.Lock()
	if n.phase != PhaseIncoming {
		n.mu.Unlock()
		return fmt.Errorf("no incoming call to reject (phase %s)", n.phase)
	}
	n.pending = nil
	notify := n.setPhase(PhaseIdle, RoleNone)
	n.mu.Unlock()
	notify()

	if err := n.send(protocol.NewCallResponse(n.selfID, false)); err != nil {
		return fmt.Errorf("send reject: %w", err)
	}
	n.journal.Record(journal.SeverityInfo, "call rejected")
	return nil
}

// handleIncomingCall is the media transport's delivery of the peer's
// media call. If we already accepted, answer immediately; otherwise
// park the handle for Accept.
func (n *Negotiator) handleIncomingCall(peerID string, c transport.Call) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.phase {
	case PhaseActive:
		if n.role == RoleCallee && n.handle == nil {
			if !n.answerLocked(c) {
				notify := n.setPhase(PhaseIdle, RoleNone)
				defer notify()
			}
			return
		}
	case PhaseIncoming:
		n.pending = c
		return
	}

	util.LogDebug("dropping unexpected media call from %s in phase %s", peerID, n.phase)
	if err := c.Close(); err != nil {
		util.LogDebug("closing stray call: %v", err)
	}
}

// answerLocked answers an inbound media call with the already-acquired
// local media. Caller holds the lock. On failure it performs the full
// teardown and returns false; the caller decides the phase transition.
func (n *Negotiator) answerLocked(c transport.Call) bool {
	if err := n.media.Answer(c, n.local); err != nil {
		n.journal.Record(journal.SeverityError, "answering call failed: %v", err)
		n.endLocked()
		return false
	}
	n.handle = c
	n.watchLocked(c)
	return true
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// watchLocked wires the live call's lifecycle events. Caller holds the lock.
func (n *Negotiator) watchLocked(c transport.Call) {
	c.OnStream(func(remote transport.RemoteMedia) {
		n.mu.Lock()
		n.remote = remote
		n.mu.Unlock()
		n.journal.Record(journal.SeverityInfo, "remote media arrived")
	})
	c.OnClose(func() {
		n.journal.Record(journal.SeverityInfo, "call ended by peer")
		n.End()
	})
	c.OnError(func(kind transport.ErrorKind) {
		n.journal.Record(journal.SeverityError, "call failed: %s", kind)
		n.End()
	})
}

// End hangs up and returns to IDLE, releasing local media exactly once
// before the transition completes. Ending an already-ended call is a no-op.
func (n *Negotiator) End() {
	n.mu.Lock()
	if n.phase == PhaseIdle {
		n.mu.Unlock()
		return
	}
	n.endLocked()
	notify := n.setPhase(PhaseIdle, RoleNone)
	n.mu.Unlock()
	notify()
}

// endLocked performs the teardown actions. Caller holds the lock.
func (n *Negotiator) endLocked() {
	if n.handle != nil {
		if err := n.handle.Close(); err != nil {
			util.LogDebug("closing call handle: %v", err)
		}
		n.handle = nil
	}
	if n.pending != nil {
		if err := n.pending.Close(); err != nil {
			util.LogDebug("closing pending call handle: %v", err)
		}
		n.pending = nil
	}
	n.releaseMedia()
	n.remote = nil
	n.peerID = ""
}

// HandleEnvelope routes a call-control envelope into the state machine.
func (n *Negotiator) HandleEnvelope(env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindCallRequest:
		n.handleRequest(env)
	case protocol.KindCallResponse:
		n.handleResponse(env)
	default:
		util.LogDebug("negotiator ignoring %s envelope", env.Kind)
	}
}
