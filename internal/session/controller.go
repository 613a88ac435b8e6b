// Package session owns the connection state machine between this
// endpoint and its single peer: connect and accept, the connect
// timeout, duplicate-session replacement, and routing of every inbound
// envelope to the transfer manager, the call negotiator, or the
// message stream.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peerwire/peerwire/internal/journal"
	"github.com/peerwire/peerwire/internal/protocol"
	"github.com/peerwire/peerwire/internal/transfer"
	"github.com/peerwire/peerwire/internal/transport"
	"github.com/peerwire/peerwire/internal/util"
)

// State is the connection state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateError        State = "ERROR" // recoverable via an explicit Retry
)

// Negotiator is the slice of the call state machine the controller
// drives: routing call-control envelopes in and tearing the call down
// when the session goes away.
type Negotiator interface {
	HandleEnvelope(env *protocol.Envelope)
	End()
}

// Controller is the session state machine. At most one session is
// active at any time; a newly initiated or accepted session replaces
// (and closes) the previous one. All transport callbacks and user
// actions funnel through the controller's mutex, which stands in for
// the single event loop of the protocol design.
type Controller struct {
	selfID    string
	network   transport.Network
	transfers *transfer.Manager
	journal   *journal.Journal
	timeout   time.Duration

	mu       sync.Mutex
	state    State
	sess     transport.Session // borrowed handle; nil unless connecting/connected
	peerID   string
	lastPeer string // remembered for Retry
	timer    *time.Timer
	cancel   context.CancelFunc // aborts in-flight outbound transfers
	sendCtx  context.Context

	calls Negotiator

	onState   func(State)
	onMessage func(*protocol.Envelope)
}

// NewController creates a controller and registers for inbound sessions.
func NewController(selfID string, network transport.Network, transfers *transfer.Manager, jrnl *journal.Journal, timeout time.Duration) *Controller {
	c := &Controller{
		selfID:    selfID,
		network:   network,
		transfers: transfers,
		journal:   jrnl,
		timeout:   timeout,
		state:     StateDisconnected,
	}
	transfers.OnComplete(c.deliver)
	network.OnIncoming(c.acceptIncoming)
	return c
}

// AttachCalls wires the call negotiator. Done after construction
// because the negotiator sends through this controller.
func (c *Controller) AttachCalls(n Negotiator) {
	c.mu.Lock()
	c.calls = n
	c.mu.Unlock()
}

// OnState registers the observer notified on every state change.
func (c *Controller) OnState(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnMessage registers the message-stream sink. Envelopes arrive in
// delivery order; chunk and call-control envelopes never appear here.
func (c *Controller) OnMessage(fn func(*protocol.Envelope)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peer returns the connected peer's identity, empty when there is none.
func (c *Controller) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// setStateLocked records the transition and returns the observer call
// to run once the lock is released.
func (c *Controller) setStateLocked(s State) func() {
	c.state = s
	fn := c.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(s) }
}

func (c *Controller) deliver(env *protocol.Envelope) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

// ---------------------------------------------------------------------------
// Connecting
// ---------------------------------------------------------------------------

// Connect initiates a session to peerID and arms the connect timeout.
// Any existing session is closed first. ERROR is left only through
// Retry, which passes back through DISCONNECTED.
func (c *Controller) Connect(peerID string) error {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("already connecting to %s", c.peerID)
	}
	if c.state == StateError {
		c.mu.Unlock()
		return fmt.Errorf("connection to %s failed — retry to reconnect", c.lastPeer)
	}

	old := c.teardownLocked()
	c.lastPeer = peerID
	c.peerID = peerID
	notify := c.setStateLocked(StateConnecting)

	ctx, cancel := context.WithCancel(context.Background())
	c.sendCtx, c.cancel = ctx, cancel

	sess, err := c.network.Connect(ctx, peerID)
	if err != nil {
		cancel()
		c.cancel = nil
		notify = c.setStateLocked(StateError)
		c.mu.Unlock()
		old()
		notify()
		c.journal.Record(journal.SeverityError, "connect to %s failed: %v", peerID, err)
		return err
	}

	c.sess = sess
	c.watch(sess)
	c.timer = time.AfterFunc(c.timeout, func() { c.handleTimeout(sess) })
	c.mu.Unlock()
	old()
	notify()

	c.journal.Record(journal.SeverityInfo, "connecting to %s", peerID)
	return nil
}

// Retry re-issues the last connect attempt. Only valid from ERROR.
func (c *Controller) Retry() error {
	c.mu.Lock()
	if c.state != StateError {
		c.mu.Unlock()
		return fmt.Errorf("retry only valid in ERROR state, currently %s", c.state)
	}
	peer := c.lastPeer
	notify := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	notify()

	if peer == "" {
		return fmt.Errorf("nothing to retry")
	}
	return c.Connect(peer)
}

// acceptIncoming adopts a session initiated by a remote peer. The
// accepting side has no CONNECTING phase — the session is already open.
// An existing session, whatever its peer, is closed and replaced.
func (c *Controller) acceptIncoming(sess transport.Session) {
	c.mu.Lock()
	old := c.teardownLocked()

	c.peerID = sess.Peer()
	c.sess = sess
	ctx, cancel := context.WithCancel(context.Background())
	c.sendCtx, c.cancel = ctx, cancel
	c.watch(sess)
	notify := c.setStateLocked(StateConnected)
	c.mu.Unlock()
	old()
	notify()

	c.journal.Record(journal.SeverityInfo, "accepted session from %s", sess.Peer())
}

// watch wires the session's lifecycle callbacks. Every handler checks
// that the session is still the active one, so late signals from a
// replaced session cannot disturb its successor.
func (c *Controller) watch(sess transport.Session) {
	sess.OnOpen(func() { c.handleOpen(sess) })
	sess.OnEnvelope(func(env *protocol.Envelope) { c.handleEnvelope(sess, env) })
	sess.OnClose(func() { c.handleClose(sess) })
	sess.OnError(func(kind transport.ErrorKind) { c.handleError(sess, kind) })
}

// ---------------------------------------------------------------------------
// Transport signals
// ---------------------------------------------------------------------------

func (c *Controller) handleOpen(sess transport.Session) {
	c.mu.Lock()
	if sess != c.sess || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	notify := c.setStateLocked(StateConnected)
	peer := c.peerID
	c.mu.Unlock()
	notify()

	c.journal.Record(journal.SeverityInfo, "connected to %s", peer)
}

func (c *Controller) handleTimeout(sess transport.Session) {
	c.mu.Lock()
	if sess != c.sess || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	old := c.teardownLocked()
	peer := c.lastPeer
	notify := c.setStateLocked(StateError)
	c.mu.Unlock()
	old()
	notify()

	c.journal.Record(journal.SeverityError, "connect to %s timed out after %s", peer, c.timeout)
}

func (c *Controller) handleClose(sess transport.Session) {
	c.mu.Lock()
	if sess != c.sess {
		c.mu.Unlock()
		return
	}
	old := c.teardownLocked()
	peer := c.peerID
	c.peerID = ""
	notify := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	old()
	notify()

	c.journal.Record(journal.SeverityInfo, "session with %s closed", peer)
}

func (c *Controller) handleError(sess transport.Session, kind transport.ErrorKind) {
	c.mu.Lock()
	if sess != c.sess {
		c.mu.Unlock()
		return
	}
	old := c.teardownLocked()
	peer := c.peerID
	notify := c.setStateLocked(StateError)
	c.mu.Unlock()
	old()
	notify()

	c.journal.Record(journal.SeverityError, "session with %s failed: %s", peer, kind)
}

// teardownLocked detaches the current session and returns the cleanup
// that must run outside the lock (transfer abort and call teardown take
// their own locks). After it runs, no session reference points to a
// closed transport handle.
func (c *Controller) teardownLocked() func() {
	sess := c.sess
	calls := c.calls
	c.sess = nil
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	return func() {
		if sess != nil {
			if err := sess.Close(); err != nil {
				util.LogDebug("closing session: %v", err)
			}
		}
		c.transfers.Abort()
		if calls != nil {
			calls.End()
		}
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close tears the active session down locally. Closing when nothing is
// open is a no-op.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	old := c.teardownLocked()
	peer := c.peerID
	c.peerID = ""
	notify := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	old()
	notify()

	c.journal.Record(journal.SeverityInfo, "closed session with %s", peer)
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// SendEnvelope transmits one envelope over the active session. Sending
// while not CONNECTED is a reported warning, never a crash: the caller
// gets an error and the journal gets an entry.
func (c *Controller) SendEnvelope(env *protocol.Envelope) error {
	c.mu.Lock()
	if c.state != StateConnected || c.sess == nil {
		c.mu.Unlock()
		c.journal.Record(journal.SeverityWarning, "not connected — %s envelope dropped", env.Kind)
		return fmt.Errorf("cannot send %s: not connected", env.Kind)
	}
	sess := c.sess
	c.mu.Unlock()

	if err := sess.Send(env); err != nil {
		return fmt.Errorf("send %s envelope: %w", env.Kind, err)
	}
	util.Stats.AddEnvelope()
	return nil
}

// SendText sends a chat message and returns the envelope for local display.
func (c *Controller) SendText(text string) (*protocol.Envelope, error) {
	env := protocol.NewText(c.selfID, text)
	if err := c.SendEnvelope(env); err != nil {
		return nil, err
	}
	return env, nil
}

// SendFile starts a chunked transfer of payload in the background. The
// transfer is abandoned silently if the session closes mid-send.
func (c *Controller) SendFile(fileName string, payload []byte) error {
	c.mu.Lock()
	if c.state != StateConnected || c.sess == nil {
		c.mu.Unlock()
		c.journal.Record(journal.SeverityWarning, "not connected — transfer of %q dropped", fileName)
		return fmt.Errorf("cannot send %q: not connected", fileName)
	}
	ctx := c.sendCtx
	c.mu.Unlock()

	go func() {
		if err := c.transfers.Send(ctx, fileName, payload, c.SendEnvelope); err != nil {
			util.LogDebug("outbound transfer abandoned: %v", err)
		}
	}()
	return nil
}

// ---------------------------------------------------------------------------
// Receiving
// ---------------------------------------------------------------------------

// handleEnvelope validates and routes one inbound envelope: CHUNK to
// the transfer manager, call control to the negotiator, everything else
// to the message stream in arrival order.
func (c *Controller) handleEnvelope(sess transport.Session, env *protocol.Envelope) {
	c.mu.Lock()
	if sess != c.sess || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	calls := c.calls
	c.mu.Unlock()

	if err := env.Validate(); err != nil {
		c.journal.Record(journal.SeverityWarning, "rejected malformed envelope: %v", err)
		return
	}
	util.Stats.AddEnvelope()

	switch env.Kind {
	case protocol.KindChunk:
		if err := c.transfers.Receive(env); err != nil {
			c.journal.Record(journal.SeverityWarning, "rejected chunk: %v", err)
		}

	case protocol.KindCallRequest, protocol.KindCallResponse:
		if calls == nil {
			util.LogDebug("no call negotiator attached, dropping %s", env.Kind)
			return
		}
		calls.HandleEnvelope(env)

	default:
		c.deliver(env)
	}
}
