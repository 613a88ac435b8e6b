// Package transport declares the contracts between the session layer
// and the externally-owned links it rides on: the point-to-point
// envelope transport and the media-call transport. The session layer
// never touches a concrete implementation — tests substitute in-process
// pairs, production wires the webrtc package.
package transport

import (
	"context"

	"github.com/peerwire/peerwire/internal/protocol"
)

// ErrorKind classifies failures reported through the error callbacks.
type ErrorKind string

const (
	// Transport errors — surfaced as session state ERROR; the user may retry.
	ErrPeerUnreachable   ErrorKind = "peer-unreachable"
	ErrSignalingLost     ErrorKind = "signaling-lost"
	ErrNegotiationFailed ErrorKind = "negotiation-failed"

	// Media errors — terminate the in-progress call negotiation.
	ErrPermissionDenied ErrorKind = "permission-denied"
	ErrDeviceBusy       ErrorKind = "device-busy"
)

// Session is one point-to-point link to a peer. It delivers envelopes
// ordered and reliably; lifecycle is reported through the callbacks,
// which fire at most once each for open and close.
type Session interface {
	// Peer returns the remote peer's identity.
	Peer() string

	// Send transmits one envelope. It may buffer; an error means the
	// envelope will never arrive.
	Send(env *protocol.Envelope) error

	// Close tears the link down. Closing an already-closed session is a no-op.
	Close() error

	// Lifecycle callbacks. Implementations invoke them from their own
	// goroutines, never synchronously from inside Send or Close, so a
	// handler may call back into the session without deadlocking.
	OnOpen(fn func())
	OnEnvelope(fn func(*protocol.Envelope))
	OnClose(fn func())
	OnError(fn func(ErrorKind))
}

// Network opens outbound sessions and surfaces inbound ones.
type Network interface {
	// Connect starts establishing a session to the peer with the given
	// identity. The returned session is not yet open — wait for OnOpen.
	Connect(ctx context.Context, peerID string) (Session, error)

	// OnIncoming registers the handler for sessions initiated by remote
	// peers. An incoming session is already open when delivered.
	OnIncoming(fn func(Session))
}

// ---------------------------------------------------------------------------
// Media-call transport
// ---------------------------------------------------------------------------

// LocalMedia is a set of locally-captured tracks. It is exclusively
// owned by whoever acquired it; Release stops all tracks and is safe to
// call more than once.
type LocalMedia interface {
	Release()
}

// RemoteMedia is the peer's media as observed locally. Observed only —
// never stopped or owned by this endpoint.
type RemoteMedia interface {
	ID() string
}

// Call is one audio/video exchange in progress.
type Call interface {
	OnStream(fn func(RemoteMedia))
	OnClose(fn func())
	OnError(fn func(ErrorKind))

	// Close hangs up. Closing an already-ended call is a no-op.
	Close() error
}

// MediaNetwork places and answers calls once the in-band handshake has
// granted consent.
type MediaNetwork interface {
	// Call dials the peer with the given local tracks attached.
	Call(peerID string, local LocalMedia) (Call, error)

	// Answer accepts a call previously delivered via OnIncoming,
	// attaching the callee's local tracks.
	Answer(call Call, local LocalMedia) error

	// OnIncomingCall registers the handler for calls placed by remote
	// peers. The delivered call must be passed to Answer before media flows.
	OnIncomingCall(fn func(peerID string, call Call))
}

// MediaSource acquires local capture resources. Acquisition can fail
// (permission denied, device busy) and such failures are terminal for
// the negotiation that requested them.
type MediaSource interface {
	Acquire() (LocalMedia, error)
}
