// Package signaling implements the WebSocket rendezvous used to find a
// peer by its short identity and to exchange SDP/ICE for both the data
// session and the media call. Once a DataChannel is open, signaling is
// only needed again for call setup.
package signaling

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeRegister  MessageType = "register"
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
	MsgTypeError     MessageType = "error"
)

// Channel names distinguish which PeerConnection an SDP/ICE message
// belongs to: the envelope session or the media call.
const (
	ChannelData  = "data"
	ChannelMedia = "media"
)

// Message is the JSON structure relayed by the rendezvous server.
// From is stamped by the server on relay; To addresses the recipient.
type Message struct {
	Type      MessageType `json:"type"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
	Reason    string      `json:"reason,omitempty"`    // MsgTypeError only
}
