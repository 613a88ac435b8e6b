package signaling

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/peerwire/peerwire/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// peerConn is one registered endpoint. Writes are serialized because
// gorilla connections allow a single concurrent writer.
type peerConn struct {
	id string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peerConn) write(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(msg)
}

// Server is the rendezvous: peers register an identity and the server
// relays addressed messages between them. It never inspects SDP.
type Server struct {
	listener net.Listener

	mu    sync.Mutex
	peers map[string]*peerConn
}

// NewServer creates an empty rendezvous server.
func NewServer() *Server {
	return &Server{peers: make(map[string]*peerConn)}
}

// Start begins listening on addr (":0" picks a random port) and returns
// the bound port.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start rendezvous server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return port, nil
}

// Close shuts down the listener, preventing new registrations.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// First message must register an identity.
	var reg Message
	if err := conn.ReadJSON(&reg); err != nil || reg.Type != MsgTypeRegister || reg.From == "" {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "register first"))
		conn.Close()
		return
	}

	p := &peerConn{id: reg.From, conn: conn}

	s.mu.Lock()
	if prev, ok := s.peers[p.id]; ok {
		// A reconnect with the same identity displaces the stale registration.
		prev.conn.Close()
	}
	s.peers[p.id] = p
	s.mu.Unlock()

	util.LogInfo("peer %s registered", p.id)
	s.relayLoop(p)
}

// relayLoop forwards every addressed message from p until its
// connection drops, then removes the registration.
func (s *Server) relayLoop(p *peerConn) {
	defer func() {
		s.mu.Lock()
		if s.peers[p.id] == p {
			delete(s.peers, p.id)
		}
		s.mu.Unlock()
		p.conn.Close()
		util.LogInfo("peer %s left", p.id)
	}()

	for {
		var msg Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.To == "" {
			continue
		}
		msg.From = p.id // the server vouches for the sender identity

		s.mu.Lock()
		target, ok := s.peers[msg.To]
		s.mu.Unlock()

		if !ok {
			if err := p.write(Message{Type: MsgTypeError, To: p.id, Reason: fmt.Sprintf("peer %s not registered", msg.To)}); err != nil {
				return
			}
			continue
		}
		if err := target.write(msg); err != nil {
			util.LogWarning("relay to %s failed: %v", msg.To, err)
		}
	}
}

// Peers returns the identities currently registered.
func (s *Server) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}
