// Package transfer splits outbound binary payloads into CHUNK envelopes
// and reassembles inbound chunks back into complete payloads. Transfer
// state never leaves this package except as the final assembled message.
package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerwire/peerwire/internal/protocol"
	"github.com/peerwire/peerwire/internal/util"
)

// Tuning constants.
const (
	DefaultChunkSize     = 16 * 1024 // bytes per CHUNK payload, identical on both peers
	DefaultProgressEvery = 8         // report-and-yield cadence on the send path
	pacingYield          = 5 * time.Millisecond
)

// state is the reassembly buffer for one inbound transfer. Slots are
// addressed by chunk index; seen marks the populated ones, since a
// populated slot may legitimately hold an empty payload.
type state struct {
	senderID    string
	fileName    string
	totalChunks int
	slots       [][]byte
	seen        []bool
	received    int
}

// Manager owns all in-flight transfer state for one session.
type Manager struct {
	selfID        string
	chunkSize     int
	progressEvery int

	mu     sync.Mutex
	states map[string]*state

	onProgress func(transferID string, percent int)
	onRemove   func(transferID string)
	onComplete func(env *protocol.Envelope)
}

// NewManager creates a manager with the given chunk size and progress
// cadence. Zero or negative values fall back to the defaults.
func NewManager(selfID string, chunkSize, progressEvery int) *Manager {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if progressEvery < 1 {
		progressEvery = DefaultProgressEvery
	}
	return &Manager{
		selfID:        selfID,
		chunkSize:     chunkSize,
		progressEvery: progressEvery,
		states:        make(map[string]*state),
	}
}

// OnProgress registers the observer for per-transfer progress updates (0–100).
func (m *Manager) OnProgress(fn func(transferID string, percent int)) { m.onProgress = fn }

// OnRemove registers the observer notified when a transfer's progress
// entry should disappear (completion or abort).
func (m *Manager) OnRemove(fn func(transferID string)) { m.onRemove = fn }

// OnComplete registers the sink for fully reassembled IMAGE/VIDEO_FILE messages.
func (m *Manager) OnComplete(fn func(env *protocol.Envelope)) { m.onComplete = fn }

func (m *Manager) reportProgress(id string, pct int) {
	if m.onProgress != nil {
		m.onProgress(id, pct)
	}
}

func (m *Manager) reportRemove(id string) {
	if m.onRemove != nil {
		m.onRemove(id)
	}
}

// ---------------------------------------------------------------------------
// Send path
// ---------------------------------------------------------------------------

// Send partitions payload into contiguous chunks and emits one CHUNK
// envelope per slice through send. Every progressEvery-th chunk it
// reports progress and yields briefly so the transport is never asked
// to buffer the whole payload at once. If ctx is cancelled mid-send
// (session closed), the loop aborts immediately and the transfer is
// abandoned — the receiver is not told, matching the silent-abandonment
// behavior of the protocol.
func (m *Manager) Send(ctx context.Context, fileName string, payload []byte, send func(*protocol.Envelope) error) error {
	if len(payload) == 0 {
		return fmt.Errorf("refusing to send empty payload %q", fileName)
	}

	transferID := uuid.NewString()
	total := (len(payload) + m.chunkSize - 1) / m.chunkSize

	util.LogDebug("transfer %s: sending %q (%d bytes, %d chunks)", transferID, fileName, len(payload), total)

	for i := 0; i < total; i++ {
		lo := i * m.chunkSize
		hi := lo + m.chunkSize
		if hi > len(payload) {
			hi = len(payload)
		}

		// Copy the slice: the envelope is immutable once constructed and
		// must not alias the caller's buffer.
		data := make([]byte, hi-lo)
		copy(data, payload[lo:hi])

		env := protocol.NewChunk(m.selfID, transferID, fileName, i, total, data)
		if err := send(env); err != nil {
			m.reportRemove(transferID)
			return fmt.Errorf("transfer %s aborted at chunk %d/%d: %w", transferID, i, total, err)
		}

		if (i+1)%m.progressEvery == 0 && i+1 < total {
			m.reportProgress(transferID, (i+1)*100/total)

			// Pacing yield. Other events may interleave here, so the
			// session-close check happens on resumption.
			select {
			case <-time.After(pacingYield):
			case <-ctx.Done():
				m.reportRemove(transferID)
				return fmt.Errorf("transfer %s aborted at chunk %d/%d: %w", transferID, i+1, total, ctx.Err())
			}
		}
	}

	m.reportProgress(transferID, 100)
	m.reportRemove(transferID)
	return nil
}

// ---------------------------------------------------------------------------
// Receive path
// ---------------------------------------------------------------------------

// Receive folds one inbound CHUNK envelope into its transfer state,
// creating the state on first sight of a transferId. Writing a slot is
// idempotent on index: a re-delivered chunk overwrites the same slot
// without advancing the received count. When every slot is populated
// the payload is concatenated in index order, classified by file-name
// suffix, and handed to the completion sink.
func (m *Manager) Receive(env *protocol.Envelope) error {
	data, ok := env.Content.Bytes()
	if !ok {
		return fmt.Errorf("chunk %s of transfer %s carries no data", env.ID, env.TransferID)
	}

	m.mu.Lock()
	st, exists := m.states[env.TransferID]
	if !exists {
		st = &state{
			senderID:    env.SenderID,
			fileName:    env.FileName,
			totalChunks: env.TotalChunks,
			slots:       make([][]byte, env.TotalChunks),
			seen:        make([]bool, env.TotalChunks),
		}
		m.states[env.TransferID] = st
	}

	if env.TotalChunks != st.totalChunks {
		m.mu.Unlock()
		return fmt.Errorf("transfer %s: chunk %d claims %d total chunks, state says %d — rejected",
			env.TransferID, env.ChunkIndex, env.TotalChunks, st.totalChunks)
	}
	if env.ChunkIndex < 0 || env.ChunkIndex >= st.totalChunks {
		m.mu.Unlock()
		return fmt.Errorf("transfer %s: chunk index %d outside [0,%d) — rejected",
			env.TransferID, env.ChunkIndex, st.totalChunks)
	}

	// Last write wins; only the first write to an index advances the count.
	if !st.seen[env.ChunkIndex] {
		st.seen[env.ChunkIndex] = true
		st.received++
	}
	st.slots[env.ChunkIndex] = data

	received, total := st.received, st.totalChunks
	complete := received == total
	if complete {
		delete(m.states, env.TransferID)
	}
	m.mu.Unlock()

	m.reportProgress(env.TransferID, received*100/total)

	if complete {
		m.finish(env.TransferID, st)
	}
	return nil
}

// finish concatenates the slots in index order and emits the assembled message.
func (m *Manager) finish(transferID string, st *state) {
	size := 0
	for _, slot := range st.slots {
		size += len(slot)
	}
	payload := make([]byte, 0, size)
	for _, slot := range st.slots {
		payload = append(payload, slot...)
	}

	var assembled *protocol.Envelope
	if isVideoFile(st.fileName) {
		assembled = protocol.NewVideoFile(st.senderID, st.fileName, payload)
	} else {
		assembled = protocol.NewImage(st.senderID, st.fileName, payload)
	}

	util.Stats.AddTransfer()
	util.LogDebug("transfer %s: assembled %q (%d bytes)", transferID, st.fileName, size)

	m.reportRemove(transferID)
	if m.onComplete != nil {
		m.onComplete(assembled)
	}
}

// Abort discards every partial transfer and removes their progress
// entries. No partially assembled payload is ever delivered.
func (m *Manager) Abort() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.states = make(map[string]*state)
	m.mu.Unlock()

	for _, id := range ids {
		m.reportRemove(id)
	}
}

// Active returns the number of in-flight inbound transfers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
