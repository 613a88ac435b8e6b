package transfer

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/peerwire/peerwire/internal/protocol"
)

// makeTestData generates deterministic test data of the given size.
func makeTestData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) ^ seed
	}
	return data
}

// collect runs a full Send and returns the emitted chunk envelopes.
func collect(t *testing.T, m *Manager, fileName string, payload []byte) []*protocol.Envelope {
	t.Helper()
	var sent []*protocol.Envelope
	err := m.Send(context.Background(), fileName, payload, func(env *protocol.Envelope) error {
		sent = append(sent, env)
		return nil
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	return sent
}

// TestSendPartitioning verifies totalChunks = ceil(size/chunkSize) and
// the exact slice boundaries for a payload that does not divide evenly.
func TestSendPartitioning(t *testing.T) {
	const chunkSize = 16384
	m := NewManager("A", chunkSize, 8)
	payload := makeTestData(40000, 1)

	sent := collect(t, m, "photo.png", payload)

	if len(sent) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(sent))
	}
	wantSizes := []int{16384, 16384, 7232}
	for i, env := range sent {
		if env.Kind != protocol.KindChunk {
			t.Fatalf("chunk %d has kind %s", i, env.Kind)
		}
		if env.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, env.ChunkIndex)
		}
		if env.TotalChunks != 3 {
			t.Errorf("chunk %d has totalChunks %d", i, env.TotalChunks)
		}
		if env.TransferID != sent[0].TransferID {
			t.Errorf("chunk %d has a different transferId", i)
		}
		data, _ := env.Content.Bytes()
		if len(data) != wantSizes[i] {
			t.Errorf("chunk %d has %d bytes, want %d", i, len(data), wantSizes[i])
		}
		if err := env.Validate(); err != nil {
			t.Errorf("chunk %d invalid: %v", i, err)
		}
	}
}

// TestReassemblyAnyOrder verifies that any arrival permutation
// reproduces the payload byte-for-byte.
func TestReassemblyAnyOrder(t *testing.T) {
	payload := makeTestData(40000, 2)

	permutations := [][]int{
		{0, 1, 2},
		{2, 0, 1},
		{2, 1, 0},
		{1, 2, 0},
	}

	for _, perm := range permutations {
		t.Run(fmt.Sprintf("order %v", perm), func(t *testing.T) {
			sender := NewManager("A", 16384, 8)
			chunks := collect(t, sender, "photo.png", payload)

			receiver := NewManager("B", 16384, 8)
			var assembled *protocol.Envelope
			receiver.OnComplete(func(env *protocol.Envelope) { assembled = env })

			for _, idx := range perm {
				if err := receiver.Receive(chunks[idx]); err != nil {
					t.Fatalf("Receive chunk %d: %v", idx, err)
				}
			}

			if assembled == nil {
				t.Fatal("no assembled message emitted")
			}
			got, _ := assembled.Content.Bytes()
			if !bytes.Equal(got, payload) {
				t.Fatalf("assembled payload differs from source (%d vs %d bytes)", len(got), len(payload))
			}
			if receiver.Active() != 0 {
				t.Errorf("transfer state not discarded: %d active", receiver.Active())
			}
		})
	}
}

// TestDuplicateChunkIdempotent verifies that re-delivering a chunk
// neither advances the count nor corrupts the payload.
func TestDuplicateChunkIdempotent(t *testing.T) {
	payload := makeTestData(50000, 3)
	sender := NewManager("A", 16384, 8)
	chunks := collect(t, sender, "photo.png", payload)

	receiver := NewManager("B", 16384, 8)
	var progress []int
	var assembled *protocol.Envelope
	receiver.OnProgress(func(_ string, pct int) { progress = append(progress, pct) })
	receiver.OnComplete(func(env *protocol.Envelope) { assembled = env })

	// Deliver chunk 0 three times before the rest.
	for i := 0; i < 3; i++ {
		if err := receiver.Receive(chunks[0]); err != nil {
			t.Fatalf("duplicate Receive: %v", err)
		}
	}
	for _, env := range chunks[1:] {
		if err := receiver.Receive(env); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}

	if assembled == nil {
		t.Fatal("no assembled message emitted")
	}
	got, _ := assembled.Content.Bytes()
	if !bytes.Equal(got, payload) {
		t.Fatal("assembled payload corrupted by duplicate delivery")
	}

	// Progress must be monotonically non-decreasing and end at 100.
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress regressed: %v", progress)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Fatalf("final progress %d, want 100", progress[len(progress)-1])
	}
	for _, pct := range progress[:len(progress)-1] {
		if pct == 100 {
			t.Fatalf("progress hit 100 before completion: %v", progress)
		}
	}
}

// TestEmptyChunkDeliveredTwice verifies index idempotency holds even
// for a zero-byte chunk payload: re-delivery must not advance the
// count, and the transfer must not complete with a slot still missing.
func TestEmptyChunkDeliveredTwice(t *testing.T) {
	receiver := NewManager("B", 16384, 8)
	var assembled *protocol.Envelope
	receiver.OnComplete(func(env *protocol.Envelope) { assembled = env })

	empty := protocol.NewChunk("A", "t-1", "pic.png", 0, 2, nil)
	for i := 0; i < 2; i++ {
		if err := receiver.Receive(empty); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}

	if assembled != nil {
		t.Fatal("transfer completed with slot 1 never delivered")
	}
	if receiver.Active() != 1 {
		t.Fatalf("%d active transfers, want 1", receiver.Active())
	}

	rest := []byte("tail")
	if err := receiver.Receive(protocol.NewChunk("A", "t-1", "pic.png", 1, 2, rest)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if assembled == nil {
		t.Fatal("transfer did not complete once every slot arrived")
	}
	got, _ := assembled.Content.Bytes()
	if !bytes.Equal(got, rest) {
		t.Fatalf("assembled payload %q, want %q", got, rest)
	}
}

// TestTotalChunksMismatchRejected verifies a chunk disagreeing with the
// established state is rejected, not merged.
func TestTotalChunksMismatchRejected(t *testing.T) {
	receiver := NewManager("B", 16384, 8)

	first := protocol.NewChunk("A", "t-1", "f.png", 0, 4, []byte("aaaa"))
	if err := receiver.Receive(first); err != nil {
		t.Fatalf("first chunk rejected: %v", err)
	}

	liar := protocol.NewChunk("A", "t-1", "f.png", 1, 5, []byte("bbbb"))
	if err := receiver.Receive(liar); err == nil {
		t.Fatal("mismatching totalChunks accepted")
	}
	if receiver.Active() != 1 {
		t.Errorf("state count changed after rejection: %d", receiver.Active())
	}
}

// TestAbortDiscardsPartialTransfers covers a session closing with six
// of ten chunks delivered: the progress entry disappears and no
// completed message is ever emitted.
func TestAbortDiscardsPartialTransfers(t *testing.T) {
	receiver := NewManager("B", 10, 8)
	removed := make(map[string]bool)
	receiver.OnRemove(func(id string) { removed[id] = true })
	completed := false
	receiver.OnComplete(func(*protocol.Envelope) { completed = true })

	for i := 0; i < 6; i++ {
		env := protocol.NewChunk("A", "t-9", "clip.mp4", i, 10, makeTestData(10, byte(i)))
		if err := receiver.Receive(env); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}

	receiver.Abort()

	if !removed["t-9"] {
		t.Error("progress entry for aborted transfer not removed")
	}
	if completed {
		t.Error("partial transfer delivered a completed message")
	}
	if receiver.Active() != 0 {
		t.Errorf("%d transfers still active after abort", receiver.Active())
	}

	// A late chunk for the discarded transfer starts a fresh state
	// rather than resurrecting the old one.
	late := protocol.NewChunk("A", "t-9", "clip.mp4", 7, 10, makeTestData(10, 7))
	if err := receiver.Receive(late); err != nil {
		t.Fatalf("late chunk: %v", err)
	}
	if completed {
		t.Error("late chunk completed a discarded transfer")
	}
}

// TestSendAbortsOnCancel verifies an in-flight send stops as soon as
// the session context is cancelled during a pacing yield.
func TestSendAbortsOnCancel(t *testing.T) {
	m := NewManager("A", 10, 1) // yield after every chunk
	ctx, cancel := context.WithCancel(context.Background())

	var sent int
	err := m.Send(ctx, "big.bin", makeTestData(1000, 5), func(env *protocol.Envelope) error {
		sent++
		if sent == 3 {
			cancel()
		}
		return nil
	})

	if err == nil {
		t.Fatal("cancelled send returned nil error")
	}
	if sent >= 100 {
		t.Fatalf("send did not abort: %d chunks emitted", sent)
	}
}

// TestSendRejectsEmptyPayload verifies the zero-chunk edge case.
func TestSendRejectsEmptyPayload(t *testing.T) {
	m := NewManager("A", 16384, 8)
	err := m.Send(context.Background(), "empty.bin", nil, func(*protocol.Envelope) error {
		t.Fatal("send callback invoked for empty payload")
		return nil
	})
	if err == nil {
		t.Fatal("empty payload accepted")
	}
}

// TestClassification verifies suffix-based IMAGE/VIDEO_FILE selection.
func TestClassification(t *testing.T) {
	testCases := []struct {
		fileName string
		want     protocol.Kind
	}{
		{"photo.png", protocol.KindImage},
		{"photo.JPG", protocol.KindImage},
		{"archive.bin", protocol.KindImage},
		{"clip.mp4", protocol.KindVideoFile},
		{"clip.WebM", protocol.KindVideoFile},
		{"movie.mkv", protocol.KindVideoFile},
	}

	for _, tc := range testCases {
		t.Run(tc.fileName, func(t *testing.T) {
			sender := NewManager("A", 16384, 8)
			chunks := collect(t, sender, tc.fileName, makeTestData(100, 9))

			receiver := NewManager("B", 16384, 8)
			var assembled *protocol.Envelope
			receiver.OnComplete(func(env *protocol.Envelope) { assembled = env })
			for _, env := range chunks {
				if err := receiver.Receive(env); err != nil {
					t.Fatalf("Receive: %v", err)
				}
			}

			if assembled == nil {
				t.Fatal("no assembled message")
			}
			if assembled.Kind != tc.want {
				t.Errorf("classified as %s, want %s", assembled.Kind, tc.want)
			}
			if assembled.FileName != tc.fileName {
				t.Errorf("fileName %q, want %q", assembled.FileName, tc.fileName)
			}
		})
	}
}

// TestTransferIDsUniquePerSend verifies each outbound transfer gets its
// own stable transferId.
func TestTransferIDsUniquePerSend(t *testing.T) {
	m := NewManager("A", 10, 8)
	a := collect(t, m, "a.png", makeTestData(35, 1))
	b := collect(t, m, "b.png", makeTestData(35, 2))

	if a[0].TransferID == b[0].TransferID {
		t.Fatal("two transfers share a transferId")
	}
	for _, env := range a[1:] {
		if env.TransferID != a[0].TransferID {
			t.Fatal("transferId not stable across chunks")
		}
	}
}
