package protocol

import (
	"bytes"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are
// inverse operations for every envelope kind.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		env  *Envelope
	}{
		{"text", NewText("ABC123", "hello world")},
		{"system", NewSystem("ABC123", "peer joined")},
		{"image", NewImage("ABC123", "photo.png", []byte{0x89, 0x50, 0x4E, 0x47})},
		{"video", NewVideoFile("ABC123", "clip.mp4", make([]byte, 2048))},
		{"chunk", NewChunk("ABC123", "t-1", "clip.mp4", 3, 10, []byte("chunkdata"))},
		{"call request", NewCallRequest("ABC123")},
		{"call response accept", NewCallResponse("ABC123", true)},
		{"call response reject", NewCallResponse("ABC123", false)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.env)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.ID != tc.env.ID {
				t.Errorf("ID mismatch: got %q, want %q", decoded.ID, tc.env.ID)
			}
			if decoded.Kind != tc.env.Kind {
				t.Errorf("Kind mismatch: got %q, want %q", decoded.Kind, tc.env.Kind)
			}
			if decoded.SenderID != tc.env.SenderID {
				t.Errorf("SenderID mismatch: got %q, want %q", decoded.SenderID, tc.env.SenderID)
			}
			if decoded.TransferID != tc.env.TransferID ||
				decoded.ChunkIndex != tc.env.ChunkIndex ||
				decoded.TotalChunks != tc.env.TotalChunks {
				t.Errorf("transfer fields mismatch: %+v vs %+v", decoded, tc.env)
			}
			if decoded.Content.Type() != tc.env.Content.Type() {
				t.Errorf("content type mismatch: got %d, want %d",
					decoded.Content.Type(), tc.env.Content.Type())
			}

			if want, ok := tc.env.Content.Text(); ok {
				got, _ := decoded.Content.Text()
				if got != want {
					t.Errorf("text mismatch: got %q, want %q", got, want)
				}
			}
			if want, ok := tc.env.Content.Bytes(); ok {
				got, _ := decoded.Content.Bytes()
				if !bytes.Equal(got, want) {
					t.Errorf("binary content mismatch: %d vs %d bytes", len(got), len(want))
				}
			}

			if err := decoded.Validate(); err != nil {
				t.Errorf("decoded envelope fails validation: %v", err)
			}
		})
	}
}

// TestValidateRejectsMalformed exercises per-kind required fields.
func TestValidateRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Envelope)
		env    *Envelope
	}{
		{
			name: "missing id",
			env:  NewText("A", "hi"),
			mutate: func(e *Envelope) {
				e.ID = ""
			},
		},
		{
			name: "missing sender",
			env:  NewText("A", "hi"),
			mutate: func(e *Envelope) {
				e.SenderID = ""
			},
		},
		{
			name: "text without text content",
			env:  NewText("A", "hi"),
			mutate: func(e *Envelope) {
				e.Content = RawContent([]byte("x"))
			},
		},
		{
			name: "image without file name",
			env:  NewImage("A", "pic.png", []byte{1}),
			mutate: func(e *Envelope) {
				e.FileName = ""
			},
		},
		{
			name: "chunk without transfer id",
			env:  NewChunk("A", "t-1", "f.png", 0, 2, []byte{1}),
			mutate: func(e *Envelope) {
				e.TransferID = ""
			},
		},
		{
			name: "chunk index out of range",
			env:  NewChunk("A", "t-1", "f.png", 0, 2, []byte{1}),
			mutate: func(e *Envelope) {
				e.ChunkIndex = 2
			},
		},
		{
			name: "chunk with zero total",
			env:  NewChunk("A", "t-1", "f.png", 0, 2, []byte{1}),
			mutate: func(e *Envelope) {
				e.TotalChunks = 0
			},
		},
		{
			name: "call request with content",
			env:  NewCallRequest("A"),
			mutate: func(e *Envelope) {
				e.Content = TextContent("hi")
			},
		},
		{
			name: "call response with bogus verdict",
			env:  NewCallResponse("A", true),
			mutate: func(e *Envelope) {
				e.Content = TextContent("MAYBE")
			},
		},
		{
			name: "unknown kind",
			env:  NewText("A", "hi"),
			mutate: func(e *Envelope) {
				e.Kind = "GIBBERISH"
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.mutate(tc.env)
			if err := tc.env.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

// TestEnvelopeIDsUnique verifies constructors never reuse ids.
func TestEnvelopeIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env := NewText("A", "hi")
		if seen[env.ID] {
			t.Fatalf("duplicate envelope id %s", env.ID)
		}
		seen[env.ID] = true
	}
}

// TestAccepted verifies the verdict helper.
func TestAccepted(t *testing.T) {
	if !NewCallResponse("A", true).Accepted() {
		t.Error("ACCEPT response not recognized")
	}
	if NewCallResponse("A", false).Accepted() {
		t.Error("REJECT response recognized as accept")
	}
	if NewText("A", VerdictAccept).Accepted() {
		t.Error("TEXT envelope recognized as accept")
	}
}

// TestContentNullRoundTrip verifies the empty variant encodes as null
// and decodes back to empty.
func TestContentNullRoundTrip(t *testing.T) {
	env := NewCallRequest("A")

	encoded, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Contains(encoded, []byte(`"content":null`)) {
		t.Errorf("empty content not encoded as null: %s", encoded)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.Content.IsEmpty() {
		t.Error("decoded content not empty")
	}
}

// TestContentAccessorsDisjoint verifies each accessor answers only for
// its own variant.
func TestContentAccessorsDisjoint(t *testing.T) {
	if _, ok := TextContent("x").Bytes(); ok {
		t.Error("Bytes() answered for text content")
	}
	if _, ok := RawContent([]byte{1}).Text(); ok {
		t.Error("Text() answered for raw content")
	}
	if _, ok := EmptyContent().Text(); ok {
		t.Error("Text() answered for empty content")
	}
	if _, ok := EmptyContent().Bytes(); ok {
		t.Error("Bytes() answered for empty content")
	}
}

// TestDecodeGarbage verifies undecodable input returns an error.
func TestDecodeGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("{"), []byte("not json")} {
		if _, err := Decode(data); err == nil {
			t.Errorf("Decode(%q) succeeded unexpectedly", data)
		}
	}
}
