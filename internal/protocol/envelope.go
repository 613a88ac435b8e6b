// Package protocol defines the envelope format and message kinds
// exchanged between two peers over a session.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an envelope carries.
type Kind string

const (
	KindText         Kind = "TEXT"          // plain chat text
	KindImage        Kind = "IMAGE"         // assembled image payload
	KindVideoFile    Kind = "VIDEO_FILE"    // assembled video payload
	KindSystem       Kind = "SYSTEM"        // local status line for the message stream
	KindChunk        Kind = "CHUNK"         // one slice of a chunked transfer
	KindCallRequest  Kind = "CALL_REQUEST"  // call handshake: invitation
	KindCallResponse Kind = "CALL_RESPONSE" // call handshake: verdict
)

// Call verdicts carried as the content of a CALL_RESPONSE.
const (
	VerdictAccept = "ACCEPT"
	VerdictReject = "REJECT"
)

// Envelope is one protocol message. It is immutable once constructed;
// the transfer fields are only meaningful for KindChunk.
type Envelope struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Kind      Kind      `json:"kind"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	FileName    string `json:"fileName,omitempty"`
	TransferID  string `json:"transferId,omitempty"`
	ChunkIndex  int    `json:"chunkIndex,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func newEnvelope(senderID string, kind Kind, content Content) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewText creates a TEXT envelope.
func NewText(senderID, text string) *Envelope {
	return newEnvelope(senderID, KindText, TextContent(text))
}

// NewSystem creates a SYSTEM envelope.
func NewSystem(senderID, text string) *Envelope {
	return newEnvelope(senderID, KindSystem, TextContent(text))
}

// NewImage creates an IMAGE envelope holding a fully assembled payload.
func NewImage(senderID, fileName string, data []byte) *Envelope {
	env := newEnvelope(senderID, KindImage, ImageContent(data))
	env.FileName = fileName
	return env
}

// NewVideoFile creates a VIDEO_FILE envelope holding a fully assembled payload.
func NewVideoFile(senderID, fileName string, data []byte) *Envelope {
	env := newEnvelope(senderID, KindVideoFile, VideoContent(data))
	env.FileName = fileName
	return env
}

// NewChunk creates a CHUNK envelope carrying one slice of a transfer.
func NewChunk(senderID, transferID, fileName string, index, total int, data []byte) *Envelope {
	env := newEnvelope(senderID, KindChunk, RawContent(data))
	env.FileName = fileName
	env.TransferID = transferID
	env.ChunkIndex = index
	env.TotalChunks = total
	return env
}

// NewCallRequest creates a CALL_REQUEST envelope. It carries no content.
func NewCallRequest(senderID string) *Envelope {
	return newEnvelope(senderID, KindCallRequest, EmptyContent())
}

// NewCallResponse creates a CALL_RESPONSE envelope with the given verdict.
func NewCallResponse(senderID string, accept bool) *Envelope {
	verdict := VerdictReject
	if accept {
		verdict = VerdictAccept
	}
	return newEnvelope(senderID, KindCallResponse, TextContent(verdict))
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Accepted returns true if this is a CALL_RESPONSE carrying an ACCEPT verdict.
func (e *Envelope) Accepted() bool {
	text, ok := e.Content.Text()
	return e.Kind == KindCallResponse && ok && text == VerdictAccept
}

// Validate checks that the envelope carries every field its kind
// requires. Malformed envelopes are rejected at the session boundary;
// they are never retried or repaired.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope missing id")
	}
	if e.SenderID == "" {
		return fmt.Errorf("envelope %s missing senderId", e.ID)
	}

	switch e.Kind {
	case KindText, KindSystem:
		if _, ok := e.Content.Text(); !ok {
			return fmt.Errorf("%s envelope %s has no text content", e.Kind, e.ID)
		}

	case KindImage, KindVideoFile:
		if _, ok := e.Content.Bytes(); !ok {
			return fmt.Errorf("%s envelope %s has no binary content", e.Kind, e.ID)
		}
		if e.FileName == "" {
			return fmt.Errorf("%s envelope %s missing fileName", e.Kind, e.ID)
		}

	case KindChunk:
		if _, ok := e.Content.Bytes(); !ok {
			return fmt.Errorf("CHUNK envelope %s has no binary content", e.ID)
		}
		if e.TransferID == "" {
			return fmt.Errorf("CHUNK envelope %s missing transferId", e.ID)
		}
		if e.TotalChunks < 1 {
			return fmt.Errorf("CHUNK envelope %s has invalid totalChunks %d", e.ID, e.TotalChunks)
		}
		if e.ChunkIndex < 0 || e.ChunkIndex >= e.TotalChunks {
			return fmt.Errorf("CHUNK envelope %s has chunkIndex %d outside [0,%d)",
				e.ID, e.ChunkIndex, e.TotalChunks)
		}
		if e.FileName == "" {
			return fmt.Errorf("CHUNK envelope %s missing fileName", e.ID)
		}

	case KindCallRequest:
		if !e.Content.IsEmpty() {
			return fmt.Errorf("CALL_REQUEST envelope %s must not carry content", e.ID)
		}

	case KindCallResponse:
		text, ok := e.Content.Text()
		if !ok || (text != VerdictAccept && text != VerdictReject) {
			return fmt.Errorf("CALL_RESPONSE envelope %s has invalid verdict", e.ID)
		}

	default:
		return fmt.Errorf("envelope %s has unknown kind %q", e.ID, e.Kind)
	}

	return nil
}
