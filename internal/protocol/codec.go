package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an envelope for transmission over the session.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}
	return data, nil
}

// Decode deserializes a received envelope. It does not validate kind
// requirements — that happens at the session boundary, where rejection
// can be reported.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}
