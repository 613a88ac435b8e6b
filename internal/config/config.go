// Package config holds the endpoint configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config stores the tunables for one endpoint. Every field has a
// working default; a TOML file overrides them selectively.
type Config struct {
	// SignalURL is the rendezvous server the endpoint registers with.
	SignalURL string `toml:"signal_url"`

	// IdentityLength is the number of characters in the generated peer identity.
	IdentityLength int `toml:"identity_length"`

	// ChunkSize is the fixed transfer chunk size in bytes. It must be
	// identical on both peers — there is no negotiation.
	ChunkSize int `toml:"chunk_size"`

	// ProgressEvery is the chunk cadence for progress reports and
	// pacing yields on the send path.
	ProgressEvery int `toml:"progress_every"`

	// ConnectTimeoutMS bounds an outbound connect attempt.
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// JournalCapacity bounds the in-memory event journal.
	JournalCapacity int `toml:"journal_capacity"`

	// StunServers feed the ICE configuration of the underlying transport.
	StunServers []string `toml:"stun_servers"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		SignalURL:        "ws://127.0.0.1:9190/ws",
		IdentityLength:   6,
		ChunkSize:        16 * 1024,
		ProgressEvery:    8,
		ConnectTimeoutMS: 30_000,
		JournalCapacity:  256,
		StunServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
	}
}

// Load reads a TOML file over the defaults. A missing path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the protocol cannot operate with.
func (c Config) Validate() error {
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ProgressEvery < 1 {
		return fmt.Errorf("progress_every must be positive, got %d", c.ProgressEvery)
	}
	if c.IdentityLength < 1 {
		return fmt.Errorf("identity_length must be positive, got %d", c.IdentityLength)
	}
	if c.ConnectTimeoutMS < 1 {
		return fmt.Errorf("connect_timeout_ms must be positive, got %d", c.ConnectTimeoutMS)
	}
	if c.JournalCapacity < 1 {
		return fmt.Errorf("journal_capacity must be positive, got %d", c.JournalCapacity)
	}
	return nil
}

// ConnectTimeout returns the connect timeout as a duration.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}
