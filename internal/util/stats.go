package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic counter for the active session.
var Stats = &stats{}

type stats struct {
	Envelopes     atomic.Int64 // cumulative envelopes exchanged since process start
	TransfersDone atomic.Int64 // cumulative completed transfers since process start
	BytesSent     atomic.Int64 // cumulative bytes written to the session
	BytesRecv     atomic.Int64 // cumulative bytes read  from the session
}

func (s *stats) AddEnvelope()  { s.Envelopes.Add(1) }
func (s *stats) AddTransfer()  { s.TransfersDone.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs session traffic
// every 10 seconds while there is something to report. It stops when
// ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevEnv int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				env := Stats.Envelopes.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				msgs := env - prevEnv

				if msgs > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(outS, inS, msgs))
				}

				prevSent = sent
				prevRecv = recv
				prevEnv = env

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outS, inS float64, msgs int64) string {
	return fmt.Sprintf("Out: %s/s | In: %s/s | Msg: %3d",
		formatBytes(outS),
		formatBytes(inS),
		msgs,
	)
}
