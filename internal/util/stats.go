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

// Stats is the process-wide message counter.
var Stats = &stats{}

type stats struct {
	RequestsSent    atomic.Int64 // outbound requests posted by local peers
	RepliesResolved atomic.Int64 // replies matched to a pending request
	RequestsHandled atomic.Int64 // inbound requests answered by a handler
	Dropped         atomic.Int64 // inbound messages discarded by the correlation engine
	BytesSent       atomic.Int64 // bytes written by transports
	BytesRecv       atomic.Int64 // bytes read by transports
}

func (s *stats) AddRequest()   { s.RequestsSent.Add(1) }
func (s *stats) AddResolved()  { s.RepliesResolved.Add(1) }
func (s *stats) AddHandled()   { s.RequestsHandled.Add(1) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests, Resolved, Handled, Dropped int64
	BytesSent, BytesRecv                 int64
}

// Snapshot reads all counters.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		Requests:  s.RequestsSent.Load(),
		Resolved:  s.RepliesResolved.Load(),
		Handled:   s.RequestsHandled.Load(),
		Dropped:   s.Dropped.Load(),
		BytesSent: s.BytesSent.Load(),
		BytesRecv: s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs message statistics
// every interval, but only when something changed. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(prev, cur, interval))
				}
				prev = cur

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

// formatStats renders the change between two snapshots.
func formatStats(prev, cur Snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("Req: %3d↑ Res: %3d↓ Handled: %3d Dropped: %3d | In: %s/s | Out: %s/s",
		cur.Requests-prev.Requests,
		cur.Resolved-prev.Resolved,
		cur.Handled-prev.Handled,
		cur.Dropped-prev.Dropped,
		formatBytes(float64(cur.BytesRecv-prev.BytesRecv)/secs),
		formatBytes(float64(cur.BytesSent-prev.BytesSent)/secs),
	)
}
