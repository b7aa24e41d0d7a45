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

// Stats is the process-wide session/chat/media counter.
var Stats = &stats{}

type stats struct {
	Matches     atomic.Int64 // sessions created (offerer or answerer)
	Connected   atomic.Int64 // sessions that reached Connected
	Skips       atomic.Int64 // user-initiated next-user requests
	Disconnects atomic.Int64 // partner-disconnected or channel-closed teardowns
	ChatSent    atomic.Int64 // local chat messages relayed
	ChatRecv    atomic.Int64 // remote chat messages delivered
	MediaBytes  atomic.Int64 // RTP payload bytes read from remote tracks
}

func (s *stats) AddMatch()           { s.Matches.Add(1) }
func (s *stats) AddConnected()       { s.Connected.Add(1) }
func (s *stats) AddSkip()            { s.Skips.Add(1) }
func (s *stats) AddDisconnect()      { s.Disconnects.Add(1) }
func (s *stats) AddChatSent()        { s.ChatSent.Add(1) }
func (s *stats) AddChatRecv()        { s.ChatRecv.Add(1) }
func (s *stats) AddMediaBytes(n int) { s.MediaBytes.Add(int64(n)) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	matches, connected, skips, disconnects, chatSent, chatRecv, media int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		matches:     s.Matches.Load(),
		connected:   s.Connected.Load(),
		skips:       s.Skips.Load(),
		disconnects: s.Disconnects.Load(),
		chatSent:    s.ChatSent.Load(),
		chatRecv:    s.ChatRecv.Load(),
		media:       s.MediaBytes.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs session statistics every
// interval, skipping quiet intervals. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					rate := float64(cur.media-prev.media) / interval.Seconds()
					pterm.DefaultLogger.Info(formatStats(cur, rate))
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

// formatStats returns a one-line summary of the counters for the logger.
func formatStats(s snapshot, mediaRate float64) string {
	return fmt.Sprintf("Matches: %d (%d connected) | Skips: %d | Drops: %d | Chat: %d↑ %d↓ | Media: %s/s",
		s.matches,
		s.connected,
		s.skips,
		s.disconnects,
		s.chatSent,
		s.chatRecv,
		formatBytes(mediaRate),
	)
}
