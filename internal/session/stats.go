package session

import (
	"fmt"
	"time"

	"github.com/joss/promptrail/internal/receipt"
)

// Stats aggregates session timing across a set of receipts,
// deduplicated by session id.
type Stats struct {
	UniqueSessions int
	// TotalDuration is the raw per-session sum; parallel sub-agents
	// are double-counted here.
	TotalDuration time.Duration
	// WallClock merges overlapping session intervals, so concurrent
	// agents count once.
	WallClock     time.Duration
	AvgDuration   time.Duration
	EarliestStart *time.Time
	LatestEnd     *time.Time
	// Incomplete is set when an open session was clipped for summation.
	Incomplete bool
}

// Calculate builds stats from receipts. Multiple receipts from one
// session contribute a single interval spanning the widest observed
// start/end for that session. A session observed only through capture
// timestamps still counts, spanning its first to last capture.
func Calculate(receipts []receipt.Receipt, lastActivity time.Time) Stats {
	type bounds struct {
		start    time.Time
		end      *time.Time
		captured time.Time
		hasStart bool
	}
	perSession := make(map[string]*bounds)

	var stats Stats
	for i := range receipts {
		r := &receipts[i]
		b, ok := perSession[r.SessionID]
		if !ok {
			b = &bounds{start: r.CapturedAt, captured: r.CapturedAt}
			perSession[r.SessionID] = b
		}
		if r.SessionStart != nil {
			if !b.hasStart || r.SessionStart.Before(b.start) {
				b.start = *r.SessionStart
			}
			b.hasStart = true
		} else if !b.hasStart && r.CapturedAt.Before(b.start) {
			b.start = r.CapturedAt
		}
		if r.CapturedAt.After(b.captured) {
			b.captured = r.CapturedAt
		}
		if r.SessionEnd != nil && (b.end == nil || r.SessionEnd.After(*b.end)) {
			end := *r.SessionEnd
			b.end = &end
		}
	}

	intervals := make([]Interval, 0, len(perSession))
	for _, b := range perSession {
		iv := Interval{Start: b.start}
		switch {
		case b.end != nil:
			iv.End = *b.end
		case !b.hasStart:
			// No lifecycle events observed: close the interval at the
			// latest capture rather than clipping to last activity.
			iv.End = b.captured
		}
		if !iv.End.IsZero() {
			stats.TotalDuration += iv.End.Sub(iv.Start)
		}
		if stats.EarliestStart == nil || iv.Start.Before(*stats.EarliestStart) {
			t := iv.Start
			stats.EarliestStart = &t
		}
		if !iv.End.IsZero() && (stats.LatestEnd == nil || iv.End.After(*stats.LatestEnd)) {
			t := iv.End
			stats.LatestEnd = &t
		}
		intervals = append(intervals, iv)
	}

	stats.UniqueSessions = len(perSession)
	merged := Merge(intervals, lastActivity)
	stats.WallClock = merged.Total
	stats.Incomplete = merged.Incomplete
	if stats.UniqueSessions > 0 {
		stats.AvgDuration = stats.TotalDuration / time.Duration(stats.UniqueSessions)
	}
	return stats
}

// FormatDuration renders a duration as "Xh Ym" or "Xm Ys".
func FormatDuration(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs >= 3600 {
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
