// Package session models capture sessions and computes deduplicated
// wall-clock durations across overlapping intervals.
package session

import (
	"sort"
	"time"
)

// Session is one capture session. Sub-agent sessions reference their
// parent by id; the relation is weak, a child may outlive its parent.
type Session struct {
	ID       string     `json:"id"`
	ParentID string     `json:"parent_id,omitempty"`
	Start    time.Time  `json:"start"`
	End      *time.Time `json:"end,omitempty"`
}

// Open reports whether no termination event has been observed.
func (s Session) Open() bool {
	return s.End == nil
}

// Interval is a closed time span used for wall-clock merging.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Tree indexes sessions by id and parent for lookup.
type Tree struct {
	byID     map[string]*Session
	byParent map[string][]*Session
	sessions []*Session
}

// NewTree builds a lookup index over sessions.
func NewTree(sessions []Session) *Tree {
	t := &Tree{
		byID:     make(map[string]*Session, len(sessions)),
		byParent: make(map[string][]*Session),
	}
	for i := range sessions {
		s := &sessions[i]
		t.sessions = append(t.sessions, s)
		t.byID[s.ID] = s
		if s.ParentID != "" {
			t.byParent[s.ParentID] = append(t.byParent[s.ParentID], s)
		}
	}
	return t
}

// Get returns the session with the given id, or nil.
func (t *Tree) Get(id string) *Session { return t.byID[id] }

// Children returns the direct sub-sessions of id.
func (t *Tree) Children(id string) []*Session { return t.byParent[id] }

// Roots returns sessions without a known parent.
func (t *Tree) Roots() []*Session {
	var roots []*Session
	for _, s := range t.sessions {
		if s.ParentID == "" || t.byID[s.ParentID] == nil {
			roots = append(roots, s)
		}
	}
	return roots
}

// MergedDuration is the result of a wall-clock merge.
type MergedDuration struct {
	Total time.Duration
	// Incomplete is set when at least one interval had no observed end
	// and was clipped to the last activity time.
	Incomplete bool
}

// Merge computes total wall-clock time counting overlaps once.
//
// Intervals are sorted by start and swept left to right; an interval
// starting past the current merged end closes it and opens a new one,
// otherwise it extends the merged end. Open-ended intervals (zero End)
// are clipped to lastActivity and flagged rather than silently dropped.
// O(n log n), correct for nested and disjoint intervals alike.
func Merge(intervals []Interval, lastActivity time.Time) MergedDuration {
	var result MergedDuration
	if len(intervals) == 0 {
		return result
	}

	spans := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Start.IsZero() {
			continue
		}
		if iv.End.IsZero() {
			result.Incomplete = true
			iv.End = lastActivity
		}
		if iv.End.Before(iv.Start) {
			continue
		}
		spans = append(spans, iv)
	}
	if len(spans) == 0 {
		return result
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })

	current := spans[0]
	for _, iv := range spans[1:] {
		if iv.Start.After(current.End) {
			result.Total += current.End.Sub(current.Start)
			current = iv
			continue
		}
		if iv.End.After(current.End) {
			current.End = iv.End
		}
	}
	result.Total += current.End.Sub(current.Start)
	return result
}

// FromSessions converts sessions to intervals for merging.
func FromSessions(sessions []Session) []Interval {
	intervals := make([]Interval, 0, len(sessions))
	for _, s := range sessions {
		iv := Interval{Start: s.Start}
		if s.End != nil {
			iv.End = *s.End
		}
		intervals = append(intervals, iv)
	}
	return intervals
}
