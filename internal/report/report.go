// Package report reads persisted commit records and presents them:
// filtered listings, aggregate totals, and a per-line blame view. All
// access is read-only.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/receipt"
	"github.com/joss/promptrail/internal/session"
)

// Filter narrows a report to a slice of the record set. Zero values
// match everything.
type Filter struct {
	Since   time.Time
	Until   time.Time
	Author  string
	Path    string
	Session string
}

func (f Filter) matches(r receipt.Receipt) bool {
	if !f.Since.IsZero() && r.CapturedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.CapturedAt.After(f.Until) {
		return false
	}
	if f.Author != "" && !strings.Contains(strings.ToLower(r.Author), strings.ToLower(f.Author)) {
		return false
	}
	if f.Session != "" && r.SessionID != f.Session {
		return false
	}
	if f.Path != "" && !r.TouchesFile(func(p string) bool { return gitutil.PathsMatch(p, f.Path) }) {
		return false
	}
	return true
}

// AttributedReceipt pairs a receipt with the commit that carries it.
type AttributedReceipt struct {
	Commit string
	receipt.Receipt
}

// recordSource is the part of the notes store reporting reads from.
type recordSource interface {
	List() ([]receipt.CommitRecord, error)
}

// Receipts returns the receipts matching a filter, oldest capture
// first.
func Receipts(source recordSource, filter Filter) ([]AttributedReceipt, error) {
	records, err := source.List()
	if err != nil {
		return nil, err
	}

	var out []AttributedReceipt
	for _, rec := range records {
		for _, r := range rec.Receipts {
			if filter.matches(r) {
				out = append(out, AttributedReceipt{Commit: rec.Commit, Receipt: r})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Report aggregates the matching receipts.
type Report struct {
	Receipts      []AttributedReceipt
	Commits       int
	TotalCost     float64
	TotalTokens   int64
	AttributedLoc int
	OrphanedLoc   int
	Sessions      session.Stats
}

// Build assembles a report. now caps open sessions for the wall-clock
// figure.
func Build(source recordSource, filter Filter, now time.Time) (*Report, error) {
	matched, err := Receipts(source, filter)
	if err != nil {
		return nil, err
	}

	rep := &Report{Receipts: matched}
	commits := make(map[string]bool)
	plain := make([]receipt.Receipt, 0, len(matched))
	for _, ar := range matched {
		commits[ar.Commit] = true
		rep.TotalCost += ar.CostUSD
		rep.TotalTokens += ar.Usage.Total()
		for _, fc := range ar.FileChanges {
			if fc.Orphaned {
				rep.OrphanedLoc += fc.Lines()
			} else {
				rep.AttributedLoc += fc.Lines()
			}
		}
		plain = append(plain, ar.Receipt)
	}
	rep.Commits = len(commits)
	rep.Sessions = session.Calculate(plain, now)
	return rep, nil
}
