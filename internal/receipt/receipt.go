// Package receipt defines the provenance data model: receipts, file
// changes, and the per-commit records that carry them.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// FormatVersion is written into every persisted note payload so future
// readers can handle old records.
const FormatVersion = "1"

// TokenUsage is the per-receipt token breakdown reported by the provider.
type TokenUsage struct {
	Input      int64 `json:"input,omitempty"`
	Output     int64 `json:"output,omitempty"`
	CacheRead  int64 `json:"cache_read,omitempty"`
	CacheWrite int64 `json:"cache_write,omitempty"`
}

// Total returns the sum of all token counts.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheRead += other.CacheRead
	u.CacheWrite += other.CacheWrite
}

// FileChange records one attributed line range in a single file.
//
// StartLine/EndLine are 1-based and inclusive, and are only meaningful
// against the blob identified by BlobHash. Any other version of the file
// requires remapping first.
type FileChange struct {
	Path      string `json:"path"`
	BlobHash  string `json:"blob_hash,omitempty"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`

	// Orphaned is set when no line of the range survives in the current
	// blob. The range fields then hold the last valid coordinates.
	Orphaned bool `json:"orphaned,omitempty"`

	// OldStart/OldEnd preserve the pre-remap range whenever a remap
	// clipped or orphaned this change, for audit.
	OldStart int `json:"old_start,omitempty"`
	OldEnd   int `json:"old_end,omitempty"`

	// Clipped counts lines of the original range that did not survive
	// the last remap, so totals can report "5/11 lines".
	Clipped int `json:"clipped,omitempty"`
}

// Lines returns the number of lines covered by the range.
func (fc FileChange) Lines() int {
	if fc.EndLine < fc.StartLine {
		return 0
	}
	return fc.EndLine - fc.StartLine + 1
}

// Contains reports whether the 1-based line falls inside the range.
func (fc FileChange) Contains(line int) bool {
	return !fc.Orphaned && line >= fc.StartLine && line <= fc.EndLine
}

// Receipt is one provenance record, attributable to a single prompt.
type Receipt struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Author   string `json:"author"`

	SessionID       string `json:"session_id"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
	ParentReceiptID string `json:"parent_receipt_id,omitempty"`
	PromptNumber    int    `json:"prompt_number,omitempty"`

	PromptHash      string `json:"prompt_hash"`
	PromptSummary   string `json:"prompt_summary"`
	ResponseSummary string `json:"response_summary,omitempty"`

	CapturedAt   time.Time  `json:"captured_at"`
	SessionStart *time.Time `json:"session_start,omitempty"`
	SessionEnd   *time.Time `json:"session_end,omitempty"`

	CostUSD float64    `json:"cost_usd,omitempty"`
	Usage   TokenUsage `json:"usage,omitempty"`

	ToolsUsed     []string `json:"tools_used,omitempty"`
	ServicesUsed  []string `json:"services_used,omitempty"`
	AgentsSpawned []string `json:"agents_spawned,omitempty"`

	FileChanges []FileChange `json:"file_changes,omitempty"`

	// Orphaned marks a receipt whose attributed content no longer
	// provably exists anywhere in history. Orphaned receipts are kept
	// for audit, never deleted.
	Orphaned     bool   `json:"orphaned,omitempty"`
	OrphanReason string `json:"orphan_reason,omitempty"`
}

// DeriveID produces the content-derived receipt id. Capturing the same
// prompt twice yields the same id, which is what makes re-runs of the
// note writer idempotent.
func DeriveID(sessionID, promptHash string, promptNumber int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", sessionID, promptHash, promptNumber)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// HashPrompt returns the canonical hash recorded for raw prompt text.
// The raw text itself is never persisted.
func HashPrompt(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// TouchesFile reports whether any file change matches, orphaned ones
// included so filters still find superseded work.
func (r *Receipt) TouchesFile(match func(path string) bool) bool {
	for _, fc := range r.FileChanges {
		if match(fc.Path) {
			return true
		}
	}
	return false
}

// ChangeFor returns the file change covering the given path and line,
// or nil.
func (r *Receipt) ChangeFor(path string, line int) *FileChange {
	for i := range r.FileChanges {
		fc := &r.FileChanges[i]
		if fc.Path == path && fc.Contains(line) {
			return fc
		}
	}
	return nil
}

// TotalLines returns the attributed line count across all surviving
// file changes.
func (r *Receipt) TotalLines() int {
	n := 0
	for _, fc := range r.FileChanges {
		if !fc.Orphaned {
			n += fc.Lines()
		}
	}
	return n
}

// CommitRecord is the persisted unit: every receipt attached to one
// commit identity. Receipts are ordered by capture time and unique by id.
type CommitRecord struct {
	Commit   string    `json:"commit"`
	Receipts []Receipt `json:"receipts"`
}

// Find returns the receipt with the given id, or nil.
func (cr *CommitRecord) Find(id string) *Receipt {
	for i := range cr.Receipts {
		if cr.Receipts[i].ID == id {
			return &cr.Receipts[i]
		}
	}
	return nil
}

// NotePayload is the JSON envelope written into the notes namespace.
type NotePayload struct {
	FormatVersion string    `json:"promptrail_version"`
	Receipts      []Receipt `json:"receipts"`
}

// NewNotePayload wraps receipts in a versioned envelope.
func NewNotePayload(receipts []Receipt) NotePayload {
	return NotePayload{FormatVersion: FormatVersion, Receipts: receipts}
}
