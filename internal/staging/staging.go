// Package staging holds receipts that have been captured but not yet
// attached to a commit. The store is working-copy-local, excluded from
// version control, and safe against both crashes (atomic replace) and
// concurrent processes (exclusive lock around read-modify-write).
package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/joss/promptrail/internal/logging"
	"github.com/joss/promptrail/internal/receipt"
)

// DirName is the staging directory inside the working copy.
const DirName = ".promptrail"

const (
	stagingFile   = "staging.json"
	committedFile = "committed.json"
	lockFile      = "staging.lock"
)

type stagingData struct {
	Entries []receipt.Receipt `json:"entries"`
}

// Store is the working-copy staging store.
type Store struct {
	dir string
	log zerolog.Logger
}

// Open prepares the staging store for a working copy, creating the
// staging directory and a .gitignore entry on first use.
func Open(workdir string) (*Store, error) {
	dir := filepath.Join(workdir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	s := &Store{dir: dir, log: logging.New("staging")}
	s.ensureIgnored(workdir)
	return s, nil
}

// Upsert inserts or field-merges an entry, deduplicating by
// (session id, prompt number). Empty incoming fields never erase richer
// values already staged; file changes merge by path. This lets each
// lifecycle event refine only the fields it knows about.
func (s *Store) Upsert(entry receipt.Receipt) error {
	release, err := acquireLock(filepath.Join(s.dir, lockFile))
	if err != nil {
		return err
	}
	defer release()

	data, err := s.read()
	if err != nil {
		s.log.Warn().Err(err).Msg("staging unreadable, starting fresh")
		data = &stagingData{}
	}

	idx := -1
	for i := range data.Entries {
		if data.Entries[i].SessionID == entry.SessionID && data.Entries[i].PromptNumber == entry.PromptNumber {
			idx = i
			break
		}
	}
	if idx < 0 {
		if entry.ParentReceiptID == "" && len(data.Entries) > 0 {
			entry.ParentReceiptID = data.Entries[len(data.Entries)-1].ID
		}
		data.Entries = append(data.Entries, entry)
	} else {
		mergeEntry(&data.Entries[idx], entry)
	}

	return s.write(data)
}

// List returns a copy of all staged entries.
func (s *Store) List() ([]receipt.Receipt, error) {
	release, err := acquireLock(filepath.Join(s.dir, lockFile))
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.Entries, nil
}

// Count returns the number of staged entries. A broken store counts as
// empty; counting is used by hooks and must never fail them.
func (s *Store) Count() int {
	entries, err := s.List()
	if err != nil {
		return 0
	}
	return len(entries)
}

// Drain removes and returns entries accepted by pred, leaving the rest
// staged. Used at commit time with a predicate over the commit's
// changed-file set, so a partial commit only claims its own receipts.
func (s *Store) Drain(pred func(receipt.Receipt) bool) ([]receipt.Receipt, error) {
	release, err := acquireLock(filepath.Join(s.dir, lockFile))
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := s.read()
	if err != nil {
		return nil, err
	}

	var drained []receipt.Receipt
	var kept []receipt.Receipt
	for _, e := range data.Entries {
		if pred(e) {
			drained = append(drained, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(drained) == 0 {
		return nil, nil
	}

	data.Entries = kept
	if err := s.write(data); err != nil {
		return nil, err
	}
	return drained, nil
}

// Clear removes all staged entries.
func (s *Store) Clear() error {
	release, err := acquireLock(filepath.Join(s.dir, lockFile))
	if err != nil {
		return err
	}
	defer release()
	return s.write(&stagingData{})
}

// MarkCommitted records, per session, the highest prompt number that has
// been attached to a commit. Capture consults this watermark so replayed
// lifecycle events do not resurrect already-committed receipts.
func (s *Store) MarkCommitted(receipts []receipt.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	release, err := acquireLock(filepath.Join(s.dir, lockFile))
	if err != nil {
		return err
	}
	defer release()

	state := s.readCommitted()
	for _, r := range receipts {
		if r.PromptNumber > state[r.SessionID] {
			state[r.SessionID] = r.PromptNumber
		}
	}
	return atomicWriteJSON(filepath.Join(s.dir, committedFile), state)
}

// CommittedMaxPrompt returns the committed watermark for a session,
// zero if none.
func (s *Store) CommittedMaxPrompt(sessionID string) int {
	return s.readCommitted()[sessionID]
}

// Verify checks that the store is usable before a commit runs: the
// lock is acquirable (recovering a stale one if needed) and the staged
// data parses. Returns the staged entry count.
func (s *Store) Verify() (int, error) {
	release, err := acquireLock(filepath.Join(s.dir, lockFile))
	if err != nil {
		return 0, err
	}
	defer release()

	data, err := s.read()
	if err != nil {
		return 0, err
	}
	return len(data.Entries), nil
}

func (s *Store) read() (*stagingData, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, stagingFile))
	if os.IsNotExist(err) {
		return &stagingData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read staging: %w", err)
	}
	var data stagingData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse staging: %w", err)
	}
	return &data, nil
}

// write replaces the staging file atomically: temp file then rename, so
// an interrupted process leaves either the old or the new contents.
func (s *Store) write(data *stagingData) error {
	return atomicWriteJSON(filepath.Join(s.dir, stagingFile), data)
}

func (s *Store) readCommitted() map[string]int {
	state := make(map[string]int)
	raw, err := os.ReadFile(filepath.Join(s.dir, committedFile))
	if err != nil {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		s.log.Warn().Err(err).Msg("committed watermark unreadable, ignoring")
		return make(map[string]int)
	}
	return state
}

func atomicWriteJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// mergeEntry folds incoming into existing. Identity and chain fields are
// sticky; everything else prefers the incoming value unless it is empty.
func mergeEntry(existing *receipt.Receipt, incoming receipt.Receipt) {
	if incoming.PromptSummary != "" {
		existing.PromptSummary = incoming.PromptSummary
	}
	if incoming.ResponseSummary != "" {
		existing.ResponseSummary = incoming.ResponseSummary
	}
	if incoming.Provider != "" {
		existing.Provider = incoming.Provider
	}
	if incoming.Model != "" {
		existing.Model = incoming.Model
	}
	if incoming.Author != "" {
		existing.Author = incoming.Author
	}
	if incoming.PromptHash != "" && incoming.PromptHash != existing.PromptHash {
		// The id is derived from the prompt hash; a tool event can
		// create the entry before its prompt arrives, so re-derive.
		existing.PromptHash = incoming.PromptHash
		existing.ID = receipt.DeriveID(existing.SessionID, existing.PromptHash, existing.PromptNumber)
	}
	if incoming.CostUSD != 0 {
		existing.CostUSD = incoming.CostUSD
	}
	if incoming.Usage != (receipt.TokenUsage{}) {
		existing.Usage = incoming.Usage
	}
	if !incoming.CapturedAt.IsZero() {
		existing.CapturedAt = incoming.CapturedAt
	}
	if incoming.SessionStart != nil {
		existing.SessionStart = incoming.SessionStart
	}
	if incoming.SessionEnd != nil {
		existing.SessionEnd = incoming.SessionEnd
	}
	if existing.ParentSessionID == "" {
		existing.ParentSessionID = incoming.ParentSessionID
	}

	existing.ToolsUsed = mergeStrings(existing.ToolsUsed, incoming.ToolsUsed)
	existing.ServicesUsed = mergeStrings(existing.ServicesUsed, incoming.ServicesUsed)
	existing.AgentsSpawned = mergeStrings(existing.AgentsSpawned, incoming.AgentsSpawned)

	for _, fc := range incoming.FileChanges {
		pos := -1
		for i := range existing.FileChanges {
			if existing.FileChanges[i].Path == fc.Path {
				pos = i
				break
			}
		}
		if pos >= 0 {
			existing.FileChanges[pos] = fc
		} else {
			existing.FileChanges = append(existing.FileChanges, fc)
		}
	}
}

func mergeStrings(a, b []string) []string {
	for _, v := range b {
		found := false
		for _, w := range a {
			if v == w {
				found = true
				break
			}
		}
		if !found {
			a = append(a, v)
		}
	}
	return a
}

// ensureIgnored appends the staging directory to the working copy's
// .gitignore once.
func (s *Store) ensureIgnored(workdir string) {
	gitignore := filepath.Join(workdir, ".gitignore")
	content, err := os.ReadFile(gitignore)
	if err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			t := strings.TrimSpace(line)
			if t == DirName || t == DirName+"/" {
				return
			}
		}
	}
	f, err := os.OpenFile(gitignore, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warn().Err(err).Msg("cannot update .gitignore")
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\n# promptrail staging (auto-generated)\n%s/\n", DirName)
}
