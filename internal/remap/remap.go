// Package remap keeps receipt line ranges valid across history
// rewrites. A range is only meaningful against one specific blob, so a
// rewrite is handled by recomputing the range between the recorded blob
// and the blob the rewritten commit carries, never by patching offsets
// in place.
package remap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog"

	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/logging"
	"github.com/joss/promptrail/internal/notes"
	"github.com/joss/promptrail/internal/receipt"
)

// RewritePair maps an old commit identity to its rewritten successor.
// A zero New means the commit was dropped (squashed away).
type RewritePair struct {
	Old plumbing.Hash
	New plumbing.Hash
}

// Notification is one rewrite event: the old-to-new commit mapping plus
// any file renames detected between the versions.
type Notification struct {
	Pairs   []RewritePair
	Renames map[string]string // old path -> new path
}

// ParseNotification reads the "old-sha new-sha" lines a post-rewrite
// hook receives on stdin. Malformed lines are skipped, not fatal: a
// broken notification must never block the rewrite that triggered it.
func ParseNotification(r io.Reader) (*Notification, error) {
	n := &Notification{Renames: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		old := plumbing.NewHash(fields[0])
		nw := plumbing.NewHash(fields[1])
		if old.IsZero() {
			continue
		}
		n.Pairs = append(n.Pairs, RewritePair{Old: old, New: nw})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rewrite notification: %w", err)
	}
	return n, nil
}

// Result summarizes one remap pass.
type Result struct {
	Remapped int
	Clipped  int
	Orphaned int
	Skipped  int
}

// Remapper rewrites commit records after a history rewrite.
type Remapper struct {
	repo    *git.Repository
	store   *notes.Store
	workers int
	log     zerolog.Logger
}

// New builds a Remapper over the repository's record store.
func New(repo *git.Repository, store *notes.Store) *Remapper {
	return &Remapper{
		repo:    repo,
		store:   store,
		workers: runtime.NumCPU(),
		log:     logging.New("remap"),
	}
}

// Apply processes a rewrite notification. Each old commit that carries
// a record is remapped onto its successor and the record moves to the
// new commit identity. Dropped commits chain onto the nearest surviving
// successor. Applying the same notification twice is a no-op the second
// time: the old identities no longer carry records.
func (rm *Remapper) Apply(n *Notification) (*Result, error) {
	result := &Result{}

	for i, pair := range n.Pairs {
		oldID := pair.Old.String()
		rec, err := rm.store.Read(oldID)
		if errors.Is(err, notes.ErrNoRecord) {
			continue
		}
		if err != nil {
			return nil, err
		}

		target := pair.New
		dropped := target.IsZero()
		if dropped {
			target = rm.successorOf(n, i)
		}
		if target.IsZero() {
			rm.log.Warn().Str("commit", gitutil.ShortSHA(oldID)).Msg("no successor for dropped commit, record kept in place")
			result.Skipped++
			continue
		}
		if target == pair.Old {
			result.Skipped++
			continue
		}

		rm.remapRecord(rec, n, target, dropped, result)

		moved := &receipt.CommitRecord{Commit: target.String(), Receipts: rec.Receipts}
		existing, err := rm.store.Read(moved.Commit)
		switch {
		case err == nil:
			existing.Merge(moved)
			moved = existing
		case !errors.Is(err, notes.ErrNoRecord):
			rm.log.Warn().Err(err).Str("commit", gitutil.ShortSHA(moved.Commit)).
				Msg("record at target unreadable, replacing it")
		}
		if err := rm.store.Move(oldID, moved); err != nil {
			return nil, err
		}
		result.Remapped++
	}
	return result, nil
}

// successorOf finds the custody target for a dropped commit: the New of
// the nearest following pair that still has one, HEAD as a last resort.
func (rm *Remapper) successorOf(n *Notification, idx int) plumbing.Hash {
	for i := idx + 1; i < len(n.Pairs); i++ {
		if !n.Pairs[i].New.IsZero() {
			return n.Pairs[i].New
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if !n.Pairs[i].New.IsZero() {
			return n.Pairs[i].New
		}
	}
	if head, err := rm.repo.Head(); err == nil {
		return head.Hash()
	}
	return plumbing.ZeroHash
}

// remapRecord rewrites every receipt's file changes against the target
// commit. Receipts are independent of each other, so the per-receipt
// diff work runs on a bounded worker pool.
func (rm *Remapper) remapRecord(rec *receipt.CommitRecord, n *Notification, target plumbing.Hash, dropped bool, result *Result) {
	type outcome struct{ clipped, orphaned int }
	outcomes := make([]outcome, len(rec.Receipts))

	sem := make(chan struct{}, rm.workers)
	var wg sync.WaitGroup
	for i := range rec.Receipts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			c, o := rm.remapReceipt(&rec.Receipts[i], n, target, dropped)
			outcomes[i] = outcome{clipped: c, orphaned: o}
		}(i)
	}
	wg.Wait()

	for _, o := range outcomes {
		result.Clipped += o.clipped
		result.Orphaned += o.orphaned
	}
}

func (rm *Remapper) remapReceipt(r *receipt.Receipt, n *Notification, target plumbing.Hash, dropped bool) (clipped, orphaned int) {
	allOrphaned := len(r.FileChanges) > 0
	for i := range r.FileChanges {
		fc := &r.FileChanges[i]
		if fc.Orphaned {
			continue
		}
		rm.remapChange(fc, n, target)
		if fc.Orphaned {
			orphaned++
		} else {
			allOrphaned = false
			if fc.Clipped > 0 {
				clipped++
			}
		}
	}

	if allOrphaned {
		r.Orphaned = true
		if dropped {
			r.OrphanReason = "commit dropped in rewrite, content unresolvable in successor"
		} else if r.OrphanReason == "" {
			r.OrphanReason = "no attributed line survived the rewrite"
		}
	}
	return clipped, orphaned
}

func (rm *Remapper) remapChange(fc *receipt.FileChange, n *Notification, target plumbing.Hash) {
	oldText, ok := rm.oldContent(fc)
	if !ok {
		rm.orphan(fc)
		return
	}

	path := fc.Path
	if renamed, ok := n.Renames[path]; ok {
		path = renamed
	}
	newText, newBlob, err := gitutil.BlobContent(rm.repo, target, path)
	if err != nil {
		path, newText, newBlob = rm.detectRename(fc, target, oldText)
		if path == "" {
			rm.orphan(fc)
			return
		}
	}

	newStart, newEnd, survived := NewLineMap(oldText, newText).MapRange(fc.StartLine, fc.EndLine)
	if survived == 0 {
		rm.orphan(fc)
		return
	}

	keptRun := newEnd - newStart + 1
	if keptRun < fc.Lines() {
		fc.OldStart, fc.OldEnd = fc.StartLine, fc.EndLine
		fc.Clipped = fc.Lines() - keptRun
	} else {
		fc.OldStart, fc.OldEnd, fc.Clipped = 0, 0, 0
	}
	fc.Path = path
	fc.StartLine, fc.EndLine = newStart, newEnd
	fc.BlobHash = newBlob.String()
}

// oldContent resolves the blob a range is expressed against. The blob
// hash recorded at attach time is authoritative; a rewrite never
// garbage-collects it while the old commit is still reachable from the
// reflog, which is the window this runs in.
func (rm *Remapper) oldContent(fc *receipt.FileChange) (string, bool) {
	if fc.BlobHash == "" {
		return "", false
	}
	blob, err := rm.repo.BlobObject(plumbing.NewHash(fc.BlobHash))
	if err != nil {
		return "", false
	}
	r, err := blob.Reader()
	if err != nil {
		return "", false
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// detectRename looks for the old content elsewhere in the target tree:
// an exact blob match is treated as a rename, mirroring the cheap 100%
// similarity case of git's own detection.
func (rm *Remapper) detectRename(fc *receipt.FileChange, target plumbing.Hash, oldText string) (string, string, plumbing.Hash) {
	commit, err := rm.repo.CommitObject(target)
	if err != nil {
		return "", "", plumbing.ZeroHash
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", "", plumbing.ZeroHash
	}

	oldBlob := plumbing.NewHash(fc.BlobHash)
	iter := tree.Files()
	defer iter.Close()
	for {
		f, err := iter.Next()
		if err != nil {
			return "", "", plumbing.ZeroHash
		}
		if f.Hash == oldBlob {
			return f.Name, oldText, f.Hash
		}
	}
}

func (rm *Remapper) orphan(fc *receipt.FileChange) {
	fc.Orphaned = true
	fc.OldStart, fc.OldEnd = fc.StartLine, fc.EndLine
	fc.Clipped = fc.Lines()
}
