package notes

import (
	"errors"
	"fmt"
	"sort"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/receipt"
	"github.com/joss/promptrail/internal/staging"
)

// AttachResult reports what a single attach pass did.
type AttachResult struct {
	Commit   string
	Attached int
	Skipped  int
}

// Attach drains staged receipts that touch files changed by the given
// commit and persists them as that commit's record. Staged work on
// untouched files stays behind for a later commit. Receipts already on
// the commit are merged, later capture winning.
func Attach(repo *git.Repository, store *Store, stg *staging.Store, commit plumbing.Hash) (*AttachResult, error) {
	changed, err := gitutil.ChangedFiles(repo, commit)
	if err != nil {
		return nil, fmt.Errorf("changed files for %s: %w", gitutil.ShortSHA(commit.String()), err)
	}

	drained, err := stg.Drain(func(r receipt.Receipt) bool {
		for _, fc := range r.FileChanges {
			if matchesAny(fc.Path, changed) {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	result := &AttachResult{Commit: commit.String(), Skipped: stg.Count()}
	if len(drained) == 0 {
		return result, nil
	}

	receipts := make([]receipt.Receipt, 0, len(drained))
	for _, r := range drained {
		// Keep only the file changes this commit actually carries;
		// resolve their blob identity from the commit tree so later
		// remapping can diff against the exact committed content.
		kept := r.FileChanges[:0:0]
		for _, fc := range r.FileChanges {
			if !matchesAny(fc.Path, changed) {
				continue
			}
			if _, blobHash, err := gitutil.BlobContent(repo, commit, fc.Path); err == nil {
				fc.BlobHash = blobHash.String()
			}
			kept = append(kept, fc)
		}
		r.FileChanges = kept
		receipts = append(receipts, r)
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].CapturedAt.Before(receipts[j].CapturedAt)
	})

	rec := &receipt.CommitRecord{Commit: commit.String(), Receipts: receipts}
	existing, err := store.Read(rec.Commit)
	switch {
	case err == nil:
		existing.Merge(rec)
		rec = existing
	case !errors.Is(err, ErrNoRecord):
		store.log.Warn().Err(err).Str("commit", gitutil.ShortSHA(rec.Commit)).
			Msg("existing record unreadable, replacing it")
	}
	if err := store.Write(rec); err != nil {
		return nil, err
	}

	if err := stg.MarkCommitted(receipts); err != nil {
		return nil, err
	}

	result.Attached = len(receipts)
	return result, nil
}

func matchesAny(path string, changed []string) bool {
	for _, c := range changed {
		if gitutil.PathsMatch(path, c) {
			return true
		}
	}
	return false
}
