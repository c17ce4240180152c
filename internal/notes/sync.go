package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/rs/zerolog"

	"github.com/joss/promptrail/internal/logging"
	"github.com/joss/promptrail/internal/receipt"
)

// trackingSuffix names the local ref remote records are fetched into
// before merging. It is never pushed.
const trackingSuffix = "-remote"

// SyncResult reports a pull or push pass.
type SyncResult struct {
	Fetched    int
	Merged     int
	Superseded int
	Pushed     bool
	UpToDate   bool
}

// Syncer exchanges commit records with a remote, merging before every
// write so concurrent clones converge on the union of their receipts.
type Syncer struct {
	repo   *git.Repository
	store  *Store
	remote string
	log    zerolog.Logger
}

// NewSyncer builds a Syncer for the store's ref against the named
// remote. An empty remote selects "origin".
func NewSyncer(repo *git.Repository, store *Store, remote string) *Syncer {
	if remote == "" {
		remote = "origin"
	}
	return &Syncer{repo: repo, store: store, remote: remote, log: logging.New("sync")}
}

// Pull fetches the remote namespace into a tracking ref and merges it
// into the local one. The merge is all-or-nothing: the local ref moves
// once, after every record has merged cleanly. Superseded receipt
// versions are appended to the audit namespace before being replaced.
func (s *Syncer) Pull(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{}

	ref := s.store.Ref()
	tracking := ref + trackingSuffix
	spec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", ref, tracking))

	err := s.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: s.remote,
		RefSpecs:   []gitconfig.RefSpec{spec},
	})
	switch {
	case err == nil:
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		result.UpToDate = true
	case isMissingRemoteRef(err):
		// Remote has no records yet. Nothing to merge.
		s.log.Debug().Str("remote", s.remote).Msg("remote namespace empty")
		return result, nil
	default:
		return nil, fmt.Errorf("fetch %s from %s: %w", ref, s.remote, err)
	}

	remoteStore := NewStore(s.repo, tracking)
	remoteRecords, err := remoteStore.List()
	if err != nil {
		return nil, fmt.Errorf("read fetched records: %w", err)
	}
	result.Fetched = len(remoteRecords)
	if len(remoteRecords) == 0 {
		return result, nil
	}
	remoteTip, _ := remoteStore.Tip()

	localRecords, err := s.store.List()
	if err != nil {
		return nil, err
	}
	local := make(map[string]*receipt.CommitRecord, len(localRecords))
	for i := range localRecords {
		local[localRecords[i].Commit] = &localRecords[i]
	}

	var superseded []receipt.Receipt
	supersededBy := make(map[string][]receipt.Receipt)
	changed := false
	for i := range remoteRecords {
		remote := &remoteRecords[i]
		existing, ok := local[remote.Commit]
		if !ok {
			local[remote.Commit] = remote
			changed = true
			result.Merged++
			continue
		}
		before := len(existing.Receipts)
		dropped := existing.Merge(remote)
		if len(dropped) > 0 || len(existing.Receipts) != before {
			changed = true
			result.Merged++
		}
		if len(dropped) > 0 {
			superseded = append(superseded, dropped...)
			supersededBy[remote.Commit] = append(supersededBy[remote.Commit], dropped...)
		}
	}
	result.Superseded = len(superseded)

	if !changed && s.descendsFromRemote(remoteTip) {
		result.UpToDate = true
		return result, nil
	}

	if len(superseded) > 0 {
		if err := s.appendAudit(supersededBy); err != nil {
			return nil, err
		}
	}

	merged := make([]receipt.CommitRecord, 0, len(local))
	for _, rec := range local {
		merged = append(merged, *rec)
	}
	// The new tip carries the fetched remote tip as a second parent, so
	// the following push is a fast-forward for the remote.
	if err := s.store.MergeAll(merged, fmt.Sprintf("promptrail: merge %d records from %s", result.Merged, s.remote), remoteTip); err != nil {
		return nil, err
	}
	return result, nil
}

// descendsFromRemote reports whether the local tip already contains the
// fetched remote history. When it does not, even an identical record
// set needs a merge commit before a plain push can fast-forward.
func (s *Syncer) descendsFromRemote(remoteTip plumbing.Hash) bool {
	if remoteTip.IsZero() {
		return true
	}
	localTip, ok := s.store.Tip()
	if !ok {
		return false
	}
	if localTip == remoteTip {
		return true
	}
	remote, err := s.repo.CommitObject(remoteTip)
	if err != nil {
		return false
	}
	local, err := s.repo.CommitObject(localTip)
	if err != nil {
		return false
	}
	ancestor, err := remote.IsAncestor(local)
	return err == nil && ancestor
}

// Push merges the remote state first, then pushes the combined
// namespace so a concurrent writer's receipts are never clobbered.
func (s *Syncer) Push(ctx context.Context) (*SyncResult, error) {
	result, err := s.Pull(ctx)
	if err != nil {
		return nil, err
	}

	ref := s.store.Ref()
	spec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
	err = s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: s.remote,
		RefSpecs:   []gitconfig.RefSpec{spec},
	})
	switch {
	case err == nil:
		result.Pushed = true
		result.UpToDate = false
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		result.UpToDate = true
	default:
		return nil, fmt.Errorf("push %s to %s: %w", ref, s.remote, err)
	}
	return result, nil
}

// appendAudit records superseded receipt versions under AuditRef so a
// lost merge race is still reconstructable.
func (s *Syncer) appendAudit(byCommit map[string][]receipt.Receipt) error {
	audit := NewStore(s.repo, AuditRef)
	for commit, dropped := range byCommit {
		rec := &receipt.CommitRecord{Commit: commit}
		if existing, err := audit.Read(commit); err == nil {
			rec = existing
		}
		rec.Receipts = append(rec.Receipts, dropped...)
		if err := audit.Write(rec); err != nil {
			return fmt.Errorf("append audit for %s: %w", commit, err)
		}
	}
	return nil
}

func isMissingRemoteRef(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return true
	}
	return strings.Contains(err.Error(), "couldn't find remote ref")
}
