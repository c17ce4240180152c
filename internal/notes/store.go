// Package notes persists commit records in a dedicated notes namespace
// attached to the commit graph. The tracked file tree is never touched:
// records live under their own ref as blobs keyed by commit identity.
package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/logging"
	"github.com/joss/promptrail/internal/receipt"
)

// DefaultRef is the notes namespace for commit records.
const DefaultRef = "refs/notes/promptrail"

// AuditRef holds superseded receipt versions, appended on every
// conflicting merge so no version of a record is ever discarded.
const AuditRef = "refs/notes/promptrail-audit"

// ErrNoRecord is returned when a commit has no attached record.
var ErrNoRecord = errors.New("notes: no record for commit")

// Store reads and writes commit records in the notes namespace.
type Store struct {
	repo *git.Repository
	ref  plumbing.ReferenceName
	log  zerolog.Logger
}

// NewStore opens the record store on a repository. An empty ref selects
// DefaultRef.
func NewStore(repo *git.Repository, ref string) *Store {
	if ref == "" {
		ref = DefaultRef
	}
	return &Store{repo: repo, ref: plumbing.ReferenceName(ref), log: logging.New("notes")}
}

// Ref returns the notes ref this store operates on.
func (s *Store) Ref() string { return s.ref.String() }

// Tip returns the current notes tip, or false when the ref does not
// exist yet.
func (s *Store) Tip() (plumbing.Hash, bool) {
	ref, err := s.repo.Reference(s.ref, true)
	if err != nil {
		return plumbing.ZeroHash, false
	}
	return ref.Hash(), true
}

// Read returns the record attached to a commit, or ErrNoRecord.
func (s *Store) Read(commit string) (*receipt.CommitRecord, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	blobHash, ok := entries[commit]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRecord, gitutil.ShortSHA(commit))
	}
	payload, err := s.readPayload(blobHash)
	if err != nil {
		return nil, err
	}
	return &receipt.CommitRecord{Commit: commit, Receipts: payload.Receipts}, nil
}

// Write attaches a record to its commit, replacing any previous note
// for that commit in a single ref update.
func (s *Store) Write(rec *receipt.CommitRecord) error {
	return s.update(fmt.Sprintf("promptrail: update record for %s", gitutil.ShortSHA(rec.Commit)),
		plumbing.ZeroHash,
		func(entries map[string]plumbing.Hash) error {
			blobHash, err := s.writePayload(receipt.NewNotePayload(rec.Receipts))
			if err != nil {
				return err
			}
			entries[rec.Commit] = blobHash
			return nil
		})
}

// Move reattaches the record from oldCommit to rec's commit and removes
// the old note, atomically. Used by the remapper so a rewritten commit
// supersedes its predecessor without a window where neither note exists.
func (s *Store) Move(oldCommit string, rec *receipt.CommitRecord) error {
	return s.update(fmt.Sprintf("promptrail: remap %s -> %s",
		gitutil.ShortSHA(oldCommit), gitutil.ShortSHA(rec.Commit)),
		plumbing.ZeroHash,
		func(entries map[string]plumbing.Hash) error {
			blobHash, err := s.writePayload(receipt.NewNotePayload(rec.Receipts))
			if err != nil {
				return err
			}
			delete(entries, oldCommit)
			entries[rec.Commit] = blobHash
			return nil
		})
}

// List returns every commit record in the namespace, sorted by commit id.
func (s *Store) List() ([]receipt.CommitRecord, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	records := make([]receipt.CommitRecord, 0, len(entries))
	for commit, blobHash := range entries {
		payload, err := s.readPayload(blobHash)
		if err != nil {
			s.log.Warn().Err(err).Str("commit", gitutil.ShortSHA(commit)).Msg("skipping unreadable note")
			continue
		}
		records = append(records, receipt.CommitRecord{Commit: commit, Receipts: payload.Receipts})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Commit < records[j].Commit })
	return records, nil
}

// Commits returns the commit ids that currently carry a record.
func (s *Store) Commits() ([]string, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	commits := make([]string, 0, len(entries))
	for c := range entries {
		commits = append(commits, c)
	}
	sort.Strings(commits)
	return commits, nil
}

// ReplaceAll rewrites the whole namespace in one commit. The update is
// all-or-nothing: any failure leaves the ref where it was.
func (s *Store) ReplaceAll(records []receipt.CommitRecord, message string) error {
	return s.update(message, plumbing.ZeroHash, s.replaceFn(records))
}

// MergeAll rewrites the namespace like ReplaceAll but also records
// remoteTip as a parent of the new tip. The result then descends from
// the fetched remote history, so a plain refspec push fast-forwards.
func (s *Store) MergeAll(records []receipt.CommitRecord, message string, remoteTip plumbing.Hash) error {
	return s.update(message, remoteTip, s.replaceFn(records))
}

func (s *Store) replaceFn(records []receipt.CommitRecord) func(entries map[string]plumbing.Hash) error {
	return func(entries map[string]plumbing.Hash) error {
		for k := range entries {
			delete(entries, k)
		}
		for i := range records {
			blobHash, err := s.writePayload(receipt.NewNotePayload(records[i].Receipts))
			if err != nil {
				return err
			}
			entries[records[i].Commit] = blobHash
		}
		return nil
	}
}

// entries maps commit id to note blob hash, flattening any fan-out
// subtrees real git may have produced.
func (s *Store) entries() (map[string]plumbing.Hash, error) {
	entries := make(map[string]plumbing.Hash)

	ref, err := s.repo.Reference(s.ref, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.ref, err)
	}

	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("notes tip %s: %w", gitutil.ShortSHA(ref.Hash().String()), err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("notes tree: %w", err)
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		name := strings.ReplaceAll(f.Name, "/", "")
		if len(name) == 40 {
			entries[name] = f.Hash
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk notes tree: %w", err)
	}
	return entries, nil
}

// update applies fn to the current entry set and commits the result as
// a new notes tip, parented on the old tip and on mergeParent when one
// is given. fn failing aborts with the ref untouched.
func (s *Store) update(message string, mergeParent plumbing.Hash, fn func(entries map[string]plumbing.Hash) error) error {
	entries, err := s.entries()
	if err != nil {
		return err
	}
	if err := fn(entries); err != nil {
		return err
	}

	treeHash, err := s.writeTree(entries)
	if err != nil {
		return err
	}

	var parents []plumbing.Hash
	if ref, err := s.repo.Reference(s.ref, true); err == nil {
		parents = append(parents, ref.Hash())
	}
	if !mergeParent.IsZero() && (len(parents) == 0 || parents[0] != mergeParent) {
		parents = append(parents, mergeParent)
	}

	sig := object.Signature{Name: "promptrail", Email: "promptrail@local", When: time.Now()}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return fmt.Errorf("encode notes commit: %w", err)
	}
	commitHash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return fmt.Errorf("store notes commit: %w", err)
	}

	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(s.ref, commitHash)); err != nil {
		return fmt.Errorf("update %s: %w", s.ref, err)
	}
	return nil
}

func (s *Store) writeTree(entries map[string]plumbing.Hash) (plumbing.Hash, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	tree := &object.Tree{}
	for _, name := range names {
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Regular,
			Hash: entries[name],
		})
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode notes tree: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store notes tree: %w", err)
	}
	return hash, nil
}

func (s *Store) writePayload(payload receipt.NotePayload) (plumbing.Hash, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal payload: %w", err)
	}
	data = append(data, '\n')

	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("blob writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return hash, nil
}

func (s *Store) readPayload(blobHash plumbing.Hash) (*receipt.NotePayload, error) {
	blob, err := s.repo.BlobObject(blobHash)
	if err != nil {
		return nil, fmt.Errorf("note blob %s: %w", gitutil.ShortSHA(blobHash.String()), err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("open note blob: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read note blob: %w", err)
	}
	var payload receipt.NotePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse note payload: %w", err)
	}
	return &payload, nil
}
