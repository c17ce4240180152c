package remap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/notes"
	"github.com/joss/promptrail/internal/receipt"
)

func initRepo(t *testing.T) (*git.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return repo, dir
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	_, err = wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}

// stageRecord writes a record for commit with one receipt attributing
// lines [start,end] of path, blob hash resolved from the commit tree.
func stageRecord(t *testing.T, repo *git.Repository, store *notes.Store, commit plumbing.Hash, path string, start, end int) receipt.Receipt {
	t.Helper()
	_, blobHash, err := gitutil.BlobContent(repo, commit, path)
	require.NoError(t, err)

	promptHash := receipt.HashPrompt("test prompt")
	r := receipt.Receipt{
		ID:            receipt.DeriveID("s1", promptHash, 1),
		Provider:      "claude",
		SessionID:     "s1",
		PromptNumber:  1,
		PromptHash:    promptHash,
		PromptSummary: "edit " + path,
		CapturedAt:    time.Now().UTC().Truncate(time.Second),
		FileChanges: []receipt.FileChange{{
			Path:      path,
			BlobHash:  blobHash.String(),
			StartLine: start,
			EndLine:   end,
			Additions: end - start + 1,
		}},
	}
	require.NoError(t, store.Write(&receipt.CommitRecord{
		Commit:   commit.String(),
		Receipts: []receipt.Receipt{r},
	}))
	return r
}

func TestApplyShiftsRangeOnInsertion(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "a.go", numbered(1, 11), "initial")
	stageRecord(t, repo, store, c1, "a.go", 4, 8)

	// Amend-style rewrite: two lines inserted above line 4.
	c2 := commitFile(t, repo, dir, "a.go", numbered(1, 3)+"extra one\nextra two\n"+numbered(4, 11), "amended")

	rm := New(repo, store)
	res, err := rm.Apply(&Notification{Pairs: []RewritePair{{Old: c1, New: c2}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remapped)
	assert.Equal(t, 0, res.Orphaned)

	rec, err := store.Read(c2.String())
	require.NoError(t, err)
	fc := rec.Receipts[0].FileChanges[0]
	assert.Equal(t, 6, fc.StartLine)
	assert.Equal(t, 10, fc.EndLine)
	assert.Zero(t, fc.Clipped)
	assert.False(t, fc.Orphaned)

	// The old identity no longer carries a record.
	_, err = store.Read(c1.String())
	assert.ErrorIs(t, err, notes.ErrNoRecord)
}

func TestApplyOrphansDeletedRange(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "a.go", numbered(1, 11), "initial")
	stageRecord(t, repo, store, c1, "a.go", 4, 8)

	// Lines 4-8 deleted; 9-11 shift up by 5. The range must orphan,
	// not drift onto the shifted lines.
	c2 := commitFile(t, repo, dir, "a.go", numbered(1, 3)+numbered(9, 11), "deleted")

	res, err := New(repo, store).Apply(&Notification{Pairs: []RewritePair{{Old: c1, New: c2}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Orphaned)

	rec, err := store.Read(c2.String())
	require.NoError(t, err)
	fc := rec.Receipts[0].FileChanges[0]
	assert.True(t, fc.Orphaned)
	assert.Equal(t, 4, fc.OldStart)
	assert.Equal(t, 8, fc.OldEnd)
	assert.True(t, rec.Receipts[0].Orphaned)
}

func TestApplyClipsPartialSurvival(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "a.go", numbered(1, 11), "initial")
	stageRecord(t, repo, store, c1, "a.go", 4, 8)

	// Lines 6-8 rewritten; only 4-5 of the range survive.
	c2 := commitFile(t, repo, dir, "a.go", numbered(1, 5)+"x\ny\nz\n"+numbered(9, 11), "rewrote middle")

	res, err := New(repo, store).Apply(&Notification{Pairs: []RewritePair{{Old: c1, New: c2}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Clipped)

	rec, err := store.Read(c2.String())
	require.NoError(t, err)
	fc := rec.Receipts[0].FileChanges[0]
	assert.Equal(t, 4, fc.StartLine)
	assert.Equal(t, 5, fc.EndLine)
	assert.Equal(t, 3, fc.Clipped)
	assert.Equal(t, 4, fc.OldStart)
	assert.Equal(t, 8, fc.OldEnd)
}

func TestApplyFollowsRename(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "old.go", numbered(1, 11), "initial")
	stageRecord(t, repo, store, c1, "old.go", 4, 8)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.Rename(filepath.Join(dir, "old.go"), filepath.Join(dir, "new.go")))
	_, err = wt.Add("old.go")
	require.NoError(t, err)
	_, err = wt.Add("new.go")
	require.NoError(t, err)
	c2, err := wt.Commit("renamed", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	res, err := New(repo, store).Apply(&Notification{
		Pairs:   []RewritePair{{Old: c1, New: c2}},
		Renames: map[string]string{"old.go": "new.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Orphaned)

	rec, err := store.Read(c2.String())
	require.NoError(t, err)
	fc := rec.Receipts[0].FileChanges[0]
	assert.Equal(t, "new.go", fc.Path)
	assert.Equal(t, 4, fc.StartLine)
	assert.Equal(t, 8, fc.EndLine)
}

func TestApplyDetectsUnreportedRename(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "old.go", numbered(1, 11), "initial")
	stageRecord(t, repo, store, c1, "old.go", 4, 8)

	// Identical content under a different name, no rename hint.
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "old.go")))
	_, err = wt.Add("old.go")
	require.NoError(t, err)
	c2 := commitFile(t, repo, dir, "moved/renamed.go", numbered(1, 11), "moved")

	res, err := New(repo, store).Apply(&Notification{Pairs: []RewritePair{{Old: c1, New: c2}}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Orphaned)

	rec, err := store.Read(c2.String())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rec.Receipts[0].FileChanges[0].Path, "renamed.go"))
}

func TestApplyDroppedCommitChainsToSuccessor(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "a.go", numbered(1, 11), "first")
	stageRecord(t, repo, store, c1, "a.go", 4, 8)

	// Squash: c1 is dropped, its content lands in c2 with two leading
	// lines added.
	c2 := commitFile(t, repo, dir, "a.go", "hdr one\nhdr two\n"+numbered(1, 11), "squashed")

	n := &Notification{Pairs: []RewritePair{
		{Old: c1, New: plumbing.ZeroHash},
		{Old: c2, New: c2},
	}}
	res, err := New(repo, store).Apply(n)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remapped)

	rec, err := store.Read(c2.String())
	require.NoError(t, err)
	fc := rec.Receipts[0].FileChanges[0]
	assert.False(t, fc.Orphaned)
	assert.Equal(t, 6, fc.StartLine)
	assert.Equal(t, 10, fc.EndLine)
}

func TestApplyDroppedCommitUnresolvableOrphansReceipt(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "a.go", numbered(1, 11), "first")
	stageRecord(t, repo, store, c1, "a.go", 4, 8)

	// The squash result carries none of the attributed content.
	c2 := commitFile(t, repo, dir, "a.go", "totally\ndifferent\nfile\n", "squashed away")

	n := &Notification{Pairs: []RewritePair{
		{Old: c1, New: plumbing.ZeroHash},
		{Old: c2, New: c2},
	}}
	_, err := New(repo, store).Apply(n)
	require.NoError(t, err)

	rec, err := store.Read(c2.String())
	require.NoError(t, err)
	r := rec.Receipts[0]
	assert.True(t, r.Orphaned)
	assert.NotEmpty(t, r.OrphanReason)
	assert.True(t, r.FileChanges[0].Orphaned)
}

func TestApplyIdempotent(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "a.go", numbered(1, 11), "initial")
	stageRecord(t, repo, store, c1, "a.go", 4, 8)
	c2 := commitFile(t, repo, dir, "a.go", "x\ny\n"+numbered(1, 11), "amended")

	n := &Notification{Pairs: []RewritePair{{Old: c1, New: c2}}}
	rm := New(repo, store)

	_, err := rm.Apply(n)
	require.NoError(t, err)
	first, err := store.Read(c2.String())
	require.NoError(t, err)

	res, err := rm.Apply(n)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remapped)

	second, err := store.Read(c2.String())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// corruptNoteAt puts a blob that is not valid JSON at commit's note
// entry, building the namespace tip with raw plumbing so the store's
// payload encoding cannot get in the way.
func corruptNoteAt(t *testing.T, repo *git.Repository, commit plumbing.Hash) {
	t.Helper()
	blob := repo.Storer.NewEncodedObject()
	blob.SetType(plumbing.BlobObject)
	w, err := blob.Writer()
	require.NoError(t, err)
	_, err = w.Write([]byte("{not a payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	blobHash, err := repo.Storer.SetEncodedObject(blob)
	require.NoError(t, err)

	tree := &object.Tree{Entries: []object.TreeEntry{{
		Name: commit.String(), Mode: filemode.Regular, Hash: blobHash,
	}}}
	treeObj := repo.Storer.NewEncodedObject()
	require.NoError(t, tree.Encode(treeObj))
	treeHash, err := repo.Storer.SetEncodedObject(treeObj)
	require.NoError(t, err)

	sig := object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}
	tip := &object.Commit{Author: sig, Committer: sig, Message: "corrupt note", TreeHash: treeHash}
	enc := repo.Storer.NewEncodedObject()
	require.NoError(t, tip.Encode(enc))
	tipHash, err := repo.Storer.SetEncodedObject(enc)
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.ReferenceName(notes.DefaultRef), tipHash)))
}

func TestApplyReplacesUnreadableTargetRecord(t *testing.T) {
	repo, dir := initRepo(t)
	store := notes.NewStore(repo, "")

	c1 := commitFile(t, repo, dir, "a.go", numbered(1, 11), "initial")
	c2 := commitFile(t, repo, dir, "a.go", "x\ny\n"+numbered(1, 11), "amended")
	corruptNoteAt(t, repo, c2)
	stageRecord(t, repo, store, c1, "a.go", 4, 8)

	_, err := store.Read(c2.String())
	require.Error(t, err)
	require.NotErrorIs(t, err, notes.ErrNoRecord)

	rm := New(repo, store)
	res, err := rm.Apply(&Notification{Pairs: []RewritePair{{Old: c1, New: c2}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remapped)

	rec, err := store.Read(c2.String())
	require.NoError(t, err)
	require.Len(t, rec.Receipts, 1)
	assert.Equal(t, 6, rec.Receipts[0].FileChanges[0].StartLine)

	_, err = store.Read(c1.String())
	assert.ErrorIs(t, err, notes.ErrNoRecord)
}

func TestParseNotification(t *testing.T) {
	input := strings.Join([]string{
		"1111111111111111111111111111111111111111 2222222222222222222222222222222222222222",
		"not a sha line",
		"3333333333333333333333333333333333333333 4444444444444444444444444444444444444444 extra",
	}, "\n")

	n, err := ParseNotification(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, n.Pairs, 2)
	assert.Equal(t, "2222222222222222222222222222222222222222", n.Pairs[0].New.String())
}
