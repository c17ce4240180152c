package notes

import (
	"context"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/promptrail/internal/receipt"
)

// syncRepo wires a working repo to a shared bare remote.
func syncRepo(t *testing.T, remoteDir string) *git.Repository {
	t.Helper()
	repo, _ := initRepo(t)
	_, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteDir},
	})
	require.NoError(t, err)
	return repo
}

func bareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	return dir
}

func TestSyncPullEmptyRemote(t *testing.T) {
	repo := syncRepo(t, bareRemote(t))
	syncer := NewSyncer(repo, NewStore(repo, ""), "origin")

	res, err := syncer.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)
}

func TestSyncPushThenPull(t *testing.T) {
	remote := bareRemote(t)
	repoA := syncRepo(t, remote)
	repoB := syncRepo(t, remote)

	storeA := NewStore(repoA, "")
	commit := "1111111111111111111111111111111111111111"
	require.NoError(t, storeA.Write(&receipt.CommitRecord{
		Commit: commit, Receipts: []receipt.Receipt{testReceipt("s1", 1, "a.go")},
	}))

	res, err := NewSyncer(repoA, storeA, "origin").Push(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Pushed)

	storeB := NewStore(repoB, "")
	res, err = NewSyncer(repoB, storeB, "origin").Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Merged)

	rec, err := storeB.Read(commit)
	require.NoError(t, err)
	assert.Len(t, rec.Receipts, 1)
}

func TestSyncMergePreservesBothSides(t *testing.T) {
	remote := bareRemote(t)
	repoA := syncRepo(t, remote)
	repoB := syncRepo(t, remote)

	commitX := "1111111111111111111111111111111111111111"
	commitY := "2222222222222222222222222222222222222222"

	storeA := NewStore(repoA, "")
	require.NoError(t, storeA.Write(&receipt.CommitRecord{
		Commit: commitX, Receipts: []receipt.Receipt{testReceipt("a", 1, "a.go")},
	}))
	_, err := NewSyncer(repoA, storeA, "origin").Push(context.Background())
	require.NoError(t, err)

	// B writes its own record before ever pulling, then pushes. The
	// push merges first, so A's record survives.
	storeB := NewStore(repoB, "")
	require.NoError(t, storeB.Write(&receipt.CommitRecord{
		Commit: commitY, Receipts: []receipt.Receipt{testReceipt("b", 1, "b.go")},
	}))
	_, err = NewSyncer(repoB, storeB, "origin").Push(context.Background())
	require.NoError(t, err)

	records, err := storeB.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// A pulls and converges on the same union.
	_, err = NewSyncer(repoA, storeA, "origin").Pull(context.Background())
	require.NoError(t, err)
	records, err = storeA.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSyncMergeCommitTiesHistories(t *testing.T) {
	remote := bareRemote(t)
	repoA := syncRepo(t, remote)
	repoB := syncRepo(t, remote)

	storeA := NewStore(repoA, "")
	require.NoError(t, storeA.Write(&receipt.CommitRecord{
		Commit:   "1111111111111111111111111111111111111111",
		Receipts: []receipt.Receipt{testReceipt("a", 1, "a.go")},
	}))
	_, err := NewSyncer(repoA, storeA, "origin").Push(context.Background())
	require.NoError(t, err)

	storeB := NewStore(repoB, "")
	require.NoError(t, storeB.Write(&receipt.CommitRecord{
		Commit:   "2222222222222222222222222222222222222222",
		Receipts: []receipt.Receipt{testReceipt("b", 1, "b.go")},
	}))
	res, err := NewSyncer(repoB, storeB, "origin").Push(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Pushed)

	// B's tip is a merge commit over both histories, so the push above
	// was a fast-forward for the remote.
	tip, ok := storeB.Tip()
	require.True(t, ok)
	tipCommit, err := repoB.CommitObject(tip)
	require.NoError(t, err)
	assert.Len(t, tipCommit.ParentHashes, 2)

	// Nothing left to transmit.
	res, err = NewSyncer(repoB, storeB, "origin").Push(context.Background())
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
}

func TestSyncPushIdenticalRecordsDivergedHistories(t *testing.T) {
	remote := bareRemote(t)
	repoA := syncRepo(t, remote)
	repoB := syncRepo(t, remote)

	// Both clones wrote the same record independently: the entry sets
	// match but the notes histories share no commit.
	r := testReceipt("s1", 1, "a.go")
	r.CapturedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &receipt.CommitRecord{
		Commit:   "1111111111111111111111111111111111111111",
		Receipts: []receipt.Receipt{r},
	}

	storeA := NewStore(repoA, "")
	require.NoError(t, storeA.Write(rec))
	_, err := NewSyncer(repoA, storeA, "origin").Push(context.Background())
	require.NoError(t, err)

	storeB := NewStore(repoB, "")
	require.NoError(t, storeB.Write(rec))
	res, err := NewSyncer(repoB, storeB, "origin").Push(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Pushed)

	records, err := storeB.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSyncSupersededGoesToAudit(t *testing.T) {
	remote := bareRemote(t)
	repoA := syncRepo(t, remote)
	repoB := syncRepo(t, remote)

	commit := "1111111111111111111111111111111111111111"
	base := testReceipt("s1", 1, "a.go")

	older := base
	older.ResponseSummary = "first pass"
	older.CapturedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	newer := base
	newer.ResponseSummary = "second pass"
	newer.CapturedAt = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	storeA := NewStore(repoA, "")
	require.NoError(t, storeA.Write(&receipt.CommitRecord{Commit: commit, Receipts: []receipt.Receipt{newer}}))
	_, err := NewSyncer(repoA, storeA, "origin").Push(context.Background())
	require.NoError(t, err)

	storeB := NewStore(repoB, "")
	require.NoError(t, storeB.Write(&receipt.CommitRecord{Commit: commit, Receipts: []receipt.Receipt{older}}))

	res, err := NewSyncer(repoB, storeB, "origin").Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Superseded)

	rec, err := storeB.Read(commit)
	require.NoError(t, err)
	require.Len(t, rec.Receipts, 1)
	assert.Equal(t, "second pass", rec.Receipts[0].ResponseSummary)

	audit, err := NewStore(repoB, AuditRef).Read(commit)
	require.NoError(t, err)
	require.Len(t, audit.Receipts, 1)
	assert.Equal(t, "first pass", audit.Receipts[0].ResponseSummary)
}

func TestSyncPullIdempotent(t *testing.T) {
	remote := bareRemote(t)
	repoA := syncRepo(t, remote)
	repoB := syncRepo(t, remote)

	storeA := NewStore(repoA, "")
	require.NoError(t, storeA.Write(&receipt.CommitRecord{
		Commit:   "1111111111111111111111111111111111111111",
		Receipts: []receipt.Receipt{testReceipt("s1", 1, "a.go")},
	}))
	_, err := NewSyncer(repoA, storeA, "origin").Push(context.Background())
	require.NoError(t, err)

	storeB := NewStore(repoB, "")
	syncerB := NewSyncer(repoB, storeB, "origin")
	_, err = syncerB.Pull(context.Background())
	require.NoError(t, err)

	res, err := syncerB.Pull(context.Background())
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
	assert.Equal(t, 0, res.Merged)
}
