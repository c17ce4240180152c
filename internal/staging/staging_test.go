package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/promptrail/internal/receipt"
)

func testEntry(session string, prompt int) receipt.Receipt {
	return receipt.Receipt{
		ID:           receipt.DeriveID(session, "sha256:h", prompt),
		Provider:     "claude",
		Model:        "test-model",
		SessionID:    session,
		PromptNumber: prompt,
		PromptHash:   "sha256:h",
		CapturedAt:   time.Now().UTC(),
	}
}

func TestUpsertAndList(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Upsert(testEntry("s1", 1)))
	require.NoError(t, store.Upsert(testEntry("s1", 2)))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].ID, entries[1].ParentReceiptID, "second receipt chains to the first")
	assert.Equal(t, 2, store.Count())
}

func TestUpsertMergesSamePrompt(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	first := testEntry("s1", 1)
	first.PromptSummary = "fix the tests"
	require.NoError(t, store.Upsert(first))

	// Later event for the same prompt knows about files but not the summary.
	patch := testEntry("s1", 1)
	patch.PromptSummary = ""
	patch.FileChanges = []receipt.FileChange{{Path: "src/lib.rs", StartLine: 1, EndLine: 5, Additions: 5}}
	require.NoError(t, store.Upsert(patch))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fix the tests", entries[0].PromptSummary, "empty update must not erase staged summary")
	require.Len(t, entries[0].FileChanges, 1)
	assert.Equal(t, "src/lib.rs", entries[0].FileChanges[0].Path)
}

func TestUpsertPreservesFilesOnFinalize(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	withFiles := testEntry("s1", 1)
	withFiles.FileChanges = []receipt.FileChange{{Path: "src/main.go", StartLine: 1, EndLine: 10, Additions: 10}}
	require.NoError(t, store.Upsert(withFiles))

	finalize := testEntry("s1", 1)
	finalize.CostUSD = 0.05
	require.NoError(t, store.Upsert(finalize))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].FileChanges, 1)
	assert.InDelta(t, 0.05, entries[0].CostUSD, 1e-9)
}

func TestDrainPartial(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	a := testEntry("s1", 1)
	a.FileChanges = []receipt.FileChange{{Path: "a.go", StartLine: 1, EndLine: 3}}
	b := testEntry("s1", 2)
	b.FileChanges = []receipt.FileChange{{Path: "b.go", StartLine: 1, EndLine: 3}}
	require.NoError(t, store.Upsert(a))
	require.NoError(t, store.Upsert(b))

	drained, err := store.Drain(func(r receipt.Receipt) bool {
		return r.TouchesFile(func(p string) bool { return p == "a.go" })
	})
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, a.ID, drained[0].ID)

	remaining, err := store.List()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, b.ID, remaining[0].ID, "non-matching entries stay staged")
}

func TestCommittedWatermark(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.MarkCommitted([]receipt.Receipt{testEntry("s1", 3), testEntry("s1", 1), testEntry("s2", 2)}))
	assert.Equal(t, 3, store.CommittedMaxPrompt("s1"))
	assert.Equal(t, 2, store.CommittedMaxPrompt("s2"))
	assert.Zero(t, store.CommittedMaxPrompt("unknown"))
}

func TestCrashSafeWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(testEntry("s1", 1)))

	// A leftover temp file from an interrupted writer must not be read.
	tmp := filepath.Join(dir, DirName, "staging.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("{garbage"), 0o644))

	entries, err := store.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLockReleasedOnError(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	// Corrupt the staging file so List fails after taking the lock.
	require.NoError(t, os.WriteFile(filepath.Join(dir, DirName, "staging.json"), []byte("{broken"), 0o644))
	_, err = store.List()
	require.Error(t, err)

	// The lock must have been released; the next operation proceeds.
	require.NoError(t, store.Clear())
	assert.Zero(t, store.Count())
}

func TestStaleLockTakeover(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	lock := filepath.Join(dir, DirName, "staging.lock")
	require.NoError(t, os.WriteFile(lock, []byte("999999\n"), 0o644))
	old := time.Now().Add(-2 * lockStaleAfter)
	require.NoError(t, os.Chtimes(lock, old, old))

	require.NoError(t, store.Upsert(testEntry("s1", 1)))
	assert.Equal(t, 1, store.Count())
}

func TestGitignoreEntry(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(content), DirName+"/")

	// Opening again must not duplicate the entry.
	_, err = Open(dir)
	require.NoError(t, err)
	content2, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, string(content), string(content2))
}
