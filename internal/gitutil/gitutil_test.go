package gitutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFiles(t *testing.T, repo *git.Repository, dir string, files map[string]string, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for name, content := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
		_, err = wt.Add(name)
		require.NoError(t, err)
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}

func TestDiscoverFromSubdirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	repo, err := Discover(sub)
	require.NoError(t, err)
	assert.NotNil(t, repo)
}

func TestShortSHA(t *testing.T) {
	assert.Equal(t, "12345678", ShortSHA("1234567890abcdef1234567890abcdef12345678"))
	assert.Equal(t, "abc", ShortSHA("abc"))
}

func TestPathsMatch(t *testing.T) {
	assert.True(t, PathsMatch("a.go", "a.go"))
	assert.True(t, PathsMatch("internal/x/a.go", "a.go"))
	assert.True(t, PathsMatch("a.go", "internal/x/a.go"))
	assert.False(t, PathsMatch("a.go", "b.go"))
	assert.False(t, PathsMatch("xa.go", "a.go"))
}

func TestBlobContent(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	hash := commitFiles(t, repo, dir, map[string]string{"a.go": "package a\n"}, "init")

	text, blobHash, err := BlobContent(repo, hash, "a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n", text)
	assert.False(t, blobHash.IsZero())

	_, _, err = BlobContent(repo, hash, "missing.go")
	assert.Error(t, err)
}

func TestChangedFilesRootCommit(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	hash := commitFiles(t, repo, dir, map[string]string{"a.go": "package a\n", "b.go": "package b\n"}, "init")

	files, err := ChangedFiles(repo, hash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, files)
}

func TestChangedFilesDelta(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFiles(t, repo, dir, map[string]string{"a.go": "package a\n", "b.go": "package b\n"}, "init")
	second := commitFiles(t, repo, dir, map[string]string{"b.go": "package b\n\nvar X = 1\n"}, "touch b")

	files, err := ChangedFiles(repo, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.go"}, files)
}
