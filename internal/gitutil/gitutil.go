// Package gitutil holds small git helpers shared across the engine.
package gitutil

import (
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Discover opens the repository containing path, walking up to the
// nearest .git directory.
func Discover(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", path, err)
	}
	return repo, nil
}

// ShortSHA shortens a full hash for display.
func ShortSHA(sha string) string {
	if len(sha) <= 8 {
		return sha
	}
	return sha[:8]
}

// PathsMatch reports whether two file paths refer to the same file,
// tolerating relative/absolute mismatches by suffix containment.
func PathsMatch(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}

// AuthorIdentity returns "Name <email>" from the repository config,
// falling back to placeholders when unset.
func AuthorIdentity(repo *git.Repository) string {
	name, email := "unknown", "unknown@unknown"
	if cfg, err := repo.ConfigScoped(gitconfig.SystemScope); err == nil {
		if cfg.User.Name != "" {
			name = cfg.User.Name
		}
		if cfg.User.Email != "" {
			email = cfg.User.Email
		}
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// BlobContent reads the file at path in the given commit. Returns the
// text and the blob hash.
func BlobContent(repo *git.Repository, commit plumbing.Hash, path string) (string, plumbing.Hash, error) {
	c, err := repo.CommitObject(commit)
	if err != nil {
		return "", plumbing.ZeroHash, fmt.Errorf("commit %s: %w", ShortSHA(commit.String()), err)
	}
	f, err := c.File(path)
	if err != nil {
		return "", plumbing.ZeroHash, fmt.Errorf("file %s at %s: %w", path, ShortSHA(commit.String()), err)
	}
	content, err := f.Contents()
	if err != nil {
		return "", plumbing.ZeroHash, fmt.Errorf("read %s: %w", path, err)
	}
	return content, f.Hash, nil
}

// ChangedFiles returns the paths touched by a commit relative to its
// first parent (all paths for a root commit).
func ChangedFiles(repo *git.Repository, hash plumbing.Hash) ([]string, error) {
	c, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", ShortSHA(hash.String()), err)
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", ShortSHA(hash.String()), err)
	}

	if c.NumParents() == 0 {
		var paths []string
		err := tree.Files().ForEach(func(f *object.File) error {
			paths = append(paths, f.Name)
			return nil
		})
		return paths, err
	}

	parent, err := c.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("parent of %s: %w", ShortSHA(hash.String()), err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", ShortSHA(hash.String()), err)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name != "" && !seen[name] {
				seen[name] = true
				paths = append(paths, name)
			}
		}
	}
	return paths, nil
}
