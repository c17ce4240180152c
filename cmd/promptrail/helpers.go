package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/joss/promptrail/internal/config"
	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/logging"
	"github.com/joss/promptrail/internal/session"
	"github.com/joss/promptrail/internal/staging"
)

var (
	headerColor = color.New(color.Bold)
	dimColor    = color.New(color.Faint)
	warnColor   = color.New(color.FgYellow)
	okColor     = color.New(color.FgGreen)
)

func workdir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func openRepo() (*git.Repository, error) {
	return gitutil.Discover(workdir())
}

func openStaging() (*staging.Store, error) {
	return staging.Open(workdir())
}

func loadConfig() *config.Config {
	return config.Load(workdir())
}

// resolveRev turns a user-supplied revision (or "" for HEAD) into a
// commit hash.
func resolveRev(repo *git.Repository, rev string) (plumbing.Hash, error) {
	if rev == "" {
		head, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
		}
		return head.Hash(), nil
	}
	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %q: %w", rev, err)
	}
	return *h, nil
}

func printf(format string, args ...any) {
	if !quiet {
		fmt.Printf(format, args...)
	}
}

func timeNow() time.Time { return time.Now().UTC() }

func printSessionStats(stats session.Stats) {
	if quiet {
		return
	}
	headerColor.Println("Sessions")
	fmt.Printf("  sessions:   %d\n", stats.UniqueSessions)
	fmt.Printf("  raw time:   %s\n", session.FormatDuration(stats.TotalDuration))
	fmt.Printf("  wall clock: %s\n", session.FormatDuration(stats.WallClock))
	if stats.UniqueSessions > 0 {
		fmt.Printf("  average:    %s\n", session.FormatDuration(stats.AvgDuration))
	}
	if stats.Incomplete {
		warnColor.Println("  (a session is still open; figures are partial)")
	}
}

// hookExit terminates a hook-invoked command. Attribution errors are
// reported but never propagate a non-zero status: provenance must not
// block the git operation that triggered it.
func hookExit(component string, err error) {
	if err != nil {
		log := logging.New(component)
		log.Error().Err(err).Msg("hook run failed")
		if !quiet {
			warnColor.Fprintf(os.Stderr, "promptrail: %v (ignored)\n", err)
		}
	}
	os.Exit(0)
}
