package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/cache"
	"github.com/joss/promptrail/internal/config"
	"github.com/joss/promptrail/internal/notes"
	"github.com/joss/promptrail/internal/staging"
)

// promptrail cache {rebuild|status}
func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the derived query index",
	}

	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from the persisted records",
		Long: `Drops and repopulates the sqlite index from the notes namespace. The
index is derived state; rebuilding it is always safe. Invoked by the
post-checkout and post-merge hooks, so failures never propagate.`,
		Run: func(cmd *cobra.Command, args []string) {
			repo, err := openRepo()
			if err != nil {
				hookExit("cache", err)
			}
			c, err := cache.Open(filepath.Join(workdir(), staging.DirName))
			if err != nil {
				hookExit("cache", err)
			}
			defer c.Close()

			store := notes.NewStore(repo, config.Env().NotesRef)
			n, err := c.Rebuild(cmd.Context(), store)
			if err != nil {
				hookExit("cache", err)
			}
			printf("indexed %d receipts\n", n)
			hookExit("cache", nil)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show aggregate figures from the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cache.Open(filepath.Join(workdir(), staging.DirName))
			if err != nil {
				return err
			}
			defer c.Close()

			s, err := c.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			headerColor.Println("Cache")
			fmt.Printf("  receipts: %d across %d commits, %d sessions\n", s.Receipts, s.Commits, s.Sessions)
			if s.TotalCost > 0 {
				fmt.Printf("  cost:     $%.2f, %d tokens\n", s.TotalCost, s.TotalTokens)
			}
			if s.Orphaned > 0 {
				warnColor.Printf("  orphaned: %d receipts\n", s.Orphaned)
			}
			return nil
		},
	}

	cmd.AddCommand(rebuildCmd, statusCmd)
	return cmd
}
