package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/config"
	"github.com/joss/promptrail/internal/notes"
	"github.com/joss/promptrail/internal/remap"
)

// promptrail remap [kind]
//
// Post-rewrite hook entry: reads "old-sha new-sha" pairs from stdin,
// exactly as git hands them to the hook. The kind argument (amend or
// rebase) is accepted and logged but does not change behavior. Never
// exits non-zero.
func remapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remap [kind]",
		Short: "Remap receipts after a history rewrite",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			notification, err := remap.ParseNotification(os.Stdin)
			if err != nil {
				hookExit("remap", err)
			}
			if len(notification.Pairs) == 0 {
				hookExit("remap", nil)
			}

			repo, err := openRepo()
			if err != nil {
				hookExit("remap", err)
			}
			store := notes.NewStore(repo, config.Env().NotesRef)

			res, err := remap.New(repo, store).Apply(notification)
			if err != nil {
				hookExit("remap", err)
			}
			if res.Remapped > 0 {
				printf("remapped %d records (%d clipped, %d orphaned)\n",
					res.Remapped, res.Clipped, res.Orphaned)
			}
			hookExit("remap", nil)
		},
	}
}
