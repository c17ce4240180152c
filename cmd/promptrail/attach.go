package main

import (
	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/config"
	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/notes"
)

// promptrail attach [rev]
//
// Post-commit hook entry. Never exits non-zero: a failed attach must
// not fail the commit that triggered it.
func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach [rev]",
		Short: "Attach staged receipts to a commit",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			repo, err := openRepo()
			if err != nil {
				hookExit("attach", err)
			}
			rev := ""
			if len(args) == 1 {
				rev = args[0]
			}
			commit, err := resolveRev(repo, rev)
			if err != nil {
				hookExit("attach", err)
			}
			stg, err := openStaging()
			if err != nil {
				hookExit("attach", err)
			}

			store := notes.NewStore(repo, config.Env().NotesRef)
			res, err := notes.Attach(repo, store, stg, commit)
			if err != nil {
				hookExit("attach", err)
			}
			if res.Attached > 0 {
				printf("attached %d receipts to %s (%d still staged)\n",
					res.Attached, gitutil.ShortSHA(res.Commit), res.Skipped)
			}
			hookExit("attach", nil)
		},
	}
}
