package main

import (
	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/config"
	"github.com/joss/promptrail/internal/notes"
)

// promptrail pull [remote]
func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [remote]",
		Short: "Fetch and merge attribution records from a remote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncer, err := newSyncer(args)
			if err != nil {
				return err
			}
			res, err := syncer.Pull(cmd.Context())
			if err != nil {
				return err
			}
			if res.UpToDate && res.Merged == 0 {
				printf("already up to date\n")
				return nil
			}
			printf("fetched %d records, merged %d", res.Fetched, res.Merged)
			if res.Superseded > 0 {
				printf(" (%d superseded versions kept in audit log)", res.Superseded)
			}
			printf("\n")
			return nil
		},
	}
}

// promptrail push [remote]
func pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push [remote]",
		Short: "Merge with the remote records and push the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncer, err := newSyncer(args)
			if err != nil {
				return err
			}
			res, err := syncer.Push(cmd.Context())
			if err != nil {
				return err
			}
			if res.Pushed {
				okColor.Println("records pushed")
			} else {
				printf("already up to date\n")
			}
			return nil
		},
	}
}

func newSyncer(args []string) (*notes.Syncer, error) {
	repo, err := openRepo()
	if err != nil {
		return nil, err
	}
	remote := config.Env().Remote
	if len(args) == 1 {
		remote = args[0]
	}
	store := notes.NewStore(repo, config.Env().NotesRef)
	return notes.NewSyncer(repo, store, remote), nil
}
