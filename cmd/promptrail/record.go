package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/capture"
	"github.com/joss/promptrail/internal/gitutil"
)

// promptrail record [file]
func recordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record [file]",
		Short: "Ingest a stream of session events",
		Long: `Reads newline-delimited JSON lifecycle events (prompts, tool calls,
session boundaries) from a file or stdin, redacts them, and stages the
resulting receipts. Providers invoke this from their own hooks.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open event stream: %w", err)
				}
				defer f.Close()
				in = f
			}

			stg, err := openStaging()
			if err != nil {
				return err
			}

			author := ""
			if repo, err := openRepo(); err == nil {
				author = gitutil.AuthorIdentity(repo)
			}

			rec := capture.NewRecorder(loadConfig(), stg, author)
			n, err := rec.RecordStream(in)
			if err != nil {
				return err
			}
			printf("recorded %d events, %d receipts staged\n", n, stg.Count())
			return nil
		},
	}
}
