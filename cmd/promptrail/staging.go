package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/session"
	"github.com/joss/promptrail/internal/textutil"
)

// promptrail staging {list|count|verify|clear}
func stagingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and manage staged receipts",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List receipts waiting for a commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			stg, err := openStaging()
			if err != nil {
				return err
			}
			staged, err := stg.List()
			if err != nil {
				return err
			}
			if len(staged) == 0 {
				printf("nothing staged\n")
				return nil
			}
			for _, r := range staged {
				headerColor.Printf("[%s #%d] ", r.SessionID, r.PromptNumber)
				fmt.Printf("%s\n", textutil.Truncate(r.PromptSummary, 80))
				for _, fc := range r.FileChanges {
					dimColor.Printf("  %s:%d-%d +%d -%d\n",
						fc.Path, fc.StartLine, fc.EndLine, fc.Additions, fc.Deletions)
				}
			}
			return nil
		},
	}

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of staged receipts",
		Run: func(cmd *cobra.Command, args []string) {
			stg, err := openStaging()
			if err != nil {
				fmt.Println(0)
				return
			}
			fmt.Println(stg.Count())
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the staging store before a commit",
		Long: `Acquires and releases the staging lock (recovering a stale one left
by a dead process) and checks the staged data parses. Invoked by the
pre-commit hook so the post-commit attach never blocks.`,
		Run: func(cmd *cobra.Command, args []string) {
			stg, err := openStaging()
			if err != nil {
				hookExit("staging", err)
			}
			n, err := stg.Verify()
			if err != nil {
				hookExit("staging", err)
			}
			printf("staging ok, %d receipts pending\n", n)
			hookExit("staging", nil)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard all staged receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			stg, err := openStaging()
			if err != nil {
				return err
			}
			if err := stg.Clear(); err != nil {
				return err
			}
			okColor.Println("staging cleared")
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Session figures for the staged receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			stg, err := openStaging()
			if err != nil {
				return err
			}
			staged, err := stg.List()
			if err != nil {
				return err
			}
			stats := session.Calculate(staged, timeNow())
			printSessionStats(stats)
			return nil
		},
	}

	cmd.AddCommand(listCmd, countCmd, verifyCmd, clearCmd, statsCmd)
	return cmd
}
