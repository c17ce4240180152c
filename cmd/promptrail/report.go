package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/config"
	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/notes"
	"github.com/joss/promptrail/internal/report"
	"github.com/joss/promptrail/internal/textutil"
)

// promptrail report
func reportCmd() *cobra.Command {
	var (
		sinceDays int
		author    string
		path      string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize attributed work",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			store := notes.NewStore(repo, config.Env().NotesRef)

			filter := report.Filter{Author: author, Path: path, Session: sessionID}
			if sinceDays > 0 {
				filter.Since = timeNow().AddDate(0, 0, -sinceDays)
			}

			rep, err := report.Build(store, filter, timeNow())
			if err != nil {
				return err
			}
			if len(rep.Receipts) == 0 {
				printf("no matching receipts\n")
				return nil
			}

			headerColor.Println("Attribution report")
			fmt.Printf("  receipts:   %d across %d commits\n", len(rep.Receipts), rep.Commits)
			fmt.Printf("  lines:      %d attributed", rep.AttributedLoc)
			if rep.OrphanedLoc > 0 {
				dimColor.Printf(" (%d orphaned)", rep.OrphanedLoc)
			}
			fmt.Println()
			if rep.TotalCost > 0 {
				fmt.Printf("  cost:       $%.2f\n", rep.TotalCost)
			}
			if rep.TotalTokens > 0 {
				fmt.Printf("  tokens:     %d\n", rep.TotalTokens)
			}
			printSessionStats(rep.Sessions)

			for _, ar := range rep.Receipts {
				dimColor.Printf("%s ", gitutil.ShortSHA(ar.Commit))
				fmt.Printf("[%s #%d] %s", ar.SessionID, ar.PromptNumber, textutil.Truncate(ar.PromptSummary, 72))
				if ar.Orphaned {
					warnColor.Printf(" (orphaned)")
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&sinceDays, "since", 0, "Only receipts captured in the last N days")
	cmd.Flags().StringVar(&author, "author", "", "Filter by author substring")
	cmd.Flags().StringVar(&path, "path", "", "Filter by touched file path")
	cmd.Flags().StringVar(&sessionID, "session", "", "Filter by session id")
	return cmd
}

// promptrail blame <file> [rev]
func blameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blame <file> [rev]",
		Short: "Show per-line AI attribution for a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			rev := ""
			if len(args) == 2 {
				rev = args[1]
			}
			commit, err := resolveRev(repo, rev)
			if err != nil {
				return err
			}

			store := notes.NewStore(repo, config.Env().NotesRef)
			started := time.Now()
			view, err := report.Blame(repo, store, args[0], commit)
			if err != nil {
				return err
			}

			for _, la := range view.Lines {
				if la.Attributed() {
					okColor.Printf("%-12s ", la.Provider)
				} else {
					dimColor.Printf("%-12s ", "human")
				}
				fmt.Printf("%4d  %s\n", la.Line, la.Text)
			}
			fmt.Println()
			fmt.Printf("%d/%d lines attributed (%.1f%%)\n",
				view.Attributed, len(view.Lines), view.Percent())
			dimColor.Printf("blame of %s at %s in %s\n",
				view.Path, gitutil.ShortSHA(view.Commit), time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
}
