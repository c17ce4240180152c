// Package main provides the promptrail CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/logging"
)

var (
	version = "0.1.0"
	quiet   bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		log := logging.New("cli")
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "promptrail",
		Short: "AI attribution receipts attached to your git history",
		Long: `promptrail attributes lines of source code to the AI prompts that
produced them. Receipts are captured during a session, staged locally,
attached to commits as git notes, and kept valid as history is
rewritten.

Most commands are invoked by the installed git hooks; run
'promptrail hooks install' once per repository to set them up.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")

	rootCmd.AddCommand(
		recordCmd(),
		stagingCmd(),
		attachCmd(),
		remapCmd(),
		pushCmd(),
		pullCmd(),
		blameCmd(),
		reportCmd(),
		cacheCmd(),
		hooksCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the promptrail version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("promptrail", version)
		},
	}
}
