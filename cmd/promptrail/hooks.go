package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/promptrail/internal/hooks"
)

// promptrail hooks {install|uninstall|status}
func hooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage the git hooks that drive attribution",
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install the promptrail git hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := installer()
			if err != nil {
				return err
			}
			if err := in.Install(); err != nil {
				return err
			}
			okColor.Printf("installed hooks: %v\n", hooks.Names)
			return nil
		},
	}

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the promptrail hook blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := installer()
			if err != nil {
				return err
			}
			if err := in.Uninstall(); err != nil {
				return err
			}
			okColor.Println("hooks removed")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show which hooks are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := installer()
			if err != nil {
				return err
			}
			installed := in.Installed()
			if len(installed) == 0 {
				printf("no promptrail hooks installed\n")
				return nil
			}
			for _, name := range installed {
				fmt.Println(name)
			}
			return nil
		},
	}

	cmd.AddCommand(installCmd, uninstallCmd, statusCmd)
	return cmd
}

func installer() (*hooks.Installer, error) {
	repo, err := openRepo()
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	return hooks.NewInstaller(filepath.Join(wt.Filesystem.Root(), ".git")), nil
}
