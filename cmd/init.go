package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fixdeck/host/internal/config"
)

func newInitCmd(r *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a starter config for the project at --root (default: the current
directory). An existing config file is never overwritten.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := r.configPath
			if path == "" {
				def, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = def
			}

			root := r.projectRoot
			if root == "" {
				root = config.DefaultProjectRoot
			}
			root, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			ui := newPrinter(r.stdout, r.colorMode())
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(r.stdout, "%s config already exists at %s\n", ui.warn("!"), path)
				return nil
			}
			if err := config.WriteDefault(path, root); err != nil {
				return err
			}
			fmt.Fprintf(r.stdout, "%s wrote %s\n", ui.ok("✓"), path)
			return nil
		},
	}
}
