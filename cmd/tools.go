package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aymanbagabas/go-udiff"
	"github.com/spf13/cobra"

	"github.com/fixdeck/host/internal/auth"
	"github.com/fixdeck/host/internal/issues"
	"github.com/fixdeck/host/internal/mdns"
)

func newSchemaCmd(r *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of an issue fragment",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(r.stdout, issues.Schema())
		},
	}
}

func newDiffCmd(r *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Write a unified diff between two files",
		Long: `Write a unified diff between two files in the format the analyzer
produces, for hand-written patches and tests.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldData, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			newData, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			fmt.Fprint(r.stdout, udiff.Unified(args[0], args[1], string(oldData), string(newData)))
			return nil
		},
	}
}

func newTokenCmd(r *rootCommand) *cobra.Command {
	var hashOnly bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a bridge token",
		Long: `Generate a random bearer token for the editor bridge. Put the hash in
the config as token_hash and set require_auth = true; give the token to the
editor extension. The token is not stored anywhere.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, hash, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			if hashOnly {
				fmt.Fprintln(r.stdout, hash)
				return nil
			}
			ui := newPrinter(r.stdout, r.colorMode())
			fmt.Fprintf(r.stdout, "%s %s\n", ui.key("token:"), token)
			fmt.Fprintf(r.stdout, "%s token_hash = %q\n", ui.key("config:"), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&hashOnly, "hash-only", false, "Print only the hash")
	return cmd
}

func newDiscoverCmd(r *rootCommand) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find fixdeck hosts on the local network",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			hosts, err := mdns.Discover(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				if hosts == nil {
					hosts = []mdns.DiscoveredHost{}
				}
				return writeJSON(r.stdout, hosts)
			}

			ui := newPrinter(r.stdout, r.colorMode())
			if len(hosts) == 0 {
				fmt.Fprintln(r.stdout, ui.dim("No hosts found."))
				return nil
			}
			for _, h := range hosts {
				lock := ""
				if h.AuthRequired {
					lock = ui.warn(" [auth]")
				}
				fmt.Fprintf(r.stdout, "%s %s%s %s\n", ui.key(h.Name), h.Addr(), lock, ui.dim(h.Project))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to browse")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print hosts as JSON")
	return cmd
}
