package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fixdeck/host/internal/storage"
)

func newHistoryCmd(r *rootCommand) *cobra.Command {
	var (
		limit   int
		runs    bool
		textLog bool
		patch   string
		asJSON  bool
		prune   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past decisions and analyzer runs",
		Long: `Show the decision history kept in the SQLite database. --log prints the
plain text decision log instead, --runs lists analyzer runs, and --prune
deletes rows older than the given age.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if textLog {
				lines, err := a.log.Lines()
				if err != nil {
					return err
				}
				for _, line := range lines {
					fmt.Fprintln(r.stdout, line)
				}
				return nil
			}

			if a.history == nil {
				return fmt.Errorf("decision history is not available at %s", a.cfg.HistoryDB)
			}

			ui := newPrinter(r.stdout, r.colorMode())
			if prune > 0 {
				n, err := a.history.Cleanup(prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(r.stdout, "%s removed %d rows\n", ui.ok("✓"), n)
				return nil
			}

			if runs {
				list, err := a.history.ListAnalysisRuns(limit)
				if err != nil {
					return err
				}
				if asJSON {
					if list == nil {
						list = []*storage.AnalysisRun{}
					}
					return writeJSON(r.stdout, list)
				}
				for _, run := range list {
					target := run.Target
					if target == "" {
						target = "project"
					}
					status := ui.ok("ok")
					if run.ExitCode != 0 || run.Error != "" {
						status = ui.err(fmt.Sprintf("exit %d", run.ExitCode))
					}
					fmt.Fprintf(r.stdout, "%s  %-8s %s %s\n",
						run.StartedAt.Local().Format(time.DateTime), status, target,
						ui.dim(fmt.Sprintf("(%s, %d lines)", run.Duration().Round(time.Millisecond), run.OutputLines)))
				}
				return nil
			}

			var list []*storage.DecisionRecord
			if patch != "" {
				list, err = a.history.ListDecisionsForPatch(patch)
			} else {
				list, err = a.history.ListDecisions(limit)
			}
			if err != nil {
				return err
			}
			if asJSON {
				if list == nil {
					list = []*storage.DecisionRecord{}
				}
				return writeJSON(r.stdout, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(r.stdout, ui.dim("No decisions yet."))
				return nil
			}
			for _, rec := range list {
				label := rec.Decision
				if label == storage.DecisionUndone {
					label = "undone"
				}
				fmt.Fprintf(r.stdout, "%s  %-8s %s", rec.DecidedAt.Local().Format(time.DateTime), ui.key(label), rec.PatchPath)
				if rec.Reason != "" {
					fmt.Fprintf(r.stdout, " %s", ui.dim("- "+rec.Reason))
				}
				fmt.Fprintln(r.stdout)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows; 0 for all")
	cmd.Flags().BoolVar(&runs, "runs", false, "List analyzer runs")
	cmd.Flags().BoolVar(&textLog, "log", false, "Print the text decision log")
	cmd.Flags().StringVar(&patch, "patch", "", "Only decisions about this patch")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete history older than this age (e.g. 720h)")
	return cmd
}
