package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fixdeck/host/internal/analyzer"
	"github.com/fixdeck/host/internal/config"
	"github.com/fixdeck/host/internal/keepawake"
	"github.com/fixdeck/host/internal/storage"
)

// newRunner builds the analyzer runner described by cfg. Runs are recorded
// in history when it is not nil.
func newRunner(cfg *config.Config, history *storage.SQLiteStore) *analyzer.Runner {
	runner := analyzer.NewRunner(analyzer.Config{
		Path:       cfg.AnalyzerPath,
		Params:     cfg.AnalyzerParams,
		ConfigFile: cfg.AnalyzerConfig,
	})
	if history != nil {
		runner.SetRecorder(history)
	}
	if cfg.KeepAwake {
		runner.SetWaker(keepawake.NewManager(keepawake.NewDefaultAdapter()))
	}
	return runner
}

func newAnalyzeCmd(r *rootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Run the analyzer on the project or one file",
		Long: `Run the configured analyzer on the whole project, or on one file when
given, streaming its output. The issue tree is reloaded afterwards.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := r.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			target := ""
			if len(args) == 1 {
				target = a.store.Normalizer().FS(args[0])
			}

			runner := newRunner(a.cfg, a.history)
			runner.SetOutputHandler(func(line string) {
				fmt.Fprintln(r.stdout, line)
			})

			res, runErr := runner.Run(ctx, target)

			// The analyzer may have written fragments even when it failed.
			tree, err := a.store.Reload(context.WithoutCancel(ctx))
			if err != nil {
				warnf("reload after analysis: %v", err)
			}
			if runErr != nil {
				return runErr
			}

			ui := newPrinter(r.stdout, r.colorMode())
			groups, count, patches := 0, 0, 0
			if tree != nil {
				groups, count, patches = tree.Counts()
			}
			fmt.Fprintf(r.stdout, "%s analysis finished in %s: %d groups, %d issues, %d patches\n",
				ui.ok("✓"), res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond), groups, count, patches)
			return nil
		},
	}
	return cmd
}
