package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/secrets"
)

var (
	runDryRun bool
	runLimit  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one discovery and outreach pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := secrets.ResolveSMTPPassword(cfg); err != nil {
			if !runDryRun {
				return err
			}
			zap.L().Warn("run: no smtp password, continuing dry run", zap.Error(err))
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		lock, err := acquireLock(cfg.Store.LockPath)
		if err != nil {
			return err
		}
		defer releaseLock(lock)

		report, err := runOnce(ctx, pipeline.Options{DryRun: runDryRun, Limit: runLimit})
		if report != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				zap.L().Warn("run: write report", zap.Error(encErr))
			}
		}
		if err != nil {
			return eris.Wrap(err, "run pipeline")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "resolve contacts without sending or recording sends")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max companies to process (0 = all)")
	rootCmd.AddCommand(runCmd)
}
