package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/secrets"
)

var (
	scheduleCron  string
	scheduleLimit int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the outreach pipeline on a cron schedule",
	Long:  "Runs one pipeline pass per cron tick until interrupted. A tick that fires while the previous pass is still running is skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if scheduleCron != "" {
			cfg.Schedule.Cron = scheduleCron
		}
		if err := secrets.ResolveSMTPPassword(cfg); err != nil {
			return err
		}
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}

		lock, err := acquireLock(cfg.Store.LockPath)
		if err != nil {
			return err
		}
		defer releaseLock(lock)

		opts := pipeline.Options{Limit: scheduleLimit}
		c, next, err := newScheduler(cfg.Schedule.Cron, func() {
			report, err := runOnce(ctx, opts)
			if err != nil {
				zap.L().Error("schedule: run failed", zap.Error(err))
				return
			}
			zap.L().Info("schedule: run complete",
				zap.String("run_id", report.RunID.String()),
				zap.Int("sent", report.Sent),
				zap.Int("failed", report.Failed),
			)
		})
		if err != nil {
			return err
		}

		c.Start()
		zap.L().Info("schedule: started", zap.String("cron", cfg.Schedule.Cron), zap.Time("next_run", next))

		<-ctx.Done()
		zap.L().Info("schedule: stopping, waiting for the active run")
		<-c.Stop().Done()
		return nil
	},
}

// newScheduler registers job on expr (standard five-field syntax or a
// descriptor such as "@daily") and returns the cron runner with the first
// fire time.
func newScheduler(expr string, job func()) (*cron.Cron, time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, time.Time{}, eris.Wrapf(err, "parse cron %q", expr)
	}
	logger := cronLogger{log: zap.S().Named("cron")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(sched, cron.FuncJob(job))
	return c, sched.Next(time.Now()), nil
}

// cronLogger routes cron's logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = cronLogger{}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression overriding schedule.cron")
	scheduleCmd.Flags().IntVar(&scheduleLimit, "limit", 0, "max companies per run (0 = all)")
	rootCmd.AddCommand(scheduleCmd)
}
