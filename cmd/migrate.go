package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the seen, sent and retry tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("migrate: tables ready", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many companies have been seen, emailed and queued for retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		for _, table := range []model.Table{model.TableSeen, model.TableSent, model.TableRetry} {
			n, err := st.Count(ctx, table)
			if err != nil {
				return eris.Wrapf(err, "count %s", table)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %d\n", table, n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, statusCmd)
}
