// ABOUTME: status subcommand
// ABOUTME: Shows per-flow sync state and the most recent row outcomes
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harperreed/leadbridge/db"
)

func newStatusCommand(flags *rootFlags) *cobra.Command {
	var row, limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state from the state database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(flags, nil)
			if err != nil {
				return err
			}
			defer func() { _ = env.closeLog() }()

			database, err := db.OpenDatabase(env.cfg.StateDB)
			if err != nil {
				return fmt.Errorf("failed to open state database: %w", err)
			}
			defer func() { _ = database.Close() }()

			states, err := db.GetAllSyncStates(database)
			if err != nil {
				return err
			}
			entries, err := db.RecentSyncLog(database, row, limit)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprint(cmd.OutOrStdout(), renderStatus(states, entries, styled(cmd.OutOrStdout())))
			return nil
		},
	}

	cmd.Flags().IntVar(&row, "row", 0, "Only show log entries for this sheet row")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of log entries to show")
	return cmd
}
