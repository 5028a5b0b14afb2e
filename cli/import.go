// ABOUTME: import subcommand
// ABOUTME: Pushes every unlinked sheet row into AmoCRM and prints a summary
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImportCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import unlinked sheet rows into AmoCRM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(flags, boolPtr(false))
			if err != nil {
				return err
			}
			defer func() { _ = env.closeLog() }()

			app, err := NewApp(cmd.Context(), env.cfg, env.logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			summary, err := app.Importer.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary, styled(cmd.OutOrStdout())))
			if summary.Errors > 0 {
				return fmt.Errorf("%d rows failed to import", summary.Errors)
			}
			return nil
		},
	}
}
