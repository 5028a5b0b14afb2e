// ABOUTME: serve subcommand
// ABOUTME: Runs the startup import and the webhook server until interrupted
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harperreed/leadbridge/web"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var noImport bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := setup(flags, boolPtr(true))
			if err != nil {
				return err
			}
			defer func() { _ = env.closeLog() }()

			app, err := NewApp(ctx, env.cfg, env.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					env.logger.Warn("failed to close", "error", err)
				}
			}()

			if env.cfg.Sync.ImportOnStart && !noImport {
				runStartupImport(ctx, app)
			}

			go app.PurgeLocks(ctx)

			srv, err := web.NewServer(app.Reconciler, app.Importer, app.DB, env.logger)
			if err != nil {
				return err
			}
			return srv.Start(ctx, env.cfg.App.Addr())
		},
	}

	cmd.Flags().BoolVar(&noImport, "no-import", false, "Skip the import of unlinked rows on startup")
	return cmd
}

// runStartupImport imports backlog rows before the server accepts webhooks.
// Failures are logged, never fatal.
func runStartupImport(ctx context.Context, app *App) {
	app.Logger.Info("importing unlinked rows on startup")
	summary, err := app.Importer.Run(ctx)
	if err != nil {
		app.Logger.Error("startup import failed", "error", err)
		return
	}
	app.Logger.Info("startup import finished", "created", summary.Created, "skipped", summary.Skipped, "errors", summary.Errors)
}
