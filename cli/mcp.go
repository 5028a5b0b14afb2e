// ABOUTME: MCP server subcommand
// ABOUTME: Serves the sync tools and resources over stdio
package cli

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/harperreed/leadbridge/handlers"
)

func newMCPCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
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

			env.logger.Info("starting MCP server")
			server := NewMCPServer(app, cmd.Root().Version)
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

// NewMCPServer registers the operator tools and resources.
func NewMCPServer(app *App, version string) *mcp.Server {
	syncHandlers := handlers.NewSyncHandlers(app.DB, app.Importer, app.Reconciler, app.Sheets, app.Config.Webhook.Secret)
	lookupHandlers := handlers.NewLookupHandlers(app.CRM)
	resourceHandlers := handlers.NewResourceHandlers(app.DB, app.Sheets)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "leadbridge",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "import_rows",
		Description: "Create AmoCRM contacts and leads for every sheet row without amo_deal_id",
	}, syncHandlers.ImportRows)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Show the state of each sync flow and recent row outcomes",
	}, syncHandlers.SyncStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_row",
		Description: "Push one sheet row into AmoCRM as if its webhook had fired",
	}, syncHandlers.SyncRow)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_contact",
		Description: "Find the AmoCRM contact matching a phone, email and optional name",
	}, lookupHandlers.FindContact)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_lead",
		Description: "Find an AmoCRM lead by id or by its contact's email",
	}, lookupHandlers.FindLead)

	server.AddResource(&mcp.Resource{
		URI:      handlers.SyncStateURI,
		Name:     "sync-state",
		MIMEType: "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResource(&mcp.Resource{
		URI:      handlers.SheetRowsURI,
		Name:     "sheet-rows",
		MIMEType: "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: handlers.SheetRowsTemplate,
		Name:        "sheet-row",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	return server
}
