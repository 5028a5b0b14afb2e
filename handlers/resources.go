// ABOUTME: MCP resource handlers for exposing sync state and sheet rows
// ABOUTME: Provides read-only access via leadbridge:// URIs
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/leadbridge/db"
)

const (
	ResourceScheme    = "leadbridge://"
	SyncStateURI      = ResourceScheme + "sync/state"
	SheetRowsURI      = ResourceScheme + "sheet/rows"
	SheetRowsTemplate = SheetRowsURI + "/{row}"
)

type ResourceHandlers struct {
	db   *sql.DB
	rows RowReader
}

func NewResourceHandlers(database *sql.DB, rows RowReader) *ResourceHandlers {
	return &ResourceHandlers{db: database, rows: rows}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, ResourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", ResourceScheme)
	}

	switch {
	case uri == SyncStateURI:
		return h.readSyncState()
	case uri == SheetRowsURI:
		return h.readRows(ctx, 0)
	case strings.HasPrefix(uri, SheetRowsURI+"/"):
		row, err := strconv.Atoi(strings.TrimPrefix(uri, SheetRowsURI+"/"))
		if err != nil {
			return nil, fmt.Errorf("invalid row in %s: %w", uri, err)
		}
		return h.readRows(ctx, row)
	default:
		return nil, mcp.ResourceNotFoundError(uri)
	}
}

func (h *ResourceHandlers) readSyncState() (*mcp.ReadResourceResult, error) {
	if h.db == nil {
		return nil, fmt.Errorf("state database is not configured")
	}
	states, err := db.GetAllSyncStates(h.db)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sync states: %w", err)
	}
	return jsonResource(SyncStateURI, states)
}

// readRows returns every row, or only row when it is non-zero.
func (h *ResourceHandlers) readRows(ctx context.Context, row int) (*mcp.ReadResourceResult, error) {
	rows, err := h.rows.ReadAllRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if row == 0 {
		return jsonResource(SheetRowsURI, rows)
	}

	uri := fmt.Sprintf("%s/%d", SheetRowsURI, row)
	for _, r := range rows {
		if r.Index == row {
			return jsonResource(uri, r)
		}
	}
	return nil, mcp.ResourceNotFoundError(uri)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
