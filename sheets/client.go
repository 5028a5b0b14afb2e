// ABOUTME: Google Sheets backed spreadsheet store
// ABOUTME: Reads rows keyed by header and writes sparse cell updates to one worksheet
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/harperreed/leadbridge/models"
	"github.com/harperreed/leadbridge/retry"
)

const valueInputRaw = "RAW"

type Options struct {
	SpreadsheetID   string
	Worksheet       string
	CredentialsFile string
	Retry           retry.Policy
	// ClientOptions are passed to the Sheets service after the credentials
	// client, so tests can point it at a local endpoint.
	ClientOptions []option.ClientOption
}

// Store is a worksheet opened once at startup. Headers are cached from row 1
// and refreshed on every full read.
type Store struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	worksheet     string
	policy        retry.Policy
	logger        *slog.Logger

	mu      sync.RWMutex
	headers []string
}

// Open authenticates with a service account, loads the header row and
// returns a ready store.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		client, err := serviceAccountClient(ctx, opts.CredentialsFile)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, option.WithHTTPClient(client))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	svc, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}

	s := &Store{
		svc:           svc,
		spreadsheetID: opts.SpreadsheetID,
		worksheet:     opts.Worksheet,
		policy:        opts.Retry,
		logger:        logger,
	}

	if err := s.loadHeaders(ctx); err != nil {
		return nil, err
	}
	logger.Info("opened worksheet", "worksheet", opts.Worksheet, "headers", s.Headers())

	return s, nil
}

func serviceAccountClient(ctx context.Context, path string) (*http.Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}

	return oauth2.NewClient(ctx, creds.TokenSource), nil
}

// Headers returns the cached header row.
func (s *Store) Headers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.headers...)
}

func (s *Store) setHeaders(headers []string) {
	s.mu.Lock()
	s.headers = headers
	s.mu.Unlock()
}

func (s *Store) loadHeaders(ctx context.Context) error {
	values, err := s.getValues(ctx, s.rangeOf("1:1"))
	if err != nil {
		return fmt.Errorf("failed to load headers: %w", err)
	}
	var headers []string
	if len(values) > 0 {
		headers = cellStrings(values[0])
	}
	s.setHeaders(headers)
	return nil
}

// ReadAllRows returns every data row in sheet order. Short rows are padded so
// each row has a value for every header.
func (s *Store) ReadAllRows(ctx context.Context) ([]models.SheetRow, error) {
	values, err := s.getValues(ctx, quoteSheet(s.worksheet))
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(values) == 0 {
		s.logger.Warn("worksheet is empty", "worksheet", s.worksheet)
		return nil, nil
	}

	headers := cellStrings(values[0])
	s.setHeaders(headers)

	rows := make([]models.SheetRow, 0, len(values)-1)
	for i, raw := range values[1:] {
		cells := cellStrings(raw)
		row := models.SheetRow{
			Index:  models.FirstDataRow + i,
			Values: make(map[string]string, len(headers)),
		}
		for col, header := range headers {
			if col < len(cells) {
				row.Values[header] = cells[col]
			} else {
				row.Values[header] = ""
			}
		}
		rows = append(rows, row)
	}

	s.logger.Debug("read rows", "count", len(rows))
	return rows, nil
}

// UpdateCells writes mapping into the given row by column name. Columns
// missing from the header row are skipped with a warning.
func (s *Store) UpdateCells(ctx context.Context, rowIndex int, mapping map[string]string) error {
	if rowIndex < models.FirstDataRow {
		return fmt.Errorf("row index must be >= %d, got %d", models.FirstDataRow, rowIndex)
	}

	headers := s.Headers()
	columns := make([]string, 0, len(mapping))
	for col := range mapping {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	var data []*sheetsapi.ValueRange
	for _, col := range columns {
		idx := indexOf(headers, col)
		if idx < 0 {
			s.logger.Warn("column not found in headers", "column", col)
			continue
		}
		data = append(data, &sheetsapi.ValueRange{
			Range:  s.rangeOf(fmt.Sprintf("%s%d", ColumnLetter(idx), rowIndex)),
			Values: [][]interface{}{{mapping[col]}},
		})
	}
	if len(data) == 0 {
		return nil
	}

	req := &sheetsapi.BatchUpdateValuesRequest{
		ValueInputOption: valueInputRaw,
		Data:             data,
	}
	err := s.call(ctx, "sheets_batch_update", func(ctx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update row %d: %w", rowIndex, err)
	}

	s.logger.Info("updated cells", "row", rowIndex, "count", len(data))
	return nil
}

// FindRowByColumnValue returns the first data row whose cell in column
// equals value exactly, or 0 when there is none.
func (s *Store) FindRowByColumnValue(ctx context.Context, column, value string) (int, error) {
	idx := indexOf(s.Headers(), column)
	if idx < 0 {
		s.logger.Warn("column not found in headers", "column", column)
		return 0, nil
	}

	letter := ColumnLetter(idx)
	values, err := s.getValues(ctx, s.rangeOf(letter+":"+letter))
	if err != nil {
		return 0, fmt.Errorf("failed to read column %s: %w", column, err)
	}

	for i := models.HeaderRow; i < len(values); i++ {
		cells := cellStrings(values[i])
		if len(cells) > 0 && cells[0] == value {
			return i + 1, nil
		}
	}
	return 0, nil
}

func (s *Store) getValues(ctx context.Context, a1 string) ([][]interface{}, error) {
	var resp *sheetsapi.ValueRange
	err := s.call(ctx, "sheets_get", func(ctx context.Context) error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// call retries transient Sheets API failures. Client errors other than
// rate limiting fail immediately.
func (s *Store) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.policy, op, func(ctx context.Context) error {
		err := fn(ctx)
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	})
}

func (s *Store) rangeOf(cells string) string {
	return quoteSheet(s.worksheet) + "!" + cells
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// ColumnLetter converts a zero-based column index to A1 letters (0 -> A,
// 26 -> AA).
func ColumnLetter(idx int) string {
	var letters []byte
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		letters = append([]byte{byte('A' + (n-1)%26)}, letters...)
	}
	return string(letters)
}

func cellStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}

func indexOf(headers []string, column string) int {
	for i, h := range headers {
		if h == column {
			return i
		}
	}
	return -1
}
