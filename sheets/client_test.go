// ABOUTME: Tests for the Google Sheets store against a fake Sheets API
// ABOUTME: Covers header caching, row padding, A1 writes and column lookups
package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/harperreed/leadbridge/models"
	"github.com/harperreed/leadbridge/retry"
)

// fakeSheet serves the subset of the Sheets v4 values API the store uses.
type fakeSheet struct {
	mu       sync.Mutex
	grid     [][]string
	gets     []string
	failures int
	batches  []sheetsapi.BatchUpdateValuesRequest
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if strings.HasSuffix(r.URL.Path, "values:batchUpdate") {
		var req sheetsapi.BatchUpdateValuesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.batches = append(f.batches, req)
		for _, vr := range req.Data {
			col, row := parseA1Cell(vr.Range)
			for len(f.grid) < row {
				f.grid = append(f.grid, nil)
			}
			for len(f.grid[row-1]) <= col {
				f.grid[row-1] = append(f.grid[row-1], "")
			}
			f.grid[row-1][col] = vr.Values[0][0].(string)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"totalUpdatedCells": len(req.Data)})
		return
	}

	idx := strings.Index(r.URL.Path, "/values/")
	if idx < 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	a1 := r.URL.Path[idx+len("/values/"):]
	f.gets = append(f.gets, a1)

	var values [][]string
	_, cells, hasCells := strings.Cut(a1, "!")
	switch {
	case !hasCells:
		values = f.grid
	case cells == "1:1":
		if len(f.grid) > 0 {
			values = f.grid[:1]
		}
	default:
		letter, _, _ := strings.Cut(cells, ":")
		col, _ := parseA1Cell("x!" + letter + "1")
		for _, row := range f.grid {
			if col < len(row) {
				values = append(values, []string{row[col]})
			} else {
				values = append(values, []string{})
			}
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"range": a1, "values": values})
}

func (f *fakeSheet) getRanges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.gets...)
}

func (f *fakeSheet) batchRequests() []sheetsapi.BatchUpdateValuesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sheetsapi.BatchUpdateValuesRequest(nil), f.batches...)
}

func (f *fakeSheet) cell(row, col int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grid[row][col]
}

func parseA1Cell(a1 string) (col, row int) {
	_, cell, _ := strings.Cut(a1, "!")
	i := 0
	col = 0
	for i < len(cell) && cell[i] >= 'A' && cell[i] <= 'Z' {
		col = col*26 + int(cell[i]-'A'+1)
		i++
	}
	for ; i < len(cell); i++ {
		row = row*10 + int(cell[i]-'0')
	}
	return col - 1, row
}

func setupStore(t *testing.T, grid [][]string) (*Store, *fakeSheet) {
	t.Helper()
	fake := &fakeSheet{grid: grid}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := Open(context.Background(), Options{
		SpreadsheetID: "sheet-1",
		Worksheet:     "Лист1",
		Retry:         retry.Policy{Attempts: 3},
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithHTTPClient(srv.Client()),
		},
	}, nil)
	require.NoError(t, err)
	return store, fake
}

func TestOpenLoadsHeaders(t *testing.T) {
	store, fake := setupStore(t, [][]string{{"name", "phone", "amo_deal_id"}})

	assert.Equal(t, []string{"name", "phone", "amo_deal_id"}, store.Headers())
	assert.Equal(t, []string{"'Лист1'!1:1"}, fake.getRanges())
}

func TestOpenRequiresSpreadsheetID(t *testing.T) {
	_, err := Open(context.Background(), Options{Worksheet: "Лист1"}, nil)
	assert.Error(t, err)
}

func TestReadAllRowsPadsShortRows(t *testing.T) {
	store, _ := setupStore(t, [][]string{
		{"name", "phone", "amo_deal_id"},
		{"Ivan", "+79991234567", "100"},
		{"Olga"},
	})

	rows, err := store.ReadAllRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 2, rows[0].Index)
	assert.Equal(t, int64(100), rows[0].DealID())
	assert.Equal(t, 3, rows[1].Index)
	assert.Equal(t, map[string]string{"name": "Olga", "phone": "", "amo_deal_id": ""}, rows[1].Values)
}

func TestReadAllRowsEmptySheet(t *testing.T) {
	store, _ := setupStore(t, nil)

	rows, err := store.ReadAllRows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdateCellsWritesKnownColumns(t *testing.T) {
	store, fake := setupStore(t, [][]string{
		{"name", "phone", "amo_deal_id", "status"},
		{"Ivan", "", "", ""},
	})

	err := store.UpdateCells(context.Background(), 2, map[string]string{
		models.ColAmoDealID: "555",
		models.ColStatus:    "Новая",
		"unknown":           "ignored",
	})
	require.NoError(t, err)

	batches := fake.batchRequests()
	require.Len(t, batches, 1)
	assert.Equal(t, "RAW", batches[0].ValueInputOption)
	require.Len(t, batches[0].Data, 2)
	assert.Equal(t, "'Лист1'!C2", batches[0].Data[0].Range)
	assert.Equal(t, "'Лист1'!D2", batches[0].Data[1].Range)
	assert.Equal(t, "555", fake.cell(1, 2))
	assert.Equal(t, "Новая", fake.cell(1, 3))
}

func TestUpdateCellsRejectsHeaderRow(t *testing.T) {
	store, fake := setupStore(t, [][]string{{"name"}})

	err := store.UpdateCells(context.Background(), 1, map[string]string{"name": "x"})
	assert.Error(t, err)
	assert.Empty(t, fake.batchRequests())
}

func TestFindRowByColumnValue(t *testing.T) {
	store, _ := setupStore(t, [][]string{
		{"name", "amo_deal_id"},
		{"Ivan", "100"},
		{"Olga"},
		{"Petr", "300"},
	})

	row, err := store.FindRowByColumnValue(context.Background(), models.ColAmoDealID, "300")
	require.NoError(t, err)
	assert.Equal(t, 4, row)

	row, err = store.FindRowByColumnValue(context.Background(), models.ColAmoDealID, "999")
	require.NoError(t, err)
	assert.Zero(t, row)

	row, err = store.FindRowByColumnValue(context.Background(), models.ColExternalID, "abc")
	require.NoError(t, err)
	assert.Zero(t, row)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	store, fake := setupStore(t, [][]string{{"name"}, {"Ivan"}})
	fake.mu.Lock()
	fake.failures = 2
	fake.mu.Unlock()

	rows, err := store.ReadAllRows(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{0: "A", 8: "I", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for idx, expected := range tests {
		assert.Equal(t, expected, ColumnLetter(idx), "index %d", idx)
	}
}
