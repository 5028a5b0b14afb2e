// ABOUTME: In-process spreadsheet store
// ABOUTME: Mirrors the worksheet semantics of Store for local runs and tests
package sheets

import (
	"context"
	"fmt"
	"sync"

	"github.com/harperreed/leadbridge/models"
)

// Update is one UpdateCells call recorded by MemoryStore.
type Update struct {
	Row     int
	Mapping map[string]string
}

type MemoryStore struct {
	mu      sync.Mutex
	headers []string
	rows    []map[string]string
	updates []Update
}

// NewMemoryStore creates a sheet with the given header row and data rows
// starting at row 2.
func NewMemoryStore(headers []string, rows ...map[string]string) *MemoryStore {
	m := &MemoryStore{headers: append([]string(nil), headers...)}
	for _, r := range rows {
		m.rows = append(m.rows, copyMap(r))
	}
	return m
}

// DefaultHeaders is the column layout the sync writes to.
func DefaultHeaders() []string {
	return []string{
		models.ColName,
		models.ColPhone,
		models.ColEmail,
		models.ColBudget,
		models.ColAmoDealID,
		models.ColAmoContactID,
		models.ColAmoLink,
		models.ColStatus,
		models.ColExternalID,
	}
}

func (m *MemoryStore) Headers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.headers...)
}

func (m *MemoryStore) ReadAllRows(_ context.Context) ([]models.SheetRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.SheetRow, 0, len(m.rows))
	for i, r := range m.rows {
		row := models.SheetRow{Index: models.FirstDataRow + i, Values: make(map[string]string, len(m.headers))}
		for _, h := range m.headers {
			row.Values[h] = r[h]
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *MemoryStore) UpdateCells(_ context.Context, rowIndex int, mapping map[string]string) error {
	if rowIndex < models.FirstDataRow {
		return fmt.Errorf("row index must be >= %d, got %d", models.FirstDataRow, rowIndex)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.rows) < rowIndex-1 {
		m.rows = append(m.rows, map[string]string{})
	}
	row := m.rows[rowIndex-models.FirstDataRow]
	applied := make(map[string]string, len(mapping))
	for col, v := range mapping {
		if indexOf(m.headers, col) < 0 {
			continue
		}
		row[col] = v
		applied[col] = v
	}
	m.updates = append(m.updates, Update{Row: rowIndex, Mapping: applied})
	return nil
}

func (m *MemoryStore) FindRowByColumnValue(_ context.Context, column, value string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if indexOf(m.headers, column) < 0 {
		return 0, nil
	}
	for i, r := range m.rows {
		if r[column] == value {
			return models.FirstDataRow + i, nil
		}
	}
	return 0, nil
}

// Row returns a copy of the values in rowIndex.
func (m *MemoryStore) Row(rowIndex int) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := rowIndex - models.FirstDataRow
	if i < 0 || i >= len(m.rows) {
		return nil
	}
	return copyMap(m.rows[i])
}

// Updates returns every recorded UpdateCells call in order.
func (m *MemoryStore) Updates() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Update(nil), m.updates...)
}

func copyMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
