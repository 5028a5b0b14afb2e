// ABOUTME: Tests for the in-process spreadsheet store
// ABOUTME: Checks row addressing, header filtering and update history
package sheets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/leadbridge/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultHeaders(),
		map[string]string{models.ColName: "Ivan"},
		map[string]string{models.ColName: "Olga", models.ColAmoDealID: "77"},
	)

	rows, err := store.ReadAllRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Index)
	assert.Equal(t, "", rows[0].Values[models.ColPhone])

	row, err := store.FindRowByColumnValue(ctx, models.ColAmoDealID, "77")
	require.NoError(t, err)
	assert.Equal(t, 3, row)

	require.NoError(t, store.UpdateCells(ctx, 2, map[string]string{models.ColStatus: "Новая", "bogus": "x"}))
	assert.Equal(t, "Новая", store.Row(2)[models.ColStatus])
	assert.NotContains(t, store.Row(2), "bogus")

	updates := store.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, Update{Row: 2, Mapping: map[string]string{models.ColStatus: "Новая"}}, updates[0])
}

func TestMemoryStoreRejectsHeaderRow(t *testing.T) {
	store := NewMemoryStore(DefaultHeaders())
	assert.Error(t, store.UpdateCells(context.Background(), 1, map[string]string{models.ColName: "x"}))
	assert.Nil(t, store.Row(1))
}

func TestMemoryStoreGrowsForNewRows(t *testing.T) {
	store := NewMemoryStore(DefaultHeaders())
	require.NoError(t, store.UpdateCells(context.Background(), 4, map[string]string{models.ColName: "Late"}))

	rows, err := store.ReadAllRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Late", rows[2].Get(models.ColName))
}
