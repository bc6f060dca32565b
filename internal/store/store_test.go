package store_test

import (
	"path/filepath"
	"testing"

	"github.com/mkarlsen/planr/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenPath(filepath.Join(t.TempDir(), "planr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStateRoundTrip(t *testing.T) {
	db := openTestDB(t)

	value, err := db.GetState("company")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, db.SetState("company", "CRONUS"))
	require.NoError(t, db.SetState("company", "CONTOSO"))

	value, err = db.GetState("company")
	require.NoError(t, err)
	assert.Equal(t, "CONTOSO", value)
}

func TestPalettePersistence(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.SavePalette(map[string]int{"PROJ-1": 0, "PROJ-2": 1}))
	// saving again with a different slot must not move an existing project
	require.NoError(t, db.SavePalette(map[string]int{"PROJ-1": 5, "PROJ-3": 2}))

	assignments, err := db.LoadPalette()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"PROJ-1": 0, "PROJ-2": 1, "PROJ-3": 2}, assignments)
}

func TestBatchAudit(t *testing.T) {
	db := openTestDB(t)

	id, err := db.InsertBatch(&store.Batch{
		ProjectNo:    "PROJ-1",
		TaskNo:       "T1",
		ResourceNo:   "R1",
		WeekStart:    "2025-01-06",
		CreatedCount: 2,
		FailedCount:  1,
	}, []store.BatchItem{
		{Operation: "create", Date: "2025-01-06", Status: "ok"},
		{Operation: "create", Date: "2025-01-07", Status: "ok"},
		{Operation: "create", Date: "2025-01-08", Status: "failed", Error: "posting group missing"},
	})
	require.NoError(t, err)

	batches, err := db.RecentBatches(10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "PROJ-1", batches[0].ProjectNo)
	assert.Equal(t, 2, batches[0].CreatedCount)
	assert.Equal(t, 1, batches[0].FailedCount)

	items, err := db.BatchItems(int(id))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "failed", items[2].Status)
	assert.Equal(t, "posting group missing", items[2].Error)
}
