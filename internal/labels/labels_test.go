package labels

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunalabs/testbench/internal/lab"
	"github.com/lunalabs/testbench/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func newTestRun(t *testing.T, store *storage.Store) int64 {
	t.Helper()

	runID, err := store.CreateRun(context.Background(), lab.RunMetadata{
		DeviceID:     "esp32-01",
		DiaperType:   "brand-a",
		SensorLayout: "single",
	})
	require.NoError(t, err)
	return runID
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportCSVWithDefaultRunID(t *testing.T) {
	store := newTestStore(t)
	runID := newTestRun(t, store)
	path := writeFile(t,
		"event_type,event_time_s,volume_ml,location_label,notes\n"+
			"insult,120,80,front,first insult\n"+
			"leak,450,,,\n")

	count, err := ImportCSV(context.Background(), store, path, &runID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := store.CountLabels(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestImportCSVRowRunIDWinsOverDefault(t *testing.T) {
	store := newTestStore(t)
	defaultRun := newTestRun(t, store)
	otherRun := newTestRun(t, store)
	path := writeFile(t,
		"run_id,event_type,event_time_s\n"+
			",insult,120\n"+
			strconv.FormatInt(otherRun, 10)+",insult,240\n")

	count, err := ImportCSV(context.Background(), store, path, &defaultRun, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := store.CountLabels(context.Background(), defaultRun)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.CountLabels(context.Background(), otherRun)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestImportCSVRunIDMissing(t *testing.T) {
	store := newTestStore(t)
	path := writeFile(t,
		"event_type,event_time_s\n"+
			"insult,120\n")

	_, err := ImportCSV(context.Background(), store, path, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_id missing")
}

func TestImportCSVRequiredColumns(t *testing.T) {
	store := newTestStore(t)
	runID := newTestRun(t, store)
	path := writeFile(t,
		"event_type,volume_ml\n"+
			"insult,80\n")

	_, err := ImportCSV(context.Background(), store, path, &runID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires event_type and event_time_s columns")
}

func TestImportCSVEmptyFile(t *testing.T) {
	store := newTestStore(t)
	runID := newTestRun(t, store)
	path := writeFile(t, "event_type,event_time_s\n")

	_, err := ImportCSV(context.Background(), store, path, &runID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no labels parsed")
}

func TestImportCSVMissingHeaderRow(t *testing.T) {
	store := newTestStore(t)
	runID := newTestRun(t, store)
	path := writeFile(t, "")

	_, err := ImportCSV(context.Background(), store, path, &runID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header row")
}

func TestImportCSVInvalidNumericField(t *testing.T) {
	store := newTestStore(t)
	runID := newTestRun(t, store)
	path := writeFile(t,
		"event_type,event_time_s,volume_ml\n"+
			"insult,120,lots\n")

	_, err := ImportCSV(context.Background(), store, path, &runID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid volume_ml value")
}

func TestImportCSVEmptyEventType(t *testing.T) {
	store := newTestStore(t)
	runID := newTestRun(t, store)
	path := writeFile(t,
		"event_type,event_time_s\n"+
			" ,120\n")

	_, err := ImportCSV(context.Background(), store, path, &runID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty event_type value")
}
