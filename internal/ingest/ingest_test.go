package ingest

import (
	"context"
	"os"
	"path/filepath"
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

func strp(s string) *string { return &s }

func registerLog(t *testing.T, store *storage.Store, externalRunID, logFile string) {
	t.Helper()
	_, err := store.UpsertRegistryEntries(context.Background(), []lab.RegistryEntry{{
		ExternalRunID:   externalRunID,
		SourceFile:      "registry.csv",
		SourceRowNumber: 2,
		LogFileRef:      strp(logFile),
	}})
	require.NoError(t, err)
}

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testParams() Params {
	return Params{
		DeviceID:     "esp32-01",
		DiaperType:   "brand-a",
		SensorLayout: "front/back",
	}
}

func TestLogsIngestsCSV(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	registerLog(t, store, "R-001", "run1.csv")
	path := writeLog(t, t.TempDir(), "run1.csv",
		"t_elapsed_s,temp_c,rh_pct,timestamp\n"+
			"0,25.0,50.0,2026-02-03T13:37:48\n"+
			"10,25.2,51.0,2026-02-03T13:37:58\n"+
			"20,25.4,52.0,2026-02-03T13:38:08\n")

	runIDs, err := Logs(ctx, store, []string{path}, testParams())
	require.NoError(t, err)
	require.Len(t, runIDs, 1)

	run, err := store.Run(ctx, runIDs[0])
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "R-001", run.ExternalRunID.String)
	assert.Equal(t, "run1.csv", run.FileName.String)
	assert.Equal(t, "esp32-01", run.DeviceID)
	assert.Equal(t, "2026-02-03T13:37:48+01:00", run.StartTS.String)
	assert.Equal(t, "2026-02-03T13:38:08+01:00", run.EndTS.String)
	assert.Equal(t, 10.0, run.SamplingIntervalS.Float64)

	n, err := store.CountReadings(ctx, runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	entry, err := store.RegistryEntry(ctx, "R-001")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.True(t, entry.RunID.Valid)
	assert.Equal(t, runIDs[0], entry.RunID.Int64)
}

func TestLogsIngestsFreeTextLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	registerLog(t, store, "R-002", "device.log")
	path := writeLog(t, t.TempDir(), "device.log",
		"boot tz(4) firmware 1.2\n"+
			"temp_humid_sample: 2026-02-03 13:37:48, temp: 25.0, humid: 50.0%\n"+
			"heartbeat ok\n"+
			"temp_humid_sample: 2026-02-03 13:38:18, temp: 25.3, humid: 52.5%\n")

	runIDs, err := Logs(ctx, store, []string{path}, testParams())
	require.NoError(t, err)
	require.Len(t, runIDs, 1)

	run, err := store.Run(ctx, runIDs[0])
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "2026-02-03T13:37:48+01:00", run.StartTS.String)
	assert.Equal(t, "2026-02-03T13:38:18+01:00", run.EndTS.String)
	assert.Equal(t, 30.0, run.SamplingIntervalS.Float64)
}

func TestLogsNoRegistryMatch(t *testing.T) {
	store := newTestStore(t)
	path := writeLog(t, t.TempDir(), "unknown.csv",
		"t_elapsed_s,temp_c,rh_pct\n0,25.0,50.0\n")

	_, err := Logs(context.Background(), store, []string{path}, testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no run_registry entry matches log file "unknown.csv"`)
}

func TestLogsAlreadyLinked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	registerLog(t, store, "R-001", "run1.csv")
	path := writeLog(t, t.TempDir(), "run1.csv",
		"t_elapsed_s,temp_c,rh_pct\n0,25.0,50.0\n10,25.1,51.0\n")

	_, err := Logs(ctx, store, []string{path}, testParams())
	require.NoError(t, err)

	_, err = Logs(ctx, store, []string{path}, testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already linked")
}

func TestLogsEmptyLog(t *testing.T) {
	store := newTestStore(t)

	registerLog(t, store, "R-001", "run1.csv")
	path := writeLog(t, t.TempDir(), "run1.csv", "t_elapsed_s,temp_c,rh_pct\n")

	_, err := Logs(context.Background(), store, []string{path}, testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no readings parsed")
}

func TestLogsParseFailureAborts(t *testing.T) {
	store := newTestStore(t)

	registerLog(t, store, "R-001", "run1.csv")
	path := writeLog(t, t.TempDir(), "run1.csv", "temp_c,rh_pct\n25.0,50.0\n")

	_, err := Logs(context.Background(), store, []string{path}, testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns")
}

func TestLogsEarlierFilesStayCommitted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	registerLog(t, store, "R-001", "run1.csv")
	good := writeLog(t, dir, "run1.csv",
		"t_elapsed_s,temp_c,rh_pct\n0,25.0,50.0\n10,25.1,51.0\n")
	bad := writeLog(t, dir, "run2.csv",
		"t_elapsed_s,temp_c,rh_pct\n0,24.0,48.0\n")

	_, err := Logs(ctx, store, []string{good, bad}, testParams())
	require.Error(t, err)

	// The first file went through in its own transaction and stays.
	entry, err := store.RegistryEntry(ctx, "R-001")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.True(t, entry.RunID.Valid)

	n, err := store.CountReadings(ctx, entry.RunID.Int64)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLogsAppliesDefaultTimezone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	registerLog(t, store, "R-001", "run1.csv")
	path := writeLog(t, t.TempDir(), "run1.csv",
		"t_elapsed_s,temp_c,rh_pct,timestamp\n"+
			"0,25.0,50.0,2026-02-03T13:37:48\n"+
			"10,25.2,51.0,2026-02-03T13:37:58\n")

	params := testParams()
	params.DefaultTZ = "UTC"

	runIDs, err := Logs(ctx, store, []string{path}, params)
	require.NoError(t, err)
	require.Len(t, runIDs, 1)

	run, err := store.Run(ctx, runIDs[0])
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "2026-02-03T13:37:48+00:00", run.StartTS.String)
}
