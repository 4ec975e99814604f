package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmedessabar/Sync/internal/db"
	"github.com/ahmedessabar/Sync/internal/monitoring"
	"github.com/ahmedessabar/Sync/internal/pipeline"
	"github.com/ahmedessabar/Sync/internal/report"
	"github.com/ahmedessabar/Sync/internal/testutil"
)

var encStart = time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC)

// writePair lays out one synchronisable pair on disk.
func writePair(t *testing.T, motionDir, encoderDir, base, group string) string {
	t.Helper()
	motionStart := encStart.Add(1234 * time.Millisecond)
	export := testutil.MotionExport(motionStart, 700, 100, map[string]func(float64) float64{
		"Vel_N": func(float64) float64 { return 5 },
	})
	path := testutil.WriteFile(t, motionDir, base+"_"+group+".txt", []byte(export))
	testutil.WriteFile(t, encoderDir, base+".json", testutil.EncoderJSON(t, testutil.EncoderGroup{
		Name:   group,
		Start:  encStart,
		RateHz: 400,
		Counts: testutil.Ramp(4000, 1),
	}))
	return path
}

func TestRunFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	f := newRunFlags(fs)
	require.NoError(t, fs.Parse(nil))
	assert.Empty(t, f.dbPath, "the run log is opt-in")
	assert.Zero(t, f.workers)
	assert.False(t, f.plot)
	assert.False(t, f.html)
	assert.Equal(t, "kmph", f.speedUnit)

	require.NoError(t, fs.Parse([]string{"-motion-dir", "m", "-encoder-dir", "e", "-out", "o", "-workers", "3", "-plot", "-html"}))
	assert.Equal(t, "m", f.motionDir)
	assert.Equal(t, "e", f.encoderDir)
	assert.Equal(t, "o", f.outDir)
	assert.Equal(t, 3, f.workers)
	assert.True(t, f.plot)
	assert.True(t, f.html)
}

func TestParseInterspersed(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantPos []string
		wantDB  string
	}{
		{"flag after action", []string{"up", "-db", "a.db"}, []string{"up"}, "a.db"},
		{"flag before action", []string{"-db", "b.db", "status"}, []string{"status"}, "b.db"},
		{"flag between", []string{"version", "-db", "c.db", "2"}, []string{"version", "2"}, "c.db"},
		{"no flags", []string{"help"}, []string{"help"}, "default.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
			dbPath := fs.String("db", "default.db", "")
			pos, err := parseInterspersed(fs, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPos, pos)
			assert.Equal(t, tt.wantDB, *dbPath)
		})
	}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := parseInterspersed(fs, []string{"up", "-bogus"})
	assert.Error(t, err)
}

func TestRunBatchRequiresDirs(t *testing.T) {
	var out bytes.Buffer
	err := runBatch(context.Background(), []string{"-out", t.TempDir()}, &out)
	assert.Error(t, err)

	dir := t.TempDir()
	err = runBatch(context.Background(), []string{"-motion-dir", dir, "-encoder-dir", dir, "-out", dir, "-speed-unit", "knots"}, &out)
	assert.ErrorContains(t, err, "speed-unit")
}

func TestRunBatchEndToEnd(t *testing.T) {
	defer monitoring.Mute()()
	root := t.TempDir()
	motionDir := filepath.Join(root, "motion")
	encoderDir := filepath.Join(root, "encoder")
	outDir := filepath.Join(root, "out")
	dbPath := filepath.Join(root, "runs.db")

	writePair(t, motionDir, encoderDir, "run_80", "P1")
	testutil.WriteFile(t, motionDir, "notes.txt", []byte("not a pair"))

	var out bytes.Buffer
	err := runBatch(context.Background(), []string{
		"-motion-dir", motionDir,
		"-encoder-dir", encoderDir,
		"-out", outDir,
		"-db", dbPath,
		"-workers", "2",
		"-html",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2 pairs")

	for _, name := range []string{"run_80_P1_merged.csv", report.BatchReportCSV, report.BatchReportHTML} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}

	database, err := db.OpenDB(dbPath)
	require.NoError(t, err)
	defer database.Close()
	runs, err := database.Runs(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Pairs)
	assert.Equal(t, 1, runs[0].Succeeded)

	counts, err := database.StatusCounts(runs[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[pipeline.StatusSkipped])
}

func TestRunPair(t *testing.T) {
	defer monitoring.Mute()()
	root := t.TempDir()
	motionPath := writePair(t, filepath.Join(root, "m"), filepath.Join(root, "e"), "run_80", "P1")
	outDir := filepath.Join(root, "out")

	var out bytes.Buffer
	err := runPair(context.Background(), []string{
		"-motion", motionPath,
		"-encoder", filepath.Join(root, "e", "run_80.json"),
		"-group", "P1",
		"-out", outDir,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Success via Metadata")
	_, err = os.Stat(filepath.Join(outDir, "run_80_P1_merged.csv"))
	assert.NoError(t, err)

	out.Reset()
	err = runPair(context.Background(), []string{
		"-motion", motionPath,
		"-encoder", filepath.Join(root, "e", "run_80.json"),
		"-group", "P9",
		"-out", outDir,
	}, &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), string(pipeline.StatusLoadError))
}

func TestRunMigrate(t *testing.T) {
	defer monitoring.Mute()()
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	var out bytes.Buffer
	require.NoError(t, runMigrate([]string{"up", "-db", dbPath}, &out))
	assert.Contains(t, out.String(), "All migrations applied")

	out.Reset()
	require.NoError(t, runMigrate([]string{"status", "-db", dbPath}, &out))
	assert.NotContains(t, out.String(), "Outstanding migrations")
}
