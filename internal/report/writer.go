package report

import (
	"fmt"
	"io"

	"github.com/ahmedessabar/Sync/internal/encoder"
	"github.com/ahmedessabar/Sync/internal/fsutil"
	"github.com/ahmedessabar/Sync/internal/merge"
	"github.com/ahmedessabar/Sync/internal/monitoring"
	"github.com/ahmedessabar/Sync/internal/motion"
	"github.com/ahmedessabar/Sync/internal/pipeline"
	"github.com/ahmedessabar/Sync/internal/security"
	"github.com/ahmedessabar/Sync/internal/units"
)

// Output file names.
const (
	BatchReportCSV  = "Batch_Report.csv"
	BatchReportHTML = "Batch_Report.html"
	mergedSuffix    = "_merged.csv"
	syncPlotSuffix  = "_sync.png"
	speedPlotSuffix = "_speed.png"
)

// Options selects the optional outputs of a Writer.
type Options struct {
	// Plot writes <name>_sync.png and <name>_speed.png next to each merged table.
	Plot bool
	// HTML writes Batch_Report.html alongside the batch CSV.
	HTML bool
	// MotionAccelChannel is the motion column overlaid on the encoder
	// acceleration in the sync plot.
	MotionAccelChannel string
	// DonorPrefix is the column prefix of encoder channels in merged tables.
	DonorPrefix string
	// SpeedUnit is the unit of the speed plot.
	SpeedUnit string
	// AssetsHost overrides the echarts script host.
	AssetsHost string
}

// DefaultOptions returns CSV-only output with the default channel names.
func DefaultOptions() Options {
	return Options{
		MotionAccelChannel: "Acc_X",
		DonorPrefix:        merge.DefaultConfig().DonorPrefix,
		SpeedUnit:          units.KMPH,
	}
}

// Writer writes report files into one output directory. It implements
// pipeline.Sink and is safe for concurrent use by batch workers.
type Writer struct {
	fs     fsutil.FileSystem
	outDir string
	opts   Options
}

var _ pipeline.Sink = (*Writer)(nil)

// NewWriter returns a Writer rooted at outDir. A nil fsys writes to disk.
func NewWriter(fsys fsutil.FileSystem, outDir string, opts Options) *Writer {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Writer{fs: fsys, outDir: outDir, opts: opts}
}

// OutDir returns the output directory.
func (w *Writer) OutDir() string { return w.outDir }

// WriteMerged writes <name>_merged.csv and, when enabled, the verification
// plots. Plot failures are logged and do not fail the pair.
func (w *Writer) WriteMerged(name string, m *merge.Merged) (string, error) {
	path, err := w.create(name+mergedSuffix, func(out io.Writer) error {
		return WriteMergedCSV(out, m)
	})
	if err != nil {
		return "", err
	}
	if w.opts.Plot {
		w.plots(name, m)
	}
	return path, nil
}

func (w *Writer) plots(name string, m *merge.Merged) {
	_, err := w.create(name+syncPlotSuffix, func(out io.Writer) error {
		return WriteSyncPlot(out, m, name, w.opts.MotionAccelChannel, w.opts.DonorPrefix+encoder.AccelChannel)
	})
	if err != nil {
		monitoring.Logf("[report] %s: sync plot skipped: %v", name, err)
	}
	_, err = w.create(name+speedPlotSuffix, func(out io.Writer) error {
		return WriteSpeedPlot(out, m, name, w.opts.SpeedUnit, motion.SpeedChannel, w.opts.DonorPrefix+encoder.SpeedChannel)
	})
	if err != nil {
		monitoring.Logf("[report] %s: speed plot skipped: %v", name, err)
	}
}

// WriteBatch writes Batch_Report.csv and, when enabled, Batch_Report.html.
// It returns the CSV path.
func (w *Writer) WriteBatch(l *pipeline.Log) (string, error) {
	records := l.Records()
	path, err := w.create(BatchReportCSV, func(out io.Writer) error {
		return WriteBatchReport(out, records)
	})
	if err != nil {
		return "", err
	}
	if w.opts.HTML {
		if _, err := w.create(BatchReportHTML, func(out io.Writer) error {
			return WriteBatchHTML(out, l.RunID, records, w.opts.AssetsHost)
		}); err != nil {
			return path, err
		}
	}
	monitoring.Logf("[report] wrote %s (%d records)", path, len(records))
	return path, nil
}

// create writes one file through fn. The file is removed again when fn or
// the final close fails, so no truncated output is left behind.
func (w *Writer) create(name string, fn func(io.Writer) error) (string, error) {
	path, err := security.OutputPath(w.outDir, name)
	if err != nil {
		return "", err
	}
	if err := w.fs.MkdirAll(w.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return "", err
	}
	if err := fn(f); err != nil {
		f.Close()
		w.discard(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		w.discard(path)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) discard(path string) {
	if err := w.fs.Remove(path); err != nil {
		monitoring.Logf("[report] remove partial %s: %v", path, err)
	}
}
