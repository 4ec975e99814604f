// Command edgesync aligns wheel-encoder containers with motion-tracker
// exports and writes merged tables plus a batch report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ahmedessabar/Sync/internal/config"
	"github.com/ahmedessabar/Sync/internal/db"
	"github.com/ahmedessabar/Sync/internal/fsutil"
	"github.com/ahmedessabar/Sync/internal/pipeline"
	"github.com/ahmedessabar/Sync/internal/report"
	"github.com/ahmedessabar/Sync/internal/units"
	"github.com/ahmedessabar/Sync/internal/version"
)

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: edgesync <command> [flags]

Commands:
  run       Synchronise every motion/encoder pair in two directories
  pair      Synchronise a single motion file with one encoder group
  migrate   Manage the run log database schema
  version   Print build information
`)
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runBatch(ctx, args, os.Stdout)
	case "pair":
		err = runPair(ctx, args, os.Stdout)
	case "migrate":
		err = runMigrate(args, os.Stdout)
	case "version", "-version", "--version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		usage(os.Stderr)
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

// runFlags are the flags of the run command.
type runFlags struct {
	motionDir  string
	encoderDir string
	outDir     string
	configPath string
	dbPath     string
	workers    int
	plot       bool
	html       bool
	speedUnit  string
}

func newRunFlags(fs *flag.FlagSet) *runFlags {
	f := &runFlags{}
	fs.StringVar(&f.motionDir, "motion-dir", "", "Directory of motion exports (<base>_<group>.txt)")
	fs.StringVar(&f.encoderDir, "encoder-dir", "", "Directory of encoder containers (<base>.json)")
	fs.StringVar(&f.outDir, "out", "", "Output directory")
	fs.StringVar(&f.configPath, "config", "", "Tuning config JSON (defaults apply when omitted)")
	fs.StringVar(&f.dbPath, "db", "", "SQLite run log; empty disables it")
	fs.IntVar(&f.workers, "workers", 0, "Pairs processed in parallel; 0 uses the config value")
	fs.BoolVar(&f.plot, "plot", false, "Write <name>_sync.png verification plots")
	fs.BoolVar(&f.html, "html", false, "Write Batch_Report.html")
	fs.StringVar(&f.speedUnit, "speed-unit", units.KMPH, "Speed plot unit: "+strings.Join(units.ValidUnits, ", "))
	return f
}

func runBatch(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	f := newRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.motionDir == "" || f.encoderDir == "" || f.outDir == "" {
		fs.Usage()
		return fmt.Errorf("-motion-dir, -encoder-dir and -out are required")
	}
	if !units.IsValid(f.speedUnit) {
		return fmt.Errorf("invalid -speed-unit %q", f.speedUnit)
	}

	tuning, err := loadTuning(f.configPath)
	if err != nil {
		return err
	}
	cfg := pipeline.ConfigFromTuning(tuning)
	if f.workers > 0 {
		cfg.Workers = f.workers
	}

	opts := reportOptions(cfg, f.plot, f.html)
	opts.SpeedUnit = f.speedUnit
	w := report.NewWriter(nil, f.outDir, opts)
	proc := pipeline.NewProcessor(cfg, nil, w)

	pairs, err := pipeline.DiscoverPairs(fsutil.OSFileSystem{}, f.motionDir, f.encoderDir)
	if err != nil {
		return err
	}
	log.Printf("%s: %d motion files in %s", version.String(), len(pairs), f.motionDir)

	batch, runErr := proc.RunBatch(ctx, pairs)
	finished := time.Now()

	csvPath, err := w.WriteBatch(batch)
	if err != nil {
		return fmt.Errorf("write batch report: %w", err)
	}

	if f.dbPath != "" {
		confJSON, err := json.Marshal(tuning)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		if err := storeRun(f.dbPath, batch, db.RunMeta{
			MotionDir:  f.motionDir,
			EncoderDir: f.encoderDir,
			OutputDir:  f.outDir,
			ConfigJSON: string(confJSON),
			FinishedAt: finished,
		}); err != nil {
			return err
		}
	}

	printSummary(stdout, batch, csvPath)
	return runErr
}

func storeRun(path string, batch *pipeline.Log, meta db.RunMeta) error {
	database, err := db.NewDB(path)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer database.Close()
	return database.RecordRun(batch, meta)
}

// pairFlags are the flags of the pair command.
type pairFlags struct {
	motionPath  string
	encoderPath string
	group       string
	outDir      string
	configPath  string
	plot        bool
}

func newPairFlags(fs *flag.FlagSet) *pairFlags {
	f := &pairFlags{}
	fs.StringVar(&f.motionPath, "motion", "", "Motion export (.txt)")
	fs.StringVar(&f.encoderPath, "encoder", "", "Encoder container (.json)")
	fs.StringVar(&f.group, "group", "", "Encoder group name")
	fs.StringVar(&f.outDir, "out", "", "Output directory")
	fs.StringVar(&f.configPath, "config", "", "Tuning config JSON")
	fs.BoolVar(&f.plot, "plot", false, "Write verification plots")
	return f
}

func runPair(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	f := newPairFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.motionPath == "" || f.encoderPath == "" || f.group == "" || f.outDir == "" {
		fs.Usage()
		return fmt.Errorf("-motion, -encoder, -group and -out are required")
	}

	tuning, err := loadTuning(f.configPath)
	if err != nil {
		return err
	}
	cfg := pipeline.ConfigFromTuning(tuning)
	w := report.NewWriter(nil, f.outDir, reportOptions(cfg, f.plot, false))
	proc := pipeline.NewProcessor(cfg, nil, w)

	rec := proc.ProcessPair(ctx, pipeline.Pair{
		Name:        filepath.Base(f.motionPath),
		MotionPath:  f.motionPath,
		EncoderPath: f.encoderPath,
		Group:       f.group,
	})
	fmt.Fprintf(stdout, "%s [%s]: %s", rec.FileName, rec.Group, rec.Status)
	if rec.Strategy != "" {
		fmt.Fprintf(stdout, " via %s", rec.Strategy)
	}
	fmt.Fprintln(stdout)
	if !rec.OK() {
		return fmt.Errorf("%s: %s", rec.Status, rec.Detail)
	}
	fmt.Fprintf(stdout, "  %s\n  %d rows -> %s\n", rec.Estimate, rec.MergedRows, rec.OutputPath)
	return nil
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "edgesync.db", "SQLite run log")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	return db.RunMigrateCommand(positional, *dbPath, stdout)
}

// parseInterspersed parses flags that may appear before, between or after
// positional arguments and returns the positional ones in order.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func reportOptions(cfg pipeline.Config, plot, html bool) report.Options {
	opts := report.DefaultOptions()
	opts.Plot = plot
	opts.HTML = html
	opts.MotionAccelChannel = cfg.MotionAccelChannel
	opts.DonorPrefix = cfg.Merge.DonorPrefix
	return opts
}

func printSummary(w io.Writer, batch *pipeline.Log, csvPath string) {
	counts := batch.Counts()
	fmt.Fprintf(w, "Run %s: %d pairs\n", batch.RunID, batch.Len())
	for _, s := range []pipeline.Status{
		pipeline.StatusSuccess,
		pipeline.StatusMissingFile,
		pipeline.StatusLoadError,
		pipeline.StatusLengthMismatch,
		pipeline.StatusSyncFailed,
		pipeline.StatusMergeException,
		pipeline.StatusSkipped,
	} {
		if n := counts[s]; n > 0 {
			fmt.Fprintf(w, "  %-22s %d\n", s, n)
		}
	}
	fmt.Fprintf(w, "Report: %s\n", csvPath)
}
