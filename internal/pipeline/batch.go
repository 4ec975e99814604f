package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ahmedessabar/Sync/internal/fsutil"
	"github.com/ahmedessabar/Sync/internal/monitoring"
)

// pairName splits a motion file name into container base and group. The
// group is the last underscore separated token.
var pairName = regexp.MustCompile(`^(.+)_([A-Za-z0-9]+)\.txt$`)

// Pair is one motion file and the encoder container group it belongs to.
type Pair struct {
	Name        string
	MotionPath  string
	EncoderPath string
	Group       string
	// Skip marks motion files whose name could not be split.
	Skip bool
}

// NewPair builds a pair from a motion file path, looking for the container
// in encoderDir.
func NewPair(motionPath, encoderDir string) Pair {
	name := filepath.Base(motionPath)
	p := Pair{Name: name, MotionPath: motionPath}
	m := pairName.FindStringSubmatch(name)
	if m == nil {
		p.Skip = true
		return p
	}
	p.Group = m[2]
	p.EncoderPath = filepath.Join(encoderDir, m[1]+".json")
	return p
}

// DiscoverPairs lists every .txt file in motionDir as a pair. Files whose
// names do not split are returned with Skip set so that they still get a
// record.
func DiscoverPairs(fsys fsutil.FileSystem, motionDir, encoderDir string) ([]Pair, error) {
	names, err := fsys.ReadDir(motionDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list motion directory: %w", err)
	}
	var pairs []Pair
	for _, name := range names {
		if !strings.EqualFold(filepath.Ext(name), ".txt") {
			continue
		}
		pairs = append(pairs, NewPair(filepath.Join(motionDir, name), encoderDir))
	}
	return pairs, nil
}

// RunBatch processes pairs on a bounded pool of workers. Each worker writes
// into its own slot; the slots are appended to the log in input order once
// every pair has finished, so every pair yields exactly one record. The
// returned error is the context error, if the batch was interrupted.
func (p *Processor) RunBatch(ctx context.Context, pairs []Pair) (*Log, error) {
	l := NewLog(uuid.NewString(), p.clock.Now())
	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	monitoring.Logf("[pipeline] run %s: %d pairs on %d workers", l.RunID, len(pairs), workers)

	results := make([]Record, len(pairs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, pair := range pairs {
		g.Go(func() error {
			results[i] = p.ProcessPair(ctx, pair)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		l.Append(r)
	}
	counts := l.Counts()
	monitoring.Logf("[pipeline] run %s: %d of %d pairs merged", l.RunID, counts[StatusSuccess], l.Len())
	return l, ctx.Err()
}
