package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/ahmedessabar/Sync/internal/config"
	"github.com/ahmedessabar/Sync/internal/encoder"
	"github.com/ahmedessabar/Sync/internal/fsutil"
	"github.com/ahmedessabar/Sync/internal/merge"
	"github.com/ahmedessabar/Sync/internal/monitoring"
	"github.com/ahmedessabar/Sync/internal/strategy"
	"github.com/ahmedessabar/Sync/internal/testutil"
	"github.com/ahmedessabar/Sync/internal/timeutil"
)

const (
	motionDir  = "/data/motion"
	encoderDir = "/data/encoder"
)

var encStart = time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC)

// pulse is a smooth feature centred on an absolute instant.
func pulse(centre time.Time) func(time.Time) float64 {
	return func(t time.Time) float64 {
		d := t.Sub(centre).Seconds()
		return math.Exp(-d * d / (2 * 0.2 * 0.2))
	}
}

func encoderSamples(start time.Time, n int, rate float64, f func(time.Time) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(start.Add(time.Duration(float64(i) / rate * float64(time.Second))))
	}
	return out
}

type memSink struct {
	names []string
	last  *merge.Merged
}

func (s *memSink) WriteMerged(name string, m *merge.Merged) (string, error) {
	s.names = append(s.names, name)
	s.last = m
	return "/out/" + name + "_merged.csv", nil
}

type panicSink struct{}

func (panicSink) WriteMerged(string, *merge.Merged) (string, error) { panic("disk on fire") }

type fixture struct {
	fs *fsutil.MemoryFileSystem
}

func newFixture() *fixture { return &fixture{fs: fsutil.NewMemoryFileSystem()} }

func (f *fixture) motion(name string, start time.Time, n int, channels map[string]func(float64) float64) string {
	path := motionDir + "/" + name
	f.fs.WriteFile(path, []byte(testutil.MotionExport(start, n, 100, channels)))
	return path
}

func (f *fixture) encoder(t *testing.T, base string, groups ...testutil.EncoderGroup) {
	f.fs.WriteFile(encoderDir+"/"+base+".json", testutil.EncoderJSON(t, groups...))
}

func newProcessor(fsys fsutil.FileSystem, sink Sink) *Processor {
	p := NewProcessor(DefaultConfig(), fsys, sink)
	p.SetClock(timeutil.NewMockClock(encStart))
	return p
}

func TestRoundTripKnownOffset(t *testing.T) {
	defer monitoring.Mute()()

	motionStart := encStart.Add(1234 * time.Millisecond)
	feature := pulse(encStart.Add(5 * time.Second))

	f := newFixture()
	path := f.motion("run_80_P1.txt", motionStart, 700, map[string]func(float64) float64{
		"Vel_N":   func(float64) float64 { return 5 },
		"Feature": func(s float64) float64 { return feature(motionStart.Add(time.Duration(s * float64(time.Second)))) },
	})
	f.encoder(t, "run_80", testutil.EncoderGroup{
		Name:     "P1",
		Start:    encStart,
		RateHz:   400,
		Counts:   testutil.Ramp(4000, 1),
		Channels: map[string][]float64{"Feature": encoderSamples(encStart, 4000, 400, feature)},
	})

	sink := &memSink{}
	rec := newProcessor(f.fs, sink).ProcessPair(context.Background(), NewPair(path, encoderDir))

	require.Equal(t, StatusSuccess, rec.Status, rec.Detail)
	assert.Equal(t, KindNone, rec.Kind)
	assert.Equal(t, strategy.LabelMetadata, rec.Strategy)
	assert.Equal(t, "run_80.json", rec.EncoderFile)
	assert.False(t, rec.ResetDetected)
	assert.Equal(t, -1, rec.ResetIndex)
	assert.Equal(t, encStart, rec.EncoderStart)
	assert.Equal(t, motionStart, rec.MotionStart)
	assert.Equal(t, 700, rec.MotionPoints)
	assert.Equal(t, 4000, rec.EncoderPoints)
	assert.True(t, rec.OverlapValid)
	assert.InDelta(t, 1.234, rec.Estimate.OffsetStart, 1e-9)
	assert.True(t, rec.Estimate.Valid)

	require.NotNil(t, rec.MovementOffset)
	assert.InDelta(t, 1.234-0.0025, *rec.MovementOffset, 1e-9)

	require.Equal(t, []string{"run_80_P1"}, sink.names)
	assert.Equal(t, "/out/run_80_P1_merged.csv", rec.OutputPath)
	assert.Equal(t, 700, rec.MergedRows)

	m := sink.last.Column("Feature")
	e := sink.last.Column("TDMS_Feature")
	require.NotNil(t, m)
	require.NotNil(t, e)
	im, ie := floats.MaxIdx(m), floats.MaxIdx(e)
	assert.LessOrEqual(t, math.Abs(float64(im-ie)), 1.0, "feature peaks at rows %d and %d", im, ie)
	assert.NotNil(t, sink.last.Column("TDMS_"+encoder.SpeedChannel))
}

func TestProcessPairStrategies(t *testing.T) {
	defer monitoring.Mute()()

	motionStart := encStart.Add(time.Second)
	far := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	withReset := testutil.Ramp(2000, 1)
	withReset[0] = 5000

	tests := []struct {
		name     string
		group    testutil.EncoderGroup
		status   Status
		kind     Kind
		strategy string
		start    time.Time
	}{
		{
			name:     "reset forces start from motion",
			group:    testutil.EncoderGroup{Name: "P1", Counts: withReset},
			status:   StatusSuccess,
			strategy: strategy.LabelForced,
			start:    motionStart.Add(268 * time.Millisecond),
		},
		{
			name:     "disjoint metadata with disagreeing lengths",
			group:    testutil.EncoderGroup{Name: "P1", Start: far, RateHz: 400, Counts: testutil.Ramp(2000, 1)},
			status:   StatusLengthMismatch,
			kind:     KindLengthMismatch,
			strategy: strategy.LabelMetadata,
			start:    far,
		},
		{
			name:     "no reset and no metadata",
			group:    testutil.EncoderGroup{Name: "P1", Counts: testutil.Ramp(2000, 1)},
			status:   StatusLoadError,
			kind:     KindLoadFailure,
			strategy: strategy.LabelNoTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			path := f.motion("run_80_P1.txt", motionStart, 400, nil)
			f.encoder(t, "run_80", tt.group)

			rec := newProcessor(f.fs, nil).ProcessPair(context.Background(), NewPair(path, encoderDir))
			assert.Equal(t, tt.status, rec.Status, rec.Detail)
			assert.Equal(t, tt.kind, rec.Kind)
			assert.Equal(t, tt.strategy, rec.Strategy)
			if !tt.start.IsZero() && tt.status == StatusSuccess {
				assert.WithinDuration(t, tt.start, rec.EncoderStart, time.Millisecond)
			}
		})
	}
}

func TestProcessPairResetRecordsIndices(t *testing.T) {
	defer monitoring.Mute()()

	counts := testutil.Ramp(2000, 1)
	counts[0], counts[1], counts[2] = 4000, 4001, 4002

	f := newFixture()
	path := f.motion("run_80_P1.txt", encStart, 400, nil)
	f.encoder(t, "run_80", testutil.EncoderGroup{Name: "P1", Counts: counts})

	rec := newProcessor(f.fs, nil).ProcessPair(context.Background(), NewPair(path, encoderDir))
	require.True(t, rec.OK(), rec.Detail)
	assert.True(t, rec.ResetDetected)
	assert.Equal(t, 2, rec.ResetIndex)
	assert.Equal(t, 3, rec.ValidStartIndex)
	assert.Equal(t, 1997, rec.EncoderPoints)

	want := []strategy.State{strategy.ResetForced, strategy.OverlapCheck, strategy.Success}
	var got []strategy.State
	for _, tr := range rec.Trail {
		got = append(got, tr.To)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trail mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessPairFailures(t *testing.T) {
	defer monitoring.Mute()()

	good := testutil.EncoderGroup{Name: "P1", Start: encStart, RateHz: 400, Counts: testutil.Ramp(2000, 1)}

	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture) string
		sink   Sink
		status Status
		kind   Kind
	}{
		{
			name: "missing encoder container",
			setup: func(t *testing.T, f *fixture) string {
				return f.motion("run_80_P1.txt", encStart, 400, nil)
			},
			status: StatusMissingFile,
			kind:   KindMissingInput,
		},
		{
			name: "missing group",
			setup: func(t *testing.T, f *fixture) string {
				f.encoder(t, "run_80", good)
				return f.motion("run_80_P7.txt", encStart, 400, nil)
			},
			status: StatusLoadError,
			kind:   KindMissingInput,
		},
		{
			name: "empty encoder group",
			setup: func(t *testing.T, f *fixture) string {
				f.encoder(t, "run_80", testutil.EncoderGroup{Name: "P1", Start: encStart, RateHz: 400})
				return f.motion("run_80_P1.txt", encStart, 400, nil)
			},
			status: StatusLoadError,
			kind:   KindMissingInput,
		},
		{
			name: "empty motion export",
			setup: func(t *testing.T, f *fixture) string {
				f.encoder(t, "run_80", good)
				return f.motion("run_80_P1.txt", encStart, 0, nil)
			},
			status: StatusLoadError,
			kind:   KindMalformedTimeline,
		},
		{
			name: "motion file without header",
			setup: func(t *testing.T, f *fixture) string {
				f.encoder(t, "run_80", good)
				f.fs.WriteFile(motionDir+"/run_80_P1.txt", nil)
				return motionDir + "/run_80_P1.txt"
			},
			status: StatusLoadError,
			kind:   KindMalformedTimeline,
		},
		{
			name: "corrupt container",
			setup: func(t *testing.T, f *fixture) string {
				f.fs.WriteFile(encoderDir+"/run_80.json", []byte("{not json"))
				return f.motion("run_80_P1.txt", encStart, 400, nil)
			},
			status: StatusLoadError,
			kind:   KindLoadFailure,
		},
		{
			name: "panic in output is recovered",
			setup: func(t *testing.T, f *fixture) string {
				f.encoder(t, "run_80", good)
				return f.motion("run_80_P1.txt", encStart, 400, nil)
			},
			sink:   panicSink{},
			status: StatusMergeException,
			kind:   KindMergeFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			path := tt.setup(t, f)
			var rec Record
			require.NotPanics(t, func() {
				rec = newProcessor(f.fs, tt.sink).ProcessPair(context.Background(), NewPair(path, encoderDir))
			})
			assert.Equal(t, tt.status, rec.Status, rec.Detail)
			assert.Equal(t, tt.kind, rec.Kind)
			assert.NotEmpty(t, rec.Detail)
		})
	}
}

func TestRunBatchContinuesPastFailures(t *testing.T) {
	defer monitoring.Mute()()

	f := newFixture()
	f.encoder(t, "run_80",
		testutil.EncoderGroup{Name: "P1", Start: encStart, RateHz: 400, Counts: testutil.Ramp(2000, 1)},
		testutil.EncoderGroup{Name: "P2", Start: encStart, RateHz: 400},
	)
	f.motion("run_80_P1.txt", encStart, 400, nil)
	f.motion("run_80_P2.txt", encStart, 400, nil)
	f.motion("run_80_P3.txt", encStart, 0, nil)
	f.motion("run_90_P1.txt", encStart, 400, nil)
	f.motion("notes.txt", encStart, 10, nil)
	f.fs.WriteFile(motionDir+"/readme.md", []byte("ignored"))

	pairs, err := DiscoverPairs(f.fs, motionDir, encoderDir)
	require.NoError(t, err)
	require.Len(t, pairs, 5)

	p := newProcessor(f.fs, &memSink{})
	p.cfg.Workers = 3
	log, err := p.RunBatch(context.Background(), pairs)
	require.NoError(t, err)
	require.Equal(t, len(pairs), log.Len())
	assert.NotEmpty(t, log.RunID)

	got := map[string]Status{}
	for _, r := range log.Records() {
		got[r.FileName+"/"+r.Group] = r.Status
	}
	want := map[string]Status{
		"notes.txt/":       StatusSkipped,
		"run_80_P1.txt/P1": StatusSuccess,
		"run_80_P2.txt/P2": StatusLoadError,
		"run_80_P3.txt/P3": StatusLoadError,
		"run_90_P1.txt/P1": StatusMissingFile,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, log.Counts()[StatusSuccess])

	// Records keep discovery order.
	var order []string
	for _, r := range log.Records() {
		order = append(order, r.FileName)
	}
	assert.Equal(t, []string{"notes.txt", "run_80_P1.txt", "run_80_P2.txt", "run_80_P3.txt", "run_90_P1.txt"}, order)
}

func TestRunBatchCancelled(t *testing.T) {
	defer monitoring.Mute()()

	f := newFixture()
	f.motion("run_80_P1.txt", encStart, 10, nil)
	pairs, err := DiscoverPairs(f.fs, motionDir, encoderDir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log, err := newProcessor(f.fs, nil).RunBatch(ctx, pairs)
	assert.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, log.Len())
	assert.Equal(t, StatusLoadError, log.Records()[0].Status)
}

func TestNewPair(t *testing.T) {
	tests := []struct {
		path    string
		group   string
		encoder string
		skip    bool
	}{
		{"/m/Moto_Freinage_mouille_80_P1.txt", "P1", "/e/Moto_Freinage_mouille_80.json", false},
		{"/m/run_P12.txt", "P12", "/e/run.json", false},
		{"/m/run.txt", "", "", true},
		{"/m/run_P-1.txt", "", "", true},
	}
	for _, tt := range tests {
		p := NewPair(tt.path, "/e")
		assert.Equal(t, tt.skip, p.Skip, tt.path)
		assert.Equal(t, tt.group, p.Group, tt.path)
		assert.Equal(t, tt.encoder, p.EncoderPath, tt.path)
	}
}

func TestDiscoverPairsMissingDir(t *testing.T) {
	_, err := DiscoverPairs(fsutil.NewMemoryFileSystem(), "/nope", "/e")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		want Status
	}{
		{nil, KindNone, StatusSuccess},
		{fmt.Errorf("x: %w", fs.ErrNotExist), KindMissingInput, StatusMissingFile},
		{encoder.ErrChannelNotFound, KindMissingInput, StatusLoadError},
		{strategy.ErrNoTimeReference, KindLoadFailure, StatusLoadError},
		{fmt.Errorf("wrapped: %w", strategy.ErrLengthMismatch), KindLengthMismatch, StatusLengthMismatch},
		{strategy.ErrSyncFailed, KindSyncFailure, StatusSyncFailed},
		{merge.ErrOutsideMargin, KindMergeFailure, StatusMergeException},
		{ErrOutput, KindMergeFailure, StatusMergeException},
	}
	for _, tt := range tests {
		kind := Classify(tt.err)
		assert.Equal(t, tt.kind, kind, "%v", tt.err)
		assert.Equal(t, tt.want, statusFor(kind, tt.err), "%v", tt.err)
	}
}

func TestConfigFromTuning(t *testing.T) {
	offset := 0.3
	grid := config.GridUniform
	tc := &config.TuningConfig{ForcedOffsetSeconds: &offset, GridMode: &grid}

	cfg := ConfigFromTuning(tc)
	assert.Equal(t, 0.3, cfg.Strategy.ForcedOffsetSeconds)
	assert.Equal(t, merge.GridUniform, cfg.Merge.Mode)
	assert.Equal(t, strategy.DefaultLengthTolerance, cfg.Strategy.LengthTolerance)
	assert.Equal(t, encoder.DefaultEdgeChannel, cfg.Encoder.EdgeChannel)

	// The calibrated defaults are rig specific and must match the
	// packages' own defaults.
	def := DefaultConfig()
	assert.Equal(t, strategy.DefaultConfig(), def.Strategy)
	assert.Equal(t, merge.DefaultConfig(), def.Merge)
	assert.Equal(t, encoder.DefaultDeriveConfig(), def.Encoder.Derive)
}
