// Package encoder builds absolute timelines for wheel-edge encoder
// recordings, detecting counter resets and deriving wheel kinematics.
package encoder

import (
	"fmt"
	"time"

	"github.com/ahmedessabar/Sync/internal/monitoring"
	"github.com/ahmedessabar/Sync/internal/series"
)

// Defaults for the acquisition rig.
const (
	DefaultEdgeChannel    = "Edges_RoueAR"
	DefaultResetThreshold = -100.0
	DefaultRateHz         = 400.0
)

// relativeOrigin anchors timelines that have no usable start metadata.
var relativeOrigin = time.Unix(0, 0).UTC()

// Config controls timeline construction.
type Config struct {
	EdgeChannel    string
	ResetThreshold float64
	// NominalRateHz is used when the container declares no sample interval.
	NominalRateHz float64
	Derive        DeriveConfig
}

// DefaultConfig returns the rig defaults.
func DefaultConfig() Config {
	return Config{
		EdgeChannel:    DefaultEdgeChannel,
		ResetThreshold: DefaultResetThreshold,
		NominalRateHz:  DefaultRateHz,
		Derive:         DefaultDeriveConfig(),
	}
}

// Raw is one group's channels before timeline construction. A zero Start
// or Interval means the container did not declare it.
type Raw struct {
	Name     string
	Channels []string
	Data     [][]float64
	// Counts indexes the edge-count channel in Channels, or -1.
	Counts   int
	Start    time.Time
	Interval float64
}

// Timeline is the cleaned encoder recording for one group.
type Timeline struct {
	Set *series.ChannelSet

	ResetDetected bool
	// ResetIndex is the raw index of the last sample before the reset.
	ResetIndex int
	// StartIndex is the raw index of the first retained sample.
	StartIndex int
	RawPoints  int

	DeclaredStart time.Time
	Interval      float64
	// IntervalDeclared is false when Interval is the nominal rate.
	IntervalDeclared bool
	// HasMetadata is set when a start time is declared. A missing interval
	// falls back to the nominal rate and keeps the declared start.
	HasMetadata bool
	// NeedsReference marks a timeline anchored at an arbitrary origin that
	// must be rebased against an external reference clock.
	NeedsReference bool
}

// Rebase places the cleaned samples on a timeline starting at start,
// spaced by the timeline's interval.
func (tl *Timeline) Rebase(start time.Time) *series.ChannelSet {
	out, _ := tl.Set.WithTimes(regularTimes(start, tl.Interval, tl.Set.Len()))
	return out
}

// Duration returns the span covered by the cleaned samples in seconds.
func (tl *Timeline) Duration() float64 {
	if tl.Set.Len() < 2 {
		return 0
	}
	return float64(tl.Set.Len()-1) * tl.Interval
}

// Builder turns raw encoder groups into timelines.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder using cfg.
func NewBuilder(cfg Config) *Builder {
	if cfg.EdgeChannel == "" {
		cfg.EdgeChannel = DefaultEdgeChannel
	}
	if cfg.NominalRateHz <= 0 {
		cfg.NominalRateHz = DefaultRateHz
	}
	return &Builder{cfg: cfg}
}

// Load reads the named group out of a container and builds its timeline.
func (b *Builder) Load(c Container, group string) (*Timeline, error) {
	g, ok := c.Group(group)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGroupNotFound, group)
	}
	edges, ok := g.Channel(b.cfg.EdgeChannel)
	if !ok {
		return nil, fmt.Errorf("%w: %q in group %q", ErrChannelNotFound, b.cfg.EdgeChannel, group)
	}

	raw := Raw{Name: group, Counts: -1}
	for _, ch := range g.Channels {
		if ch.Name == edges.Name {
			raw.Counts = len(raw.Channels)
		}
		raw.Channels = append(raw.Channels, ch.Name)
		raw.Data = append(raw.Data, ch.Data)
	}
	raw.Start, raw.Interval = lookupMetadata(c, g, edges)
	return b.Build(raw)
}

// Build constructs a timeline from raw group data. Channels of unequal
// length are truncated to the shortest one. A counter reset discards every
// sample up to and including the last pre-reset sample in all channels.
func (b *Builder) Build(raw Raw) (*Timeline, error) {
	if len(raw.Channels) != len(raw.Data) {
		return nil, fmt.Errorf("group %q has %d channel names for %d arrays", raw.Name, len(raw.Channels), len(raw.Data))
	}

	n := shortest(raw.Data)
	tl := &Timeline{
		ResetIndex:    -1,
		RawPoints:     n,
		DeclaredStart: raw.Start,
		Interval:      raw.Interval,
		HasMetadata:   !raw.Start.IsZero(),
	}
	tl.IntervalDeclared = raw.Interval > 0
	if !tl.IntervalDeclared {
		tl.Interval = 1 / b.cfg.NominalRateHz
	}

	var counts []float64
	if raw.Counts >= 0 && raw.Counts < len(raw.Data) {
		counts = raw.Data[raw.Counts][:n]
		if idx, found := DetectReset(counts, b.cfg.ResetThreshold); found {
			tl.ResetDetected = true
			tl.ResetIndex = idx
			tl.StartIndex = idx + 1
			monitoring.Logf("[encoder] %s: counter reset at index %d, discarding %d samples", raw.Name, idx, idx+1)
		}
	}
	tl.NeedsReference = !tl.HasMetadata

	origin := raw.Start
	if tl.NeedsReference {
		origin = relativeOrigin
	}
	kept := n - tl.StartIndex
	tl.Set = series.NewChannelSet(raw.Name, regularTimes(origin, tl.Interval, kept))
	for i, name := range raw.Channels {
		v := make([]float64, kept)
		copy(v, raw.Data[i][tl.StartIndex:n])
		if err := tl.Set.Add(name, v); err != nil {
			return nil, err
		}
	}

	if counts != nil && b.cfg.Derive.Enabled {
		if err := deriveKinematics(tl.Set, tl.Set.Values(raw.Channels[raw.Counts]), tl.Interval, b.cfg.Derive); err != nil {
			return nil, err
		}
	}
	return tl, nil
}

// DetectReset returns the first index i at which counts[i+1]-counts[i]
// falls below threshold.
func DetectReset(counts []float64, threshold float64) (int, bool) {
	for i := 0; i+1 < len(counts); i++ {
		if counts[i+1]-counts[i] < threshold {
			return i, true
		}
	}
	return -1, false
}

// MovementStart returns the index of the first sample whose edge count
// increases over its predecessor.
func MovementStart(counts []float64) (int, bool) {
	for i := 1; i < len(counts); i++ {
		if counts[i]-counts[i-1] > 0 {
			return i, true
		}
	}
	return -1, false
}

func regularTimes(start time.Time, interval float64, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(series.Seconds(float64(i) * interval))
	}
	return out
}

func shortest(data [][]float64) int {
	if len(data) == 0 {
		return 0
	}
	n := len(data[0])
	for _, d := range data[1:] {
		if len(d) < n {
			n = len(d)
		}
	}
	return n
}
