package merge

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmedessabar/Sync/internal/series"
)

var t0 = time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC)

func regular(name string, n int, step time.Duration, from time.Time, f func(int) float64) *series.ChannelSet {
	times := make([]time.Time, n)
	v := make([]float64, n)
	for i := range times {
		times[i] = from.Add(time.Duration(i) * step)
		v[i] = f(i)
	}
	cs := series.NewChannelSet(name, times)
	_ = cs.Add("v", v)
	return cs
}

func TestMergeNativeGridIsIdentity(t *testing.T) {
	cs := regular("m", 50, 7*time.Millisecond, t0, func(i int) float64 { return float64(i*i) - 3.25 })

	out, err := Merge(cs, cs, cs.Window(), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, cs.Times, out.Times)
	if diff := cmp.Diff(cs.Values("v"), out.Column("TDMS_v")); diff != "" {
		t.Errorf("donor on its own grid changed (-want +got):\n%s", diff)
	}
	assert.Equal(t, cs.Values("v"), out.Column("v"))
	assert.Equal(t, []string{"v", "TDMS_v"}, out.Names)
}

func TestMergeNativeInterpolatesDonor(t *testing.T) {
	master := regular("motion", 11, 10*time.Millisecond, t0.Add(5*time.Millisecond), func(i int) float64 { return 1 })
	donor := regular("enc", 41, 2500*time.Microsecond, t0, func(i int) float64 { return float64(i) * 0.0025 })

	w := series.Intersect(master.Window(), donor.Window())
	out, err := Merge(master, donor, w, DefaultConfig())
	require.NoError(t, err)

	// Master is trimmed to [5ms, 100ms]: samples at 5..95 ms.
	require.Equal(t, 10, out.Rows())
	for i, ts := range out.Times {
		assert.InDelta(t, ts.Sub(t0).Seconds(), out.Column("TDMS_v")[i], 1e-12)
	}
}

func TestMergeUniform(t *testing.T) {
	master := regular("motion", 101, 10*time.Millisecond, t0, func(i int) float64 { return float64(i) })
	donor := regular("enc", 401, 2500*time.Microsecond, t0, func(i int) float64 { return 2 * float64(i) })

	cfg := DefaultConfig()
	cfg.Mode = GridUniform
	cfg.Points = 21

	out, err := Merge(master, donor, master.Window(), cfg)
	require.NoError(t, err)
	require.Equal(t, 21, out.Rows())
	assert.Equal(t, t0, out.Times[0])
	assert.Equal(t, t0.Add(time.Second), out.Times[20])
	for i := 1; i < out.Rows(); i++ {
		assert.True(t, out.Times[i].After(out.Times[i-1]))
	}
	assert.InDelta(t, 50, out.Column("v")[10], 1e-9)
	assert.InDelta(t, 400, out.Column("TDMS_v")[10], 1e-9)

	cfg.Points = 0
	out, err = Merge(master, donor, master.Window(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 401, out.Rows(), "defaults to the donor count in window")
}

func TestMergeErrors(t *testing.T) {
	master := regular("motion", 10, 10*time.Millisecond, t0, func(int) float64 { return 0 })
	single := regular("enc", 1, time.Millisecond, t0.Add(20*time.Millisecond), func(int) float64 { return 0 })

	_, err := Merge(master, single, master.Window(), DefaultConfig())
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	_, err = Merge(master, master, series.Window{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrEmptyWindow)

	cfg := DefaultConfig()
	cfg.Mode = GridUniform
	cfg.Points = 1
	_, err = Merge(master, master, master.Window(), cfg)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	cfg.Mode = "bogus"
	_, err = Merge(master, master, master.Window(), cfg)
	assert.Error(t, err)
}

func TestInterpolateMargins(t *testing.T) {
	xs := []float64{0, 1, 2}
	ys := []float64{0, 10, 20}

	got, err := Interpolate(xs, ys, []float64{-5e-7, 0.5, 2 + 5e-7}, 1e-6)
	require.NoError(t, err)
	assert.InDelta(t, -5e-6, got[0], 1e-12)
	assert.InDelta(t, 5, got[1], 1e-12)
	assert.InDelta(t, 20+5e-6, got[2], 1e-12)

	_, err = Interpolate(xs, ys, []float64{2.001}, 1e-6)
	assert.ErrorIs(t, err, ErrOutsideMargin)

	_, err = Interpolate([]float64{0}, []float64{1}, []float64{0}, 1e-6)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}
