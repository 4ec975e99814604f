package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC)

func timeline(n int, step time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * step)
	}
	return out
}

func TestChannelSetAdd(t *testing.T) {
	t.Parallel()

	cs := NewChannelSet("enc", timeline(3, time.Second))
	require.NoError(t, cs.Add("a", []float64{1, 2, 3}))
	require.NoError(t, cs.Add("b", []float64{4, 5, 6}))
	assert.Error(t, cs.Add("c", []float64{1}))

	assert.Equal(t, []string{"a", "b"}, cs.Names())
	assert.True(t, cs.Has("a"))
	assert.False(t, cs.Has("c"))

	s, ok := cs.Series("b")
	require.True(t, ok)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, t0, s.Start())
	assert.Equal(t, t0.Add(2*time.Second), s.End())
}

func TestSortDedupKeepsFirst(t *testing.T) {
	t.Parallel()

	times := []time.Time{
		t0.Add(2 * time.Second),
		t0,
		t0.Add(time.Second),
		t0,
		t0.Add(2 * time.Second),
	}
	cs := NewChannelSet("m", times)
	require.NoError(t, cs.Add("v", []float64{20, 0, 10, 99, 98}))

	out := cs.SortDedup()
	require.Equal(t, 3, out.Len())
	assert.Equal(t, []float64{0, 10, 20}, out.Values("v"))
	for i := 1; i < out.Len(); i++ {
		assert.True(t, out.Times[i].After(out.Times[i-1]))
	}
}

func TestTrim(t *testing.T) {
	t.Parallel()

	cs := NewChannelSet("enc", timeline(10, time.Second))
	require.NoError(t, cs.Add("v", []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}))

	w := Window{Start: t0.Add(2500 * time.Millisecond), End: t0.Add(6 * time.Second)}

	strict := cs.Trim(w, false)
	assert.Equal(t, []float64{3, 4, 5, 6}, strict.Values("v"))

	guarded := cs.Trim(w, true)
	assert.Equal(t, []float64{2, 3, 4, 5, 6, 7}, guarded.Values("v"))
}

func TestShiftAndWithTimes(t *testing.T) {
	t.Parallel()

	cs := NewChannelSet("enc", timeline(3, time.Second))
	require.NoError(t, cs.Add("v", []float64{1, 2, 3}))

	shifted := cs.Shift(1500 * time.Millisecond)
	assert.Equal(t, t0.Add(1500*time.Millisecond), shifted.Start())
	assert.Equal(t, t0, cs.Start(), "original must not move")
	assert.Equal(t, cs.Values("v"), shifted.Values("v"))

	_, err := cs.WithTimes(timeline(2, time.Second))
	assert.Error(t, err)
}

func TestWindowIntersect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		a, b  Window
		valid bool
	}{
		{
			name:  "overlapping",
			a:     Window{Start: t0, End: t0.Add(10 * time.Second)},
			b:     Window{Start: t0.Add(5 * time.Second), End: t0.Add(20 * time.Second)},
			valid: true,
		},
		{
			name:  "disjoint",
			a:     Window{Start: t0, End: t0.Add(time.Second)},
			b:     Window{Start: t0.Add(5 * time.Second), End: t0.Add(20 * time.Second)},
			valid: false,
		},
		{
			name:  "touching",
			a:     Window{Start: t0, End: t0.Add(5 * time.Second)},
			b:     Window{Start: t0.Add(5 * time.Second), End: t0.Add(20 * time.Second)},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Intersect(tt.a, tt.b)
			assert.Equal(t, tt.valid, got.Valid())
		})
	}

	u := Union(tests[1].a, tests[1].b)
	assert.Equal(t, t0, u.Start)
	assert.Equal(t, t0.Add(20*time.Second), u.End)
	assert.False(t, Window{}.Valid())
}

func TestSecondsRounding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2500*time.Microsecond, Seconds(0.0025))
	assert.Equal(t, -267900*time.Microsecond, Seconds(-0.2679))
	assert.Equal(t, []float64{0, 1.5}, Elapsed([]time.Time{t0, t0.Add(1500 * time.Millisecond)}, t0))
}
