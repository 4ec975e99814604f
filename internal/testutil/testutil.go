// Package testutil provides synthetic recordings shared by the pipeline and
// command tests.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ahmedessabar/Sync/internal/encoder"
)

// MotionExport renders an Xsens-style tab separated export of n packets at
// rateHz starting at start. Every channel function receives seconds since
// start. Acc_X, FreeAcc_E and Gyr_X are always present so the rows are not
// taken for ghost packets.
func MotionExport(start time.Time, n int, rateHz float64, channels map[string]func(float64) float64) string {
	names := []string{"Acc_X", "FreeAcc_E", "Gyr_X", "Vel_N", "Vel_E"}
	for _, name := range sortedKeys(channels) {
		if !contains(names, name) {
			names = append(names, name)
		}
	}

	var b strings.Builder
	b.WriteString("// Start Time: synthetic\n// Sample rate: ")
	fmt.Fprintf(&b, "%g\n", rateHz)
	b.WriteString("PacketCounter\tUTC_Nano\tUTC_Year\tUTC_Month\tUTC_Day\tUTC_Hour\tUTC_Minute\tUTC_Second")
	for _, name := range names {
		b.WriteString("\t" + name)
	}
	b.WriteByte('\n')

	for i := 0; i < n; i++ {
		sec := float64(i) / rateHz
		ts := start.Add(time.Duration(float64(time.Second)*sec + 0.5))
		fmt.Fprintf(&b, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d", i+1, ts.Nanosecond(),
			ts.Year(), int(ts.Month()), ts.Day(), ts.Hour(), ts.Minute(), ts.Second())
		for _, name := range names {
			v := 0.0
			if f, ok := channels[name]; ok {
				v = f(sec)
			}
			fmt.Fprintf(&b, "\t%.9g", v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// EncoderGroup describes one synthetic encoder group. A zero Start omits
// the start metadata.
type EncoderGroup struct {
	Name     string
	Start    time.Time
	RateHz   float64
	Counts   []float64
	Channels map[string][]float64
}

// EncoderContainer assembles groups into an in-memory container.
func EncoderContainer(groups ...EncoderGroup) *encoder.File {
	f := &encoder.File{Props: encoder.Properties{"name": "synthetic"}}
	for _, g := range groups {
		props := encoder.Properties{}
		if !g.Start.IsZero() {
			props["wf_start_time"] = g.Start.Format("2006-01-02T15:04:05.999999999")
			props["wf_increment"] = 1 / g.RateHz
		}
		grp := &encoder.Group{Name: g.Name}
		grp.Channels = append(grp.Channels, &encoder.Channel{Name: encoder.DefaultEdgeChannel, Properties: props, Data: g.Counts})
		for _, name := range sortedKeys(g.Channels) {
			grp.Channels = append(grp.Channels, &encoder.Channel{Name: name, Data: g.Channels[name]})
		}
		f.Groups = append(f.Groups, grp)
	}
	return f
}

// EncoderJSON encodes groups as a JSON container.
func EncoderJSON(t testing.TB, groups ...EncoderGroup) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, EncoderContainer(groups...)); err != nil {
		t.Fatalf("encode container: %v", err)
	}
	return buf.Bytes()
}

// Ramp returns n cumulative edge counts advancing by step per sample.
func Ramp(n int, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * step
	}
	return out
}

// WriteFile writes data under dir, creating parent directories, and
// returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
