// Package motion reads inertial/GPS motion exports and builds their
// absolute timelines from the per-row UTC fields.
package motion

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ahmedessabar/Sync/internal/monitoring"
	"github.com/ahmedessabar/Sync/internal/series"
)

// ErrNoTimeline is returned when a table yields no usable timestamps.
var ErrNoTimeline = errors.New("no usable motion timeline")

// Canonical column names.
const (
	ColYear   = "UTC_Year"
	ColMonth  = "UTC_Month"
	ColDay    = "UTC_Day"
	ColHour   = "UTC_Hour"
	ColMinute = "UTC_Minute"
	ColSecond = "UTC_Second"
	ColNano   = "UTC_Nano"
	ColVelN   = "Vel_N"
	ColVelE   = "Vel_E"

	// SpeedChannel is the derived horizontal speed.
	SpeedChannel = "GPS_Speed"
)

// TimeColumns lists the fields an absolute timestamp is built from.
var TimeColumns = []string{ColYear, ColMonth, ColDay, ColHour, ColMinute, ColSecond, ColNano}

// ghostColumns are the sensor columns left empty in placeholder packets.
var ghostColumns = []string{"Acc_X", "FreeAcc_E", "Gyr_X"}

var aliases = map[string]string{
	"utc_year":       ColYear,
	"utc_month":      ColMonth,
	"utc_day":        ColDay,
	"utc_hour":       ColHour,
	"utc_minute":     ColMinute,
	"utc_second":     ColSecond,
	"utc_nano":       ColNano,
	"utc_nanosecond": ColNano,
	"velocity_north": ColVelN,
	"velocity_east":  ColVelE,
	"vel_n":          ColVelN,
	"vel_e":          ColVelE,
}

func canonical(name string) string {
	if c, ok := aliases[strings.ToLower(name)]; ok {
		return c
	}
	return name
}

// Timeline is the motion recording on its absolute clock.
type Timeline struct {
	Set *series.ChannelSet

	Rows        int
	GhostRows   int
	InvalidRows int
	Duplicates  int
}

// Build constructs the motion timeline. Ghost packets and rows with any
// missing, non-integral or out-of-range time field are dropped. Every other column is
// parsed as a number with unparseable cells read as zero. The result is
// sorted by time with duplicate timestamps removed, keeping the first.
func Build(name string, tbl *Table) (*Timeline, error) {
	tl := &Timeline{Rows: len(tbl.Rows)}

	timeIdx := make([]int, len(TimeColumns))
	for i, col := range TimeColumns {
		timeIdx[i] = tbl.Column(col)
		if timeIdx[i] < 0 {
			tl.Set = series.NewChannelSet(name, nil)
			return tl, ErrNoTimeline
		}
	}

	var ghostIdx []int
	for _, col := range ghostColumns {
		if i := tbl.Column(col); i >= 0 {
			ghostIdx = append(ghostIdx, i)
		}
	}

	isTime := make(map[int]bool, len(timeIdx))
	for _, i := range timeIdx {
		isTime[i] = true
	}
	var dataIdx []int
	for i := range tbl.Header {
		if !isTime[i] && tbl.Header[i] != "" && tbl.Column(tbl.Header[i]) == i {
			dataIdx = append(dataIdx, i)
		}
	}

	var times []time.Time
	values := make([][]float64, len(dataIdx))
	fields := make([]int, len(timeIdx))
rows:
	for r := range tbl.Rows {
		if isGhost(tbl, r, ghostIdx) {
			tl.GhostRows++
			continue
		}
		for i, c := range timeIdx {
			v, ok := parseInt(tbl.Cell(r, c))
			if !ok {
				tl.InvalidRows++
				continue rows
			}
			fields[i] = v
		}
		ts, ok := calendarTime(fields)
		if !ok {
			tl.InvalidRows++
			continue
		}
		times = append(times, ts)
		for j, c := range dataIdx {
			values[j] = append(values[j], parseFloat(tbl.Cell(r, c)))
		}
	}

	set := series.NewChannelSet(name, times)
	for j, c := range dataIdx {
		if values[j] == nil {
			values[j] = []float64{}
		}
		if err := set.Add(tbl.Header[c], values[j]); err != nil {
			return nil, err
		}
	}
	if set.Has(ColVelN) && set.Has(ColVelE) {
		north, east := set.Values(ColVelN), set.Values(ColVelE)
		speed := make([]float64, len(north))
		for i := range speed {
			speed[i] = math.Hypot(north[i], east[i])
		}
		if err := set.Add(SpeedChannel, speed); err != nil {
			return nil, err
		}
	}

	sorted := set.SortDedup()
	tl.Duplicates = set.Len() - sorted.Len()
	tl.Set = sorted
	if tl.GhostRows > 0 || tl.InvalidRows > 0 {
		monitoring.Logf("[motion] %s: dropped %d ghost and %d untimed rows of %d", name, tl.GhostRows, tl.InvalidRows, tl.Rows)
	}
	if sorted.Empty() {
		return tl, ErrNoTimeline
	}
	return tl, nil
}

// calendarTime builds a UTC instant from year, month, day, hour, minute,
// second and nanosecond. Fields time.Date would normalise, such as the
// all-zero rows written before a GPS fix, are rejected. Second 60 is a leap
// second and rolls into the next minute.
func calendarTime(f []int) (time.Time, bool) {
	year, month, day, hour, minute, sec, nano := f[0], f[1], f[2], f[3], f[4], f[5], f[6]
	if year < 1 || month < 1 || month > 12 || day < 1 || hour < 0 || hour > 23 ||
		minute < 0 || minute > 59 || sec < 0 || sec > 60 || nano < 0 || nano >= 1e9 {
		return time.Time{}, false
	}
	// Day zero of the next month is the last day of this one.
	if day > time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day() {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, sec, nano, time.UTC), true
}

// MovementStart returns the index of the first sample whose speed exceeds
// threshold.
func MovementStart(speed []float64, threshold float64) (int, bool) {
	for i, v := range speed {
		if v > threshold {
			return i, true
		}
	}
	return -1, false
}

func isGhost(tbl *Table, r int, cols []int) bool {
	if len(cols) == 0 {
		return false
	}
	for _, c := range cols {
		if tbl.Cell(r, c) != "" {
			return false
		}
	}
	return true
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
