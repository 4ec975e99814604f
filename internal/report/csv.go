// Package report renders merged series and batch diagnostics: CSV tables,
// a PNG verification plot per pair and an HTML summary chart.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ahmedessabar/Sync/internal/merge"
	"github.com/ahmedessabar/Sync/internal/pipeline"
)

// TimeLayout is the day-first timestamp layout of merged tables.
const TimeLayout = "02/01/2006 15:04:05.000000"

// TimeColumn heads the timestamp column of merged tables.
const TimeColumn = "TS_UTC"

// BatchHeader is the column order of Batch_Report.csv.
var BatchHeader = []string{
	"File_Name", "Group", "Status", "Kind", "Detail",
	"Reset_Detected", "Reset_Index", "Valid_Start_Index", "Sync_Strategy",
	"Motion_Start", "Encoder_Start", "Motion_Points", "Encoder_Points",
	"Overlap_Valid", "Leading_Offset_s", "Drift_ppm",
	"XCorr_Lag_s", "XCorr_Peak", "Movement_Offset_s",
	"Merged_Rows", "Output_Path",
}

// WriteMergedCSV writes one row per grid point: the UTC timestamp followed
// by every merged column.
func WriteMergedCSV(w io.Writer, m *merge.Merged) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{TimeColumn}, m.Names...)); err != nil {
		return err
	}
	row := make([]string, len(m.Names)+1)
	for i, t := range m.Times {
		row[0] = t.UTC().Format(TimeLayout)
		for j, col := range m.Columns {
			row[j+1] = strconv.FormatFloat(col[i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBatchReport writes one row per diagnostic record, in log order.
func WriteBatchReport(w io.Writer, records []pipeline.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(BatchHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(batchRow(r)); err != nil {
			return fmt.Errorf("record %s: %w", r.FileName, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func batchRow(r pipeline.Record) []string {
	var lag, peak, movement, offset, drift string
	if r.XCorr != nil {
		lag = formatFloat(r.XCorr.LeadingOffset)
		peak = formatFloat(r.XCorr.Confidence)
	}
	if r.MovementOffset != nil {
		movement = formatFloat(*r.MovementOffset)
	}
	// The report writes 0 when no reset was found.
	resetIndex := 0
	if r.ResetDetected {
		resetIndex = r.ResetIndex
	}
	if r.Estimate.Method != "" {
		offset = formatFloat(r.Estimate.LeadingOffset)
		drift = strconv.FormatFloat(r.Estimate.DriftPPM(), 'f', 3, 64)
	}
	return []string{
		r.FileName,
		r.Group,
		string(r.Status),
		string(r.Kind),
		r.Detail,
		strconv.FormatBool(r.ResetDetected),
		strconv.Itoa(resetIndex),
		strconv.Itoa(r.ValidStartIndex),
		r.Strategy,
		formatTime(r.MotionStart),
		formatTime(r.EncoderStart),
		strconv.Itoa(r.MotionPoints),
		strconv.Itoa(r.EncoderPoints),
		strconv.FormatBool(r.OverlapValid),
		offset,
		drift,
		lag,
		peak,
		movement,
		strconv.Itoa(r.MergedRows),
		r.OutputPath,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}
