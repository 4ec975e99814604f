package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahmedessabar/Sync/internal/estimate"
	"github.com/ahmedessabar/Sync/internal/monitoring"
	"github.com/ahmedessabar/Sync/internal/pipeline"
	"github.com/ahmedessabar/Sync/internal/strategy"
)

// RunMeta describes where a batch read from and wrote to.
type RunMeta struct {
	MotionDir  string
	EncoderDir string
	OutputDir  string
	ConfigJSON string
	FinishedAt time.Time
}

// Run is one stored batch.
type Run struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	MotionDir  string
	EncoderDir string
	OutputDir  string
	Pairs      int
	Succeeded  int
}

// RecordRun stores a finished batch and all of its records in one
// transaction.
func (db *DB) RecordRun(l *pipeline.Log, meta RunMeta) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	records := l.Records()
	succeeded := l.Counts()[pipeline.StatusSuccess]
	_, err = tx.Exec(`INSERT INTO sync_runs (
		run_id, started_at, finished_at, motion_dir, encoder_dir, output_dir,
		config_json, pairs, succeeded
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.RunID, formatTime(l.Started), nullTime(meta.FinishedAt), meta.MotionDir, meta.EncoderDir,
		meta.OutputDir, meta.ConfigJSON, len(records), succeeded,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", l.RunID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO sync_records (
		run_id, seq, file_name, encoder_file, group_name, status, kind, detail,
		reset_detected, reset_index, valid_start_index, strategy,
		motion_start, encoder_start, motion_points, encoder_points,
		overlap_valid, overlap_start, overlap_end,
		estimate_method, leading_offset_s, drift_rate, offset_start_s, offset_end_s,
		estimate_valid, confidence, xcorr_lag_s, xcorr_peak, xcorr_valid,
		movement_offset_s, merged_rows, output_path, elapsed_ns, trail_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		trail, err := json.Marshal(r.Trail)
		if err != nil {
			return fmt.Errorf("failed to encode trail of %s: %w", r.FileName, err)
		}
		var lag, peak, movement sql.NullFloat64
		var xvalid sql.NullBool
		if r.XCorr != nil {
			lag = sql.NullFloat64{Float64: r.XCorr.LeadingOffset, Valid: true}
			peak = sql.NullFloat64{Float64: r.XCorr.Confidence, Valid: true}
			xvalid = sql.NullBool{Bool: r.XCorr.Valid, Valid: true}
		}
		if r.MovementOffset != nil {
			movement = sql.NullFloat64{Float64: *r.MovementOffset, Valid: true}
		}
		e := r.Estimate
		_, err = stmt.Exec(
			l.RunID, i, r.FileName, r.EncoderFile, r.Group, string(r.Status), string(r.Kind), r.Detail,
			r.ResetDetected, r.ResetIndex, r.ValidStartIndex, r.Strategy,
			nullTime(r.MotionStart), nullTime(r.EncoderStart), r.MotionPoints, r.EncoderPoints,
			r.OverlapValid, nullTime(r.OverlapStart), nullTime(r.OverlapEnd),
			string(e.Method), e.LeadingOffset, e.DriftRate, e.OffsetStart, e.OffsetEnd,
			e.Valid, e.Confidence, lag, peak, xvalid,
			movement, r.MergedRows, r.OutputPath, int64(r.Elapsed), string(trail),
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.FileName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", l.RunID, err)
	}
	monitoring.Logf("[db] stored run %s with %d records", l.RunID, len(records))
	return nil
}

// Runs returns the most recent runs first.
func (db *DB) Runs(limit int) ([]Run, error) {
	rows, err := db.Query(`SELECT run_id, started_at, finished_at, motion_dir, encoder_dir,
		output_dir, pairs, succeeded
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.RunID, &started, &finished, &r.MotionDir, &r.EncoderDir,
			&r.OutputDir, &r.Pairs, &r.Succeeded); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(sql.NullString{String: started, Valid: true}); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunRecords loads the records of one run in their original order.
func (db *DB) RunRecords(runID string) ([]pipeline.Record, error) {
	rows, err := db.Query(`SELECT file_name, encoder_file, group_name, status, kind, detail,
		reset_detected, reset_index, valid_start_index, strategy,
		motion_start, encoder_start, motion_points, encoder_points,
		overlap_valid, overlap_start, overlap_end,
		estimate_method, leading_offset_s, drift_rate, offset_start_s, offset_end_s,
		estimate_valid, confidence, xcorr_lag_s, xcorr_peak, xcorr_valid,
		movement_offset_s, merged_rows, output_path, elapsed_ns, trail_json
		FROM sync_records WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.Record
	for rows.Next() {
		var (
			r                           pipeline.Record
			status, kind, method, trail string
			motionStart, encoderStart   sql.NullString
			overlapStart, overlapEnd    sql.NullString
			lag, peak, movement         sql.NullFloat64
			xvalid                      sql.NullBool
			elapsed                     int64
		)
		err := rows.Scan(&r.FileName, &r.EncoderFile, &r.Group, &status, &kind, &r.Detail,
			&r.ResetDetected, &r.ResetIndex, &r.ValidStartIndex, &r.Strategy,
			&motionStart, &encoderStart, &r.MotionPoints, &r.EncoderPoints,
			&r.OverlapValid, &overlapStart, &overlapEnd,
			&method, &r.Estimate.LeadingOffset, &r.Estimate.DriftRate, &r.Estimate.OffsetStart, &r.Estimate.OffsetEnd,
			&r.Estimate.Valid, &r.Estimate.Confidence, &lag, &peak, &xvalid,
			&movement, &r.MergedRows, &r.OutputPath, &elapsed, &trail)
		if err != nil {
			return nil, err
		}
		r.Status = pipeline.Status(status)
		r.Kind = pipeline.Kind(kind)
		r.Estimate.Method = estimate.Method(method)
		r.Elapsed = time.Duration(elapsed)

		for _, f := range []struct {
			dst *time.Time
			src sql.NullString
		}{
			{&r.MotionStart, motionStart},
			{&r.EncoderStart, encoderStart},
			{&r.OverlapStart, overlapStart},
			{&r.OverlapEnd, overlapEnd},
		} {
			if *f.dst, err = parseTime(f.src); err != nil {
				return nil, err
			}
		}
		if lag.Valid {
			r.XCorr = &estimate.Estimate{
				Method:        estimate.MethodCrossCorrelation,
				LeadingOffset: lag.Float64,
				Confidence:    peak.Float64,
				Valid:         xvalid.Bool,
			}
		}
		if movement.Valid {
			v := movement.Float64
			r.MovementOffset = &v
		}
		var transitions []strategy.Transition
		if err := json.Unmarshal([]byte(trail), &transitions); err != nil {
			return nil, fmt.Errorf("failed to decode trail of %s: %w", r.FileName, err)
		}
		r.Trail = transitions
		out = append(out, r)
	}
	return out, rows.Err()
}

// StatusCounts tallies the records of a run by status.
func (db *DB) StatusCounts(runID string) (map[pipeline.Status]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM sync_records WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[pipeline.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[pipeline.Status(status)] = n
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s.String, err)
	}
	return t, nil
}
