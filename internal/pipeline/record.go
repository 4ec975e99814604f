package pipeline

import (
	"errors"
	"io/fs"
	"time"

	"github.com/ahmedessabar/Sync/internal/encoder"
	"github.com/ahmedessabar/Sync/internal/estimate"
	"github.com/ahmedessabar/Sync/internal/merge"
	"github.com/ahmedessabar/Sync/internal/motion"
	"github.com/ahmedessabar/Sync/internal/strategy"
)

// Kind is the failure taxonomy of a processed pair.
type Kind string

const (
	KindNone              Kind = ""
	KindMissingInput      Kind = "MissingInput"
	KindMalformedTimeline Kind = "MalformedTimeline"
	KindLoadFailure       Kind = "LoadFailure"
	KindSyncFailure       Kind = "SyncFailure"
	KindLengthMismatch    Kind = "LengthMismatch"
	KindMergeFailure      Kind = "MergeFailure"
	KindSkipped           Kind = "Skipped"
)

// Status is the reported outcome of a pair.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusMissingFile    Status = "Missing File"
	StatusLoadError      Status = "Load Error"
	StatusLengthMismatch Status = "Length Mismatch"
	StatusSyncFailed     Status = "Sync Failed"
	StatusMergeException Status = "Merge Exception"
	StatusSkipped        Status = "Skipped (Name Format)"
)

// Classify maps an error to its failure kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, encoder.ErrGroupNotFound),
		errors.Is(err, encoder.ErrChannelNotFound),
		errors.Is(err, ErrEmptyEncoder):
		return KindMissingInput
	case errors.Is(err, motion.ErrNoTimeline):
		return KindMalformedTimeline
	case errors.Is(err, strategy.ErrLengthMismatch):
		return KindLengthMismatch
	case errors.Is(err, strategy.ErrSyncFailed):
		return KindSyncFailure
	case errors.Is(err, merge.ErrInsufficientPoints),
		errors.Is(err, merge.ErrOutsideMargin),
		errors.Is(err, merge.ErrEmptyWindow),
		errors.Is(err, ErrOutput),
		errors.Is(err, errPanic):
		return KindMergeFailure
	default:
		return KindLoadFailure
	}
}

// statusFor picks the reported status. A missing file is reported as such;
// other missing inputs are load errors.
func statusFor(kind Kind, err error) Status {
	switch kind {
	case KindNone:
		return StatusSuccess
	case KindSkipped:
		return StatusSkipped
	case KindMissingInput:
		if errors.Is(err, fs.ErrNotExist) {
			return StatusMissingFile
		}
		return StatusLoadError
	case KindLengthMismatch:
		return StatusLengthMismatch
	case KindSyncFailure:
		return StatusSyncFailed
	case KindMergeFailure:
		return StatusMergeException
	default:
		return StatusLoadError
	}
}

// Record is the diagnostic outcome of one pair. It is built once by
// ProcessPair and never modified after it is appended to a Log.
type Record struct {
	FileName    string
	EncoderFile string
	Group       string

	Status Status
	Kind   Kind
	Detail string

	ResetDetected   bool
	ResetIndex      int
	ValidStartIndex int
	Strategy        string
	Trail           []strategy.Transition

	MotionStart   time.Time
	EncoderStart  time.Time
	MotionPoints  int
	EncoderPoints int

	OverlapValid bool
	OverlapStart time.Time
	OverlapEnd   time.Time

	Estimate estimate.Estimate
	// XCorr is the cross-correlation estimate, when both sides carry an
	// acceleration channel.
	XCorr *estimate.Estimate
	// MovementOffset is the motion movement start minus the encoder
	// movement start, in seconds. It is displayed only.
	MovementOffset *float64

	MergedRows int
	OutputPath string
	Elapsed    time.Duration
}

// OK reports whether the pair merged successfully.
func (r Record) OK() bool { return r.Status == StatusSuccess }

func (r Record) failed(err error) Record {
	r.Kind = Classify(err)
	r.Status = statusFor(r.Kind, err)
	r.Detail = err.Error()
	return r
}

// Log is the append-only collection of records of one batch. It is owned by
// a single goroutine; workers write to their own slots and the driver
// appends them when the batch completes.
type Log struct {
	RunID   string
	Started time.Time
	records []Record
}

// NewLog starts an empty log for a run.
func NewLog(runID string, started time.Time) *Log {
	return &Log{RunID: runID, Started: started}
}

// Append adds a finished record.
func (l *Log) Append(r Record) {
	l.records = append(l.records, r)
}

// Records returns a copy of the records in append order.
func (l *Log) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Log) Len() int { return len(l.records) }

// Counts tallies records by status.
func (l *Log) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, r := range l.records {
		out[r.Status]++
	}
	return out
}
