package download

import (
	"path/filepath"
	"time"
)

// State is the lifecycle state of a download job.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// UnknownTotal marks a total size the server has not reported.
const UnknownTotal int64 = -1

// Progress is an immutable snapshot of a job.
type Progress struct {
	ID          string
	URL         string
	Destination string
	State       State
	// Transferred is the number of bytes written so far.
	Transferred int64
	// Total is the expected size, or UnknownTotal.
	Total int64
	// Speed is in bytes per second, as of the last sample.
	Speed float64
	// Error describes why the job failed or was cancelled.
	Error string
}

// FileName returns the base name of the destination path.
func (p Progress) FileName() string {
	return filepath.Base(p.Destination)
}

// Fraction returns completion in [0, 1]. Completed jobs report 1 and jobs
// with an unknown total report 0 until they complete.
func (p Progress) Fraction() float64 {
	if p.State == StateCompleted {
		return 1
	}
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Transferred) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Remaining returns the bytes left to transfer, or UnknownTotal.
func (p Progress) Remaining() int64 {
	if p.Total < 0 {
		return UnknownTotal
	}
	if r := p.Total - p.Transferred; r > 0 {
		return r
	}
	return 0
}

// ETA returns the estimated time to completion. The second result is false
// when the estimate is undefined: no speed sample yet, or unknown total.
func (p Progress) ETA() (time.Duration, bool) {
	return estimate(p.Speed, p.Remaining())
}

func estimate(speed float64, remaining int64) (time.Duration, bool) {
	if speed <= 0 || remaining < 0 {
		return 0, false
	}
	return time.Duration(float64(remaining) / speed * float64(time.Second)), true
}
