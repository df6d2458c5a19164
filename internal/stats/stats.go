package stats

import (
	"sync"
	"time"

	"keepalive/internal/pinger"
)

// Stats is a point-in-time view of ping statistics.
// TotalAttempts == TotalSuccesses + TotalFailures at every observable point;
// one cycle counts once regardless of how many retries it consumed.
type Stats struct {
	StartedAt           time.Time
	TotalAttempts       int64
	TotalSuccesses      int64
	TotalFailures       int64
	ConsecutiveFailures int64
	LastOutcome         *pinger.Outcome // nil until the first cycle completes
}

// SuccessRate returns successes/attempts in [0,1].
// A freshly started service with no attempts is vacuously healthy (1.0).
func (s Stats) SuccessRate() float64 {
	if s.TotalAttempts == 0 {
		return 1.0
	}
	return float64(s.TotalSuccesses) / float64(s.TotalAttempts)
}

// Uptime returns the time elapsed since the recorder was created.
func (s Stats) Uptime() time.Duration {
	return time.Since(s.StartedAt)
}

// Recorder accumulates ping outcomes. One writer (the scheduler loop) and
// any number of concurrent readers are supported; readers always get a
// consistent copy and never a live reference.
type Recorder struct {
	mu    sync.RWMutex
	stats Stats
}

// NewRecorder creates a recorder whose uptime starts at the given instant.
func NewRecorder(start time.Time) *Recorder {
	return &Recorder{stats: Stats{StartedAt: start}}
}

// Record folds one completed cycle into the stats under a single critical
// section and returns the updated consecutive failure count.
func (r *Recorder) Record(o pinger.Outcome) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalAttempts++
	if o.Success {
		r.stats.TotalSuccesses++
		r.stats.ConsecutiveFailures = 0
	} else {
		r.stats.TotalFailures++
		r.stats.ConsecutiveFailures++
	}
	cp := o
	r.stats.LastOutcome = &cp
	return r.stats.ConsecutiveFailures
}

// Snapshot returns a consistent copy of the current stats.
func (r *Recorder) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.stats
	if s.LastOutcome != nil {
		cp := *s.LastOutcome
		s.LastOutcome = &cp
	}
	return s
}

// SuccessRate is a convenience for Snapshot().SuccessRate().
func (r *Recorder) SuccessRate() float64 {
	return r.Snapshot().SuccessRate()
}
