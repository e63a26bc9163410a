package dht

import "time"

const (
	freshThreshold = 15 * time.Minute
	deadThreshold  = 30 * time.Minute
)

// LivenessStat tracks how recently a node has responded to us. It is
// created on first insertion into a Bucket and mutated only by Renew.
type LivenessStat struct {
	firstSeen    time.Time
	lastResponse time.Time
}

// NewLivenessStat starts a fresh liveness record as of now.
func NewLivenessStat(now time.Time) *LivenessStat {
	return &LivenessStat{firstSeen: now, lastResponse: now}
}

// Renew records an observed response at now. It never moves
// lastResponse backwards.
func (s *LivenessStat) Renew(now time.Time) {
	if now.After(s.lastResponse) {
		s.lastResponse = now
	}
}

func (s *LivenessStat) FirstSeen() time.Time    { return s.firstSeen }
func (s *LivenessStat) LastResponse() time.Time { return s.lastResponse }

// Rate classifies freshness as of now: positive (fresh, <15m since the
// last response), zero (stale, 15m-30m), or negative (dead, >30m).
//
// The elapsed time is read in whole seconds regardless of how many days
// have passed; a naive timedelta.seconds reading (which silently drops
// the days component) would misclassify anything idle for more than a
// day as fresh again, which is almost certainly unintended upstream.
func (s *LivenessStat) Rate(now time.Time) float64 {
	elapsed := now.Sub(s.lastResponse)

	switch {
	case elapsed < freshThreshold:
		return elapsed.Seconds()/deadThreshold.Seconds() + 1
	case elapsed > deadThreshold:
		return -1
	default:
		return 0
	}
}

func (s *LivenessStat) IsFresh(now time.Time) bool { return s.Rate(now) > 0 }
func (s *LivenessStat) IsStale(now time.Time) bool { return s.Rate(now) == 0 }
func (s *LivenessStat) IsDead(now time.Time) bool  { return s.Rate(now) < 0 }
