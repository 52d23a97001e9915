package download

import "time"

// MinSampleInterval is the minimum time between two speed samples.
const MinSampleInterval = 500 * time.Millisecond

// Clock provides the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Sampler computes transfer speed from cumulative byte counts. It is not
// safe for concurrent use; each job owns one.
type Sampler struct {
	clock     Clock
	lastAt    time.Time
	lastBytes int64
	speed     float64
}

// NewSampler creates a Sampler whose baseline is the current time and
// zero bytes.
func NewSampler(clock Clock) *Sampler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Sampler{clock: clock, lastAt: clock.Now()}
}

// Observe records the cumulative byte count. When at least
// MinSampleInterval has elapsed since the previous sample it recomputes the
// speed as (bytes - bytesAtLastSample) * 1000 / elapsedMillis and reports
// true. Otherwise the previous speed is kept.
func (s *Sampler) Observe(bytes int64) (float64, bool) {
	now := s.clock.Now()
	elapsed := now.Sub(s.lastAt)
	if elapsed < MinSampleInterval {
		return s.speed, false
	}
	ms := elapsed.Milliseconds()
	s.speed = float64(bytes-s.lastBytes) * 1000 / float64(ms)
	s.lastAt = now
	s.lastBytes = bytes
	return s.speed, true
}

// Speed returns the speed computed by the most recent sample.
func (s *Sampler) Speed() float64 {
	return s.speed
}
