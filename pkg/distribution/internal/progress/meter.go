package progress

import "time"

// DefaultSpeedWindow is the span Meter averages over.
const DefaultSpeedWindow = 2 * time.Second

type sample struct {
	at    time.Time
	total int64
}

// Meter measures the current transfer rate from a series of cumulative byte
// counts, looking only at the trailing window so a stall shows up as a drop
// in speed. It is not safe for concurrent use.
type Meter struct {
	window  time.Duration
	samples []sample
}

// NewMeter returns a Meter over window, or DefaultSpeedWindow if window is
// not positive.
func NewMeter(window time.Duration) *Meter {
	if window <= 0 {
		window = DefaultSpeedWindow
	}
	return &Meter{window: window}
}

// Observe records that total bytes had been transferred at time at and
// returns the rate in bytes per second since the newest sample that is at
// least one window old, or since the first sample.
func (m *Meter) Observe(at time.Time, total int64) float64 {
	m.samples = append(m.samples, sample{at: at, total: total})
	cutoff := at.Add(-m.window)
	drop := 0
	// keep one sample at or before the cutoff as the baseline
	for drop+2 < len(m.samples) && !m.samples[drop+1].at.After(cutoff) {
		drop++
	}
	m.samples = m.samples[drop:]
	base := m.samples[0]
	return Speed(total-base.total, at.Sub(base.at))
}
