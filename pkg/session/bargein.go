package session

import "time"

// BargeDetector decides when sustained caller energy should interrupt
// bot playback. A single spike never fires: energy must stay above the
// threshold for the full sustain window, and the cooldown since the
// last barge-in or upstream cancel must have elapsed.
type BargeDetector struct {
	threshold float64
	sustain   time.Duration
	cooldown  time.Duration

	aboveSince time.Time
	lastFire   time.Time
}

// NewBargeDetector builds a detector from tuning parameters.
func NewBargeDetector(t Tuning) *BargeDetector {
	return &BargeDetector{
		threshold: t.BargeThreshold,
		sustain:   t.BargeSustain,
		cooldown:  t.BargeCooldown,
	}
}

// Observe feeds one frame's normalized RMS energy. It returns true when
// barge-in should fire.
func (d *BargeDetector) Observe(energy float64, now time.Time) bool {
	if energy < d.threshold {
		d.aboveSince = time.Time{}
		return false
	}

	if d.aboveSince.IsZero() {
		d.aboveSince = now
		return false
	}

	if now.Sub(d.aboveSince) < d.sustain {
		return false
	}

	if !d.lastFire.IsZero() && now.Sub(d.lastFire) < d.cooldown {
		return false
	}

	d.lastFire = now
	d.aboveSince = time.Time{}
	return true
}

// NoteCancel records an upstream cancel so the cooldown also covers
// cancels that did not originate from energy detection.
func (d *BargeDetector) NoteCancel(now time.Time) {
	d.lastFire = now
	d.aboveSince = time.Time{}
}

// Reset clears the sustain tracking without touching the cooldown.
func (d *BargeDetector) Reset() {
	d.aboveSince = time.Time{}
}
