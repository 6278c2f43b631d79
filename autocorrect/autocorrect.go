// Package autocorrect keeps a parked-on-target rotator aligned with a moving
// target by queuing small corrections when the heading drifts.
package autocorrect

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/w1xm/rotator_controller/rotator"
)

type Queue interface {
	Submit(axis rotator.Axis, kind rotator.RequestKind, heading float64) error
	State(axis rotator.Axis) rotator.QueueState
}

// Headings reports the latest heading of an axis.
type Headings interface {
	Heading(axis rotator.Axis) (float64, bool)
}

type Config struct {
	// Tolerance is the drift in degrees that triggers a correction.
	Tolerance float64
	// Interval throttles drift checks.
	Interval  time.Duration
	Azimuth   rotator.Geometry
	Elevation *rotator.Geometry
}

type Monitor struct {
	cfg      Config
	queue    Queue
	headings Headings

	state     rotator.AutocorrectState
	az, el    float64
	lastCheck time.Time
}

func New(cfg Config, q Queue, h Headings) *Monitor {
	return &Monitor{cfg: cfg, queue: q, headings: h}
}

func (m *Monitor) State() rotator.AutocorrectState {
	return m.state
}

// Target returns the position being tracked.
func (m *Monitor) Target() (az, el float64) {
	return m.az, m.el
}

// Track updates the tracked position, activating the monitor if needed.
// A non-finite position is rejected and leaves the monitor as it was.
func (m *Monitor) Track(az, el float64) error {
	for _, h := range []float64{az, el} {
		if math.IsNaN(h) || math.IsInf(h, 0) {
			return fmt.Errorf("track %v, %v: %w", az, el, rotator.ErrOutOfRange)
		}
	}
	m.az, m.el = rotator.Normalize(az), el
	if m.state == rotator.AutocorrectInactive {
		m.state = rotator.AutocorrectWatchingAz
	}
	return nil
}

// Stop deactivates the monitor. Corrections already queued still run.
func (m *Monitor) Stop() {
	m.state = rotator.AutocorrectInactive
}

// Service is called once per scheduler pass.
func (m *Monitor) Service(now time.Time) {
	switch m.state {
	case rotator.AutocorrectWaitingAz:
		if m.queue.State(rotator.Azimuth) == rotator.QueueNone {
			m.state = m.next(rotator.Azimuth)
			m.lastCheck = now
		}
	case rotator.AutocorrectWaitingEl:
		if m.queue.State(rotator.Elevation) == rotator.QueueNone {
			m.state = rotator.AutocorrectWatchingAz
			m.lastCheck = now
		}
	case rotator.AutocorrectWatchingAz, rotator.AutocorrectWatchingEl:
		if now.Sub(m.lastCheck) < m.cfg.Interval {
			return
		}
		m.lastCheck = now
		axis := rotator.Azimuth
		if m.state == rotator.AutocorrectWatchingEl {
			axis = rotator.Elevation
		}
		if m.correct(axis) {
			m.state = waiting(axis)
			return
		}
		m.state = m.next(axis)
	}
}

// next is the watching state that follows a check of axis.
func (m *Monitor) next(axis rotator.Axis) rotator.AutocorrectState {
	if axis == rotator.Azimuth && m.cfg.Elevation != nil {
		return rotator.AutocorrectWatchingEl
	}
	return rotator.AutocorrectWatchingAz
}

func waiting(axis rotator.Axis) rotator.AutocorrectState {
	if axis == rotator.Elevation {
		return rotator.AutocorrectWaitingEl
	}
	return rotator.AutocorrectWaitingAz
}

// correct queues a move back onto the target if axis is at rest and has
// drifted. It reports whether a correction was queued.
func (m *Monitor) correct(axis rotator.Axis) bool {
	if m.queue.State(axis) != rotator.QueueNone {
		return false
	}
	heading, ok := m.headings.Heading(axis)
	if !ok {
		return false
	}
	kind, target, g := rotator.ToAzimuth, m.az, m.cfg.Azimuth
	if axis == rotator.Elevation {
		kind, target, g = rotator.ToElevation, m.el, *m.cfg.Elevation
	}
	if g.Distance(heading, target) <= m.cfg.Tolerance {
		return false
	}
	if err := m.queue.Submit(axis, kind, target); err != nil {
		log.Printf("autocorrect %v to %.1f: %v", axis, target, err)
		return false
	}
	return true
}
