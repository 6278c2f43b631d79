// Package queue admits motion requests and holds them until an axis takes
// them. Each axis has one pending slot and one active slot.
package queue

import (
	"fmt"
	"math"
	"time"

	"github.com/w1xm/rotator_controller/rotator"
)

// Lockout blocks every request except Kill while Locked returns true.
type Lockout interface {
	Locked() bool
}

type slot struct {
	// kill is held apart from pending so later submissions cannot displace it.
	kill        *rotator.Request
	pending     *rotator.Request
	active      *rotator.Request
	activeState rotator.QueueState
}

type Queue struct {
	geometry [2]rotator.Geometry
	present  [2]bool
	slots    [2]slot
	lockout  Lockout

	// Clock stamps requests built by Submit.
	Clock func() time.Time
	// OnReject is called for every refused request.
	OnReject func(req rotator.Request, err error)
}

// New returns a queue for an azimuth axis and, when el is non-nil, an
// elevation axis.
func New(az rotator.Geometry, el *rotator.Geometry) *Queue {
	q := &Queue{Clock: time.Now}
	q.geometry[rotator.Azimuth] = az
	q.present[rotator.Azimuth] = true
	if el != nil {
		q.geometry[rotator.Elevation] = *el
		q.present[rotator.Elevation] = true
	}
	return q
}

func (q *Queue) SetLockout(l Lockout) {
	q.lockout = l
}

// HasElevation reports whether the elevation axis is configured.
func (q *Queue) HasElevation() bool {
	return q.present[rotator.Elevation]
}

// Submit builds a request stamped with the queue clock and enqueues it.
func (q *Queue) Submit(axis rotator.Axis, kind rotator.RequestKind, heading float64) error {
	return q.Enqueue(rotator.Request{
		Kind:        kind,
		Axis:        axis,
		Heading:     heading,
		SubmittedAt: q.Clock(),
	})
}

// Enqueue validates and admits req. A nil error means the request was
// admitted or was already being carried out.
func (q *Queue) Enqueue(req rotator.Request) error {
	err := q.admit(req)
	if err != nil && q.OnReject != nil {
		q.OnReject(req, err)
	}
	return err
}

func (q *Queue) admit(req rotator.Request) error {
	if err := q.validate(req); err != nil {
		return err
	}
	s := &q.slots[req.Axis]
	if req.Kind == rotator.Kill {
		s.kill = &req
		s.pending = nil
		return nil
	}
	if q.lockout != nil && q.lockout.Locked() {
		return fmt.Errorf("%v: %w", req, rotator.ErrParked)
	}
	switch {
	case req.Kind == rotator.Stop:
		if s.pending == nil && s.active == nil {
			return nil
		}
	case req.Kind.Direction() != rotator.None:
		if same(s.pending, req) || (s.pending == nil && same(s.active, req)) {
			return nil
		}
	case req.Kind.Seeks():
		if s.pending == nil && s.activeState == rotator.InProgressToTarget && s.active != nil &&
			s.active.Kind == req.Kind && s.active.Heading == req.Heading {
			return fmt.Errorf("%v: already in progress: %w", req, rotator.ErrAxisBusy)
		}
	}
	s.pending = &req
	return nil
}

func same(a *rotator.Request, b rotator.Request) bool {
	return a != nil && a.Kind == b.Kind && a.Heading == b.Heading
}

func (q *Queue) validate(req rotator.Request) error {
	if !req.Kind.Valid() {
		return fmt.Errorf("%v: %w", req.Kind, rotator.ErrUnknownKind)
	}
	if req.Axis != rotator.Azimuth && req.Axis != rotator.Elevation {
		return fmt.Errorf("%v: %w", req.Axis, rotator.ErrUnknownKind)
	}
	if !q.present[req.Axis] {
		return fmt.Errorf("%v axis not configured: %w", req.Axis, rotator.ErrUnknownKind)
	}
	if axis, ok := req.Kind.Axis(); ok && axis != req.Axis {
		return fmt.Errorf("%v on %v axis: %w", req.Kind, req.Axis, rotator.ErrUnknownKind)
	}
	if req.Kind.Seeks() && (math.IsNaN(req.Heading) || math.IsInf(req.Heading, 0)) {
		return fmt.Errorf("heading %v: %w", req.Heading, rotator.ErrOutOfRange)
	}
	g := q.geometry[req.Axis]
	switch req.Kind {
	case rotator.ToAzimuth:
		if req.Heading < 0 || req.Heading > 360 {
			return fmt.Errorf("azimuth %.1f: %w", req.Heading, rotator.ErrOutOfRange)
		}
	case rotator.ToAzimuthRaw:
		lo, hi := g.Min, g.Max
		if g.Continuous {
			lo, hi = 0, 360
		}
		if req.Heading < lo || req.Heading > hi {
			return fmt.Errorf("raw azimuth %.1f outside [%.1f, %.1f]: %w", req.Heading, lo, hi, rotator.ErrOutOfRange)
		}
	case rotator.ToElevation:
		if !g.Contains(req.Heading) {
			return fmt.Errorf("elevation %.1f outside [%.1f, %.1f]: %w", req.Heading, g.Min, g.Max, rotator.ErrOutOfRange)
		}
	}
	return nil
}

// Take moves the pending request of axis into the active slot and returns
// it. A pending Kill is returned first and never becomes active.
func (q *Queue) Take(axis rotator.Axis) (rotator.Request, bool) {
	s := &q.slots[axis]
	if s.kill != nil {
		req := *s.kill
		s.kill = nil
		s.active = nil
		s.activeState = rotator.QueueNone
		return req, true
	}
	if s.pending == nil {
		return rotator.Request{}, false
	}
	req := *s.pending
	s.pending = nil
	switch {
	case req.Kind.Seeks():
		s.active = &req
		s.activeState = rotator.InProgressToTarget
	default:
		s.active = &req
		s.activeState = rotator.InProgressTimed
	}
	return req, true
}

// Complete clears the active request of axis.
func (q *Queue) Complete(axis rotator.Axis) {
	s := &q.slots[axis]
	s.active = nil
	s.activeState = rotator.QueueNone
}

func (q *Queue) Active(axis rotator.Axis) (rotator.Request, bool) {
	s := q.slots[axis]
	if s.active == nil {
		return rotator.Request{}, false
	}
	return *s.active, true
}

func (q *Queue) Pending(axis rotator.Axis) (rotator.Request, bool) {
	s := q.slots[axis]
	if s.pending == nil {
		return rotator.Request{}, false
	}
	return *s.pending, true
}

// State reports the queue state of axis. A running request takes precedence
// over one waiting behind it.
func (q *Queue) State(axis rotator.Axis) rotator.QueueState {
	s := q.slots[axis]
	switch {
	case s.active != nil:
		return s.activeState
	case s.pending != nil, s.kill != nil:
		return rotator.InQueue
	}
	return rotator.QueueNone
}

// Status derives the system queue status from both axes.
func (q *Queue) Status() rotator.SystemQueueStatus {
	az := q.State(rotator.Azimuth)
	el := rotator.QueueNone
	if q.present[rotator.Elevation] {
		el = q.State(rotator.Elevation)
	}
	if az == rotator.QueueNone && el == rotator.QueueNone {
		return rotator.Empty
	}
	running := az.InProgress() || el.InProgress()
	switch {
	case q.present[rotator.Elevation] && running:
		return rotator.RunningAzimuthsElevations
	case q.present[rotator.Elevation]:
		return rotator.LoadedAzimuthsElevations
	case running:
		return rotator.RunningAzimuths
	}
	return rotator.LoadedAzimuths
}
