package controller

import (
	"time"

	"github.com/w1xm/rotator_controller/rotator"
)

type AxisStatus struct {
	State        rotator.MotionState  `json:"state"`
	Queue        rotator.QueueState   `json:"queue"`
	Heading      float64              `json:"heading"`
	HeadingValid bool                 `json:"heading_valid"`
	Target       float64              `json:"target"`
	Seeking      bool                 `json:"seeking"`
	Command      rotator.MotorCommand `json:"command"`
}

// Snapshot is a copy of the controller state, safe to read from any
// goroutine.
type Snapshot struct {
	At          time.Time                 `json:"at"`
	Passes      uint64                    `json:"passes"`
	Azimuth     AxisStatus                `json:"azimuth"`
	Elevation   *AxisStatus               `json:"elevation,omitempty"`
	Queue       rotator.SystemQueueStatus `json:"queue"`
	Park        rotator.ParkState         `json:"park"`
	Autocorrect rotator.AutocorrectState  `json:"autocorrect"`
}

func (c *Controller) axisStatus(axis rotator.Axis) AxisStatus {
	a := c.axes[axis]
	heading, valid := a.Heading()
	target, seeking := a.Target()
	return AxisStatus{
		State:        a.State(),
		Queue:        c.queue.State(axis),
		Heading:      heading,
		HeadingValid: valid,
		Target:       target,
		Seeking:      seeking,
		Command:      c.commands[axis],
	}
}

func (c *Controller) publish(now time.Time) {
	s := Snapshot{
		At:          now,
		Passes:      c.sched.Passes(),
		Azimuth:     c.axisStatus(rotator.Azimuth),
		Queue:       c.queue.Status(),
		Park:        c.park.State(),
		Autocorrect: c.autocorrect.State(),
	}
	if c.axes[rotator.Elevation] != nil {
		el := c.axisStatus(rotator.Elevation)
		s.Elevation = &el
	}
	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()
}

// Snapshot returns the state as of the end of the last pass.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snap
}
