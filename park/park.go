// Package park drives the rotator to its rest position and locks out
// ordinary requests until it is released.
package park

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/w1xm/rotator_controller/rotator"
)

type Queue interface {
	Submit(axis rotator.Axis, kind rotator.RequestKind, heading float64) error
	State(axis rotator.Axis) rotator.QueueState
}

// Axes reads back the motion core.
type Axes interface {
	MotionState(axis rotator.Axis) rotator.MotionState
	Heading(axis rotator.Axis) (float64, bool)
}

type Config struct {
	Azimuth   float64
	Elevation float64
	Tolerance float64

	AzimuthGeometry   rotator.Geometry
	ElevationGeometry *rotator.Geometry
}

type Controller struct {
	cfg   Config
	queue Queue
	axes  Axes
	state rotator.ParkState
}

func New(cfg Config, q Queue, axes Axes) *Controller {
	return &Controller{cfg: cfg, queue: q, axes: axes}
}

func (c *Controller) State() rotator.ParkState {
	return c.state
}

// Locked implements queue.Lockout.
func (c *Controller) Locked() bool {
	return c.state != rotator.NotParked
}

// Park queues moves to the park position. Parking an already parked or
// parking rotator does nothing. An axis already seeking its park heading
// counts as queued.
func (c *Controller) Park() error {
	if c.state != rotator.NotParked {
		return nil
	}
	if c.cfg.Azimuth < 0 || c.cfg.Azimuth > 360 {
		return fmt.Errorf("park azimuth %.1f: %w", c.cfg.Azimuth, rotator.ErrOutOfRange)
	}
	if g := c.cfg.ElevationGeometry; g != nil && !g.Contains(c.cfg.Elevation) {
		return fmt.Errorf("park elevation %.1f: %w", c.cfg.Elevation, rotator.ErrOutOfRange)
	}
	if err := c.submit(rotator.Azimuth, rotator.ToAzimuth, c.cfg.Azimuth); err != nil {
		return fmt.Errorf("park azimuth: %w", err)
	}
	if c.cfg.ElevationGeometry != nil {
		if err := c.submit(rotator.Elevation, rotator.ToElevation, c.cfg.Elevation); err != nil {
			// The azimuth move is already queued; lock out anything that
			// would displace it.
			c.state = rotator.ParkInitiated
			return fmt.Errorf("park elevation: %w", err)
		}
	}
	log.Printf("park initiated: az %.1f el %.1f", c.cfg.Azimuth, c.cfg.Elevation)
	c.state = rotator.ParkInitiated
	return nil
}

func (c *Controller) submit(axis rotator.Axis, kind rotator.RequestKind, heading float64) error {
	if err := c.queue.Submit(axis, kind, heading); !errors.Is(err, rotator.ErrAxisBusy) {
		return err
	}
	return nil
}

// Unpark releases the lockout without moving the rotator.
func (c *Controller) Unpark() {
	if c.state != rotator.NotParked {
		log.Printf("unparked")
	}
	c.state = rotator.NotParked
}

// Service is called once per scheduler pass.
func (c *Controller) Service(now time.Time) {
	if c.state != rotator.ParkInitiated {
		return
	}
	arrived := true
	for _, axis := range c.axisList() {
		if c.queue.State(axis) != rotator.QueueNone || c.axes.MotionState(axis).Phase != rotator.Idle {
			return
		}
		if !c.at(axis) {
			arrived = false
		}
	}
	if !arrived {
		log.Printf("park abandoned: rotator stopped away from park position")
		c.state = rotator.NotParked
		return
	}
	log.Printf("parked")
	c.state = rotator.Parked
}

func (c *Controller) axisList() []rotator.Axis {
	if c.cfg.ElevationGeometry != nil {
		return []rotator.Axis{rotator.Azimuth, rotator.Elevation}
	}
	return []rotator.Axis{rotator.Azimuth}
}

func (c *Controller) at(axis rotator.Axis) bool {
	heading, ok := c.axes.Heading(axis)
	if !ok {
		return false
	}
	if axis == rotator.Elevation {
		return c.cfg.ElevationGeometry.Distance(heading, c.cfg.Elevation) <= c.cfg.Tolerance
	}
	return c.cfg.AzimuthGeometry.Distance(heading, c.cfg.Azimuth) <= c.cfg.Tolerance
}
