// Package sim is a simulated rotator: relay-driven motors with inertia,
// drag and end stops, feeding back headings like an encoder interface.
package sim

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/w1xm/rotator_controller/rotator"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Azimuth   rotator.Geometry
	Elevation *rotator.Geometry

	// MaxSpeed is the speed at full duty in degrees/second.
	MaxSpeed float64
	// Acceleration is in degrees/second^2. Drag decelerates an unpowered
	// axis at the same rate.
	Acceleration float64

	StartAz, StartEl float64

	// FrameSpan is the azimuth span encoded in register frames.
	FrameSpan float64
}

type axisState struct {
	heading float64
	vel     float64
	cmd     rotator.MotorCommand
	// energized is the last non-stop direction commanded without an
	// intervening stop.
	energized rotator.Direction
	valid     bool
	limit     rotator.Direction
}

type Plant struct {
	cfg Config
	// Clock stamps samples.
	Clock func() time.Time

	mu        sync.Mutex
	axes      [2]axisState
	reversals [2]int
}

func New(cfg Config) *Plant {
	if cfg.FrameSpan <= 0 {
		cfg.FrameSpan = FrameSpan(cfg.Azimuth)
	}
	p := &Plant{cfg: cfg, Clock: time.Now}
	p.axes[rotator.Azimuth] = axisState{heading: cfg.StartAz, valid: true}
	p.axes[rotator.Elevation] = axisState{heading: cfg.StartEl, valid: true}
	return p
}

// FrameSpan is the default frame span for g: 720 degrees when the azimuth
// overlaps, so raw positions past 360 survive encoding.
func FrameSpan(g rotator.Geometry) float64 {
	if !g.Continuous && g.Max > 360 {
		return 720
	}
	return 360
}

// Drive implements rotator.Driver.
func (p *Plant) Drive(axis rotator.Axis, cmd rotator.MotorCommand) error {
	dir := cmd.Out.Direction()
	if dir != rotator.None && dir.Axis() != axis {
		return fmt.Errorf("output %v on %v axis", cmd.Out, axis)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a := &p.axes[axis]
	if dir != rotator.None && a.energized == dir.Opposite() {
		p.reversals[axis]++
	}
	a.energized = dir
	a.cmd = cmd
	return nil
}

// Reversals counts commands that energized the opposite direction without
// a stop in between.
func (p *Plant) Reversals(axis rotator.Axis) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reversals[axis]
}

// Step advances the physics by dt.
func (p *Plant) Step(dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, axis := range rotator.Axes {
		p.step(axis, dt.Seconds())
	}
}

func (p *Plant) step(axis rotator.Axis, dt float64) {
	a := &p.axes[axis]
	dir := a.cmd.Out.Direction()
	switch {
	case dir != rotator.None && a.cmd.Brake == rotator.BrakeReleased:
		target := float64(dir.Sign()) * a.cmd.Duty * p.cfg.MaxSpeed
		a.vel = approach(a.vel, target, p.cfg.Acceleration*dt)
	case a.cmd.Brake == rotator.BrakeEngaged:
		a.vel = 0
	default:
		a.vel = approach(a.vel, 0, p.cfg.Acceleration*dt)
	}
	a.heading += a.vel * dt
	a.limit = rotator.None

	g := p.cfg.Azimuth
	if axis == rotator.Elevation {
		if p.cfg.Elevation == nil {
			return
		}
		g = *p.cfg.Elevation
	}
	if g.Continuous {
		a.heading = rotator.Normalize(a.heading)
		return
	}
	if a.heading >= g.Max {
		a.heading, a.vel = g.Max, 0
		a.limit = rotator.DirectionFor(axis, 1)
	} else if a.heading <= g.Min {
		a.heading, a.vel = g.Min, 0
		a.limit = rotator.DirectionFor(axis, -1)
	}
}

func approach(v, target, step float64) float64 {
	if math.Abs(target-v) <= step {
		return target
	}
	if target > v {
		return v + step
	}
	return v - step
}

// Sample implements rotator.HeadingSource.
func (p *Plant) Sample(axis rotator.Axis) rotator.Feedback {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.axes[axis]
	return rotator.Feedback{Heading: a.heading, At: p.Clock(), Valid: a.valid}
}

// Limits implements rotator.LimitSource.
func (p *Plant) Limits() rotator.Limits {
	p.mu.Lock()
	defer p.mu.Unlock()
	var l rotator.Limits
	for _, a := range p.axes {
		switch a.limit {
		case rotator.CW:
			l.CW = true
		case rotator.CCW:
			l.CCW = true
		case rotator.Up:
			l.Up = true
		case rotator.Down:
			l.Down = true
		}
	}
	return l
}

func (p *Plant) Heading(axis rotator.Axis) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.axes[axis].heading
}

func (p *Plant) Velocity(axis rotator.Axis) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.axes[axis].vel
}

// SetHeading moves an axis instantly, as if pushed by hand.
func (p *Plant) SetHeading(axis rotator.Axis, heading float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.axes[axis].heading = heading
}

// SetSensorValid simulates losing or regaining heading feedback.
func (p *Plant) SetSensorValid(axis rotator.Axis, valid bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.axes[axis].valid = valid
}

// Frame encodes the current headings as an encoder register frame.
func (p *Plant) Frame() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	az := p.axes[rotator.Azimuth].heading
	el := p.axes[rotator.Elevation].heading
	rawAz := uint16(math.Round(az / p.cfg.FrameSpan * 65536))
	rawEl := uint16(int16(math.Round(el / 360 * 65536)))
	return fmt.Sprintf("r0 %x %x\n", rawAz, rawEl)
}

// Run steps the plant every step until ctx is done. When frames is non-nil
// it also streams register frames to it at the same rate.
func (p *Plant) Run(ctx context.Context, step time.Duration, frames io.WriteCloser) error {
	t := time.NewTicker(step)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	tick := make(chan struct{}, 1)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			p.Step(step)
			select {
			case tick <- struct{}{}:
			default:
			}
		}
	})
	if frames != nil {
		g.Go(func() error {
			defer frames.Close()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-tick:
				}
				if _, err := io.WriteString(frames, p.Frame()); err != nil {
					return fmt.Errorf("writing frame: %w", err)
				}
			}
		})
	}
	return g.Wait()
}
