// Package relay drives rotator motors through relay boards: GPIO relays on
// a Raspberry Pi, or a Modbus relay module.
package relay

import (
	"fmt"

	"github.com/w1xm/rotator_controller/rotator"
)

// AxisPins are the relay pins of one axis. Zero means the relay is absent.
type AxisPins struct {
	Positive int // CW or UP
	Negative int // CCW or DOWN
	Brake    int // energized to release
	Speed    int // PWM
}

// LimitPins are the inputs of the end-of-travel switches, pulled high when
// tripped. Zero means the switch is absent.
type LimitPins struct {
	CW, CCW, Up, Down int
}

// Pins abstracts the GPIO header.
type Pins interface {
	Set(pin int, high bool)
	Get(pin int) bool
	Duty(pin int, duty float64)
}

type GPIO struct {
	pins   Pins
	axes   [2]AxisPins
	limits LimitPins
}

func NewGPIO(pins Pins, az, el AxisPins, limits LimitPins) *GPIO {
	g := &GPIO{pins: pins, limits: limits}
	g.axes[rotator.Azimuth] = az
	g.axes[rotator.Elevation] = el
	for _, axis := range rotator.Axes {
		g.release(g.axes[axis])
	}
	return g
}

func (g *GPIO) set(pin int, high bool) {
	if pin != 0 {
		g.pins.Set(pin, high)
	}
}

func (g *GPIO) release(p AxisPins) {
	g.set(p.Positive, false)
	g.set(p.Negative, false)
	g.set(p.Brake, false)
	if p.Speed != 0 {
		g.pins.Duty(p.Speed, 0)
	}
}

// Drive implements rotator.Driver. The relay of the other direction is
// always dropped before one is energized.
func (g *GPIO) Drive(axis rotator.Axis, cmd rotator.MotorCommand) error {
	if err := check(axis, cmd); err != nil {
		return err
	}
	p := g.axes[axis]
	dir := cmd.Out.Direction()
	if dir == rotator.None {
		g.release(p)
		return nil
	}
	on, off := p.Positive, p.Negative
	if dir.Sign() < 0 {
		on, off = off, on
	}
	g.set(off, false)
	g.set(p.Brake, cmd.Brake == rotator.BrakeReleased)
	if p.Speed != 0 {
		g.pins.Duty(p.Speed, cmd.Duty)
	}
	g.set(on, true)
	return nil
}

// Limits implements rotator.LimitSource.
func (g *GPIO) Limits() rotator.Limits {
	get := func(pin int) bool {
		return pin != 0 && g.pins.Get(pin)
	}
	return rotator.Limits{
		CW:   get(g.limits.CW),
		CCW:  get(g.limits.CCW),
		Up:   get(g.limits.Up),
		Down: get(g.limits.Down),
	}
}

func check(axis rotator.Axis, cmd rotator.MotorCommand) error {
	dir := cmd.Out.Direction()
	if dir != rotator.None && dir.Axis() != axis {
		return fmt.Errorf("output %v on %v axis", cmd.Out, axis)
	}
	if cmd.Duty < 0 || cmd.Duty > 1 {
		return fmt.Errorf("duty %.2f out of range", cmd.Duty)
	}
	return nil
}
