// Package motion implements the per-axis ramp state machine. An Axis drains
// its request slot once per tick and turns the current phase into a motor
// command.
package motion

import (
	"log"
	"math"
	"time"

	"github.com/w1xm/rotator_controller/rotator"
)

type Config struct {
	Geometry rotator.Geometry

	// SlowStart is the acceleration ramp from StartDuty to full speed.
	SlowStart time.Duration
	// SlowDown is the deceleration ramp toward a target, ending at EndDuty.
	SlowDown time.Duration
	// Creep is how long a target approach may continue at EndDuty once the
	// SlowDown ramp has completed. The axis stops when it runs out.
	Creep time.Duration
	// TimedSlowDown is the deceleration used for stops, from the current
	// duty to zero.
	TimedSlowDown time.Duration
	StartDuty     float64
	EndDuty       float64

	// SlowDownDegrees is the remaining distance at which a target seek
	// starts to decelerate.
	SlowDownDegrees float64
	// Tolerance is how close counts as arrived.
	Tolerance float64
	// ReversalDwell is the minimum time spent stopped before reversing.
	ReversalDwell time.Duration
	// StaleAfter is the age at which a heading sample stops counting as
	// feedback. Zero disables the age check.
	StaleAfter time.Duration
}

// Queue is the request slot an Axis drains.
type Queue interface {
	Take(axis rotator.Axis) (rotator.Request, bool)
	Complete(axis rotator.Axis)
}

type Axis struct {
	id    rotator.Axis
	cfg   Config
	queue Queue

	state rotator.MotionState
	// drive is the energized direction. It only ever changes to or from None.
	drive      rotator.Direction
	lastDrive  rotator.Direction
	duty       float64
	rampFrom   float64
	phaseStart time.Time

	seeking bool
	target  float64
	// reverseTo is the direction to re-accelerate in once stopped.
	reverseTo rotator.Direction
	// killed is set for the tick that applied a Kill.
	killed bool

	heading  float64
	hasFresh bool

	// Observer, if set, sees every state transition.
	Observer func(axis rotator.Axis, from, to rotator.MotionState)
	// Verbose logs transitions.
	Verbose bool
}

func New(id rotator.Axis, cfg Config, q Queue) *Axis {
	return &Axis{id: id, cfg: cfg, queue: q}
}

func (a *Axis) ID() rotator.Axis {
	return a.id
}

func (a *Axis) State() rotator.MotionState {
	return a.state
}

// Heading returns the last fresh heading seen by the axis.
func (a *Axis) Heading() (float64, bool) {
	return a.heading, a.hasFresh
}

// Target returns the position being sought, if any.
func (a *Axis) Target() (float64, bool) {
	return a.target, a.seeking
}

// Tick advances the axis by one scheduler pass.
func (a *Axis) Tick(now time.Time, fb rotator.Feedback) rotator.MotorCommand {
	a.killed = false
	fresh := a.fresh(now, fb)
	if fresh {
		a.heading, a.hasFresh = fb.Heading, true
	}
	if req, ok := a.queue.Take(a.id); ok {
		if a.apply(req, now, fresh) {
			return a.Command()
		}
	}
	a.step(now, fresh)
	return a.Command()
}

// Command is the motor command for the current state. The tick that applies
// a Kill commands the all-stop output; later idle ticks command the axis stop.
func (a *Axis) Command() rotator.MotorCommand {
	if a.killed {
		return rotator.MotorCommand{Out: rotator.OutStop, Brake: rotator.BrakeEngaged}
	}
	if a.drive == rotator.None {
		return rotator.MotorCommand{Out: rotator.OutputFor(a.id, rotator.None), Brake: rotator.BrakeEngaged}
	}
	return rotator.MotorCommand{
		Out:   rotator.OutputFor(a.id, a.drive),
		Brake: rotator.BrakeReleased,
		Duty:  a.duty,
	}
}

func (a *Axis) fresh(now time.Time, fb rotator.Feedback) bool {
	if !fb.Valid {
		return false
	}
	return a.cfg.StaleAfter <= 0 || now.Sub(fb.At) <= a.cfg.StaleAfter
}

// apply acts on a newly taken request and reports whether it changed state.
func (a *Axis) apply(req rotator.Request, now time.Time, fresh bool) bool {
	switch {
	case req.Kind == rotator.Kill:
		a.kill(now)
		return true
	case req.Kind == rotator.Stop:
		a.seeking = false
		a.reverseTo = rotator.None
		switch a.state.Phase {
		case rotator.Idle:
			a.queue.Complete(a.id)
			return false
		case rotator.InitializeTimedSlowDown, rotator.TimedSlowDown:
			return false
		}
		a.enter(rotator.InitializeTimedSlowDown, a.drive, now)
		return true
	case req.Kind.Direction() != rotator.None:
		a.seeking = false
		return a.run(req.Kind.Direction(), now)
	case req.Kind.Seeks():
		return a.seek(req, now, fresh)
	}
	log.Printf("%v: ignoring %v", a.id, req)
	a.queue.Complete(a.id)
	return false
}

func (a *Axis) seek(req rotator.Request, now time.Time, fresh bool) bool {
	if !fresh {
		log.Printf("%v: no heading feedback for %v", a.id, req)
		a.state.Degraded = true
		a.seeking = false
		a.reverseTo = rotator.None
		if a.state.Phase == rotator.Idle {
			a.queue.Complete(a.id)
			return false
		}
		return a.fallback(now)
	}
	a.state.Degraded = false
	target := a.cfg.Geometry.Resolve(req.Kind == rotator.ToAzimuthRaw, req.Heading, a.heading)
	delta := a.cfg.Geometry.Delta(a.heading, target)
	a.target = target
	if math.Abs(delta) <= a.cfg.Tolerance {
		if a.state.Phase == rotator.Idle {
			a.seeking = false
			a.reverseTo = rotator.None
			a.queue.Complete(a.id)
			return false
		}
		// Already there but still moving: come to rest here.
		a.seeking = true
		a.reverseTo = rotator.None
		a.rampFrom = a.duty
		a.enter(rotator.SlowDown, a.drive, now)
		return true
	}
	a.seeking = true
	return a.run(rotator.DirectionFor(a.id, delta), now)
}

// run steers the axis toward dir, reversing through a stop if needed.
func (a *Axis) run(dir rotator.Direction, now time.Time) bool {
	switch {
	case a.state.Phase == rotator.Idle:
		if dir == a.lastDrive.Opposite() && now.Sub(a.phaseStart) < a.cfg.ReversalDwell {
			a.reverseTo = dir
			return false
		}
		a.reverseTo = rotator.None
		a.enter(rotator.InitializeSlowStart, dir, now)
		return true
	case a.drive != dir:
		if a.reverseTo == dir {
			return false
		}
		a.enter(rotator.InitializeDirectionChange, dir, now)
		return true
	}
	a.reverseTo = rotator.None
	switch a.state.Phase {
	case rotator.SlowDown, rotator.InitializeTimedSlowDown, rotator.TimedSlowDown, rotator.InitializeDirectionChange:
		if a.seeking && a.remaining() <= a.cfg.SlowDownDegrees {
			if a.state.Phase != rotator.SlowDown {
				a.rampFrom = a.duty
				a.enter(rotator.SlowDown, a.drive, now)
				return true
			}
			return false
		}
		a.enter(rotator.InitializeNormal, dir, now)
		return true
	}
	return false
}

func (a *Axis) step(now time.Time, fresh bool) {
	elapsed := now.Sub(a.phaseStart)
	switch a.state.Phase {
	case rotator.Idle:
		if a.reverseTo != rotator.None && elapsed >= a.cfg.ReversalDwell {
			a.resume(now, fresh)
		}
	case rotator.InitializeSlowStart:
		a.duty = a.cfg.StartDuty
		a.enter(rotator.SlowStart, a.drive, now)
	case rotator.SlowStart:
		if a.approach(now, fresh) {
			return
		}
		if elapsed >= a.cfg.SlowStart {
			a.duty = 1
			a.enter(rotator.Normal, a.drive, now)
			return
		}
		a.duty = ramp(a.cfg.StartDuty, 1, elapsed, a.cfg.SlowStart)
	case rotator.InitializeNormal:
		a.duty = 1
		a.enter(rotator.Normal, a.drive, now)
	case rotator.Normal:
		a.duty = 1
		a.approach(now, fresh)
	case rotator.SlowDown:
		if a.seeking && a.reverseTo == rotator.None {
			if !fresh {
				a.fallback(now)
				return
			}
			if a.remaining() <= a.cfg.Tolerance {
				a.stop(now)
				return
			}
			if elapsed >= a.cfg.SlowDown+a.cfg.Creep {
				log.Printf("%v: slow-down ended %.1f short of %.1f", a.id, a.remaining(), a.target)
				a.state.Degraded = true
				a.stop(now)
				return
			}
			a.duty = ramp(a.rampFrom, a.cfg.EndDuty, elapsed, a.cfg.SlowDown)
			return
		}
		if elapsed >= a.cfg.SlowDown {
			a.stop(now)
			return
		}
		a.duty = ramp(a.rampFrom, a.cfg.EndDuty, elapsed, a.cfg.SlowDown)
	case rotator.InitializeTimedSlowDown:
		a.rampFrom = a.duty
		a.enter(rotator.TimedSlowDown, a.drive, now)
	case rotator.TimedSlowDown:
		if elapsed >= a.cfg.TimedSlowDown {
			a.stop(now)
			return
		}
		a.duty = ramp(a.rampFrom, 0, elapsed, a.cfg.TimedSlowDown)
	case rotator.InitializeDirectionChange:
		a.reverseTo = a.state.Dir
		a.rampFrom = a.duty
		a.enter(rotator.SlowDown, a.drive, now)
	}
}

// approach starts the slow-down once a target seek is close enough, or
// falls back to a timed stop when feedback is lost.
func (a *Axis) approach(now time.Time, fresh bool) bool {
	if !a.seeking {
		return false
	}
	if !fresh {
		return a.fallback(now)
	}
	if a.remaining() <= a.cfg.SlowDownDegrees {
		a.rampFrom = a.duty
		a.enter(rotator.SlowDown, a.drive, now)
		return true
	}
	return false
}

// resume re-accelerates after the stop of a direction change.
func (a *Axis) resume(now time.Time, fresh bool) {
	dir := a.reverseTo
	a.reverseTo = rotator.None
	if a.seeking {
		if !fresh {
			log.Printf("%v: no heading feedback to resume toward %.1f", a.id, a.target)
			a.state.Degraded = true
			a.seeking = false
			a.queue.Complete(a.id)
			return
		}
		delta := a.cfg.Geometry.Delta(a.heading, a.target)
		if math.Abs(delta) <= a.cfg.Tolerance {
			a.seeking = false
			a.queue.Complete(a.id)
			return
		}
		dir = rotator.DirectionFor(a.id, delta)
	}
	a.enter(rotator.InitializeSlowStart, dir, now)
}

func (a *Axis) fallback(now time.Time) bool {
	log.Printf("%v: heading feedback lost, timed slow-down", a.id)
	a.state.Degraded = true
	a.seeking = false
	a.reverseTo = rotator.None
	a.enter(rotator.InitializeTimedSlowDown, a.drive, now)
	return true
}

func (a *Axis) stop(now time.Time) {
	a.enter(rotator.Idle, rotator.None, now)
	if a.reverseTo == rotator.None {
		a.seeking = false
		a.queue.Complete(a.id)
	}
}

func (a *Axis) kill(now time.Time) {
	a.killed = true
	a.seeking = false
	a.reverseTo = rotator.None
	a.enter(rotator.Idle, rotator.None, now)
	a.queue.Complete(a.id)
}

func (a *Axis) remaining() float64 {
	return a.cfg.Geometry.Remaining(a.heading, a.target, a.drive.Sign())
}

func (a *Axis) enter(phase rotator.Phase, dir rotator.Direction, now time.Time) {
	from := a.state
	a.state.Phase = phase
	a.state.Dir = dir
	a.phaseStart = now
	switch phase {
	case rotator.Idle:
		a.lastDrive = a.drive
		a.drive = rotator.None
		a.duty = 0
	case rotator.InitializeSlowStart:
		a.drive = dir
		a.duty = a.cfg.StartDuty
	}
	if a.Verbose {
		log.Printf("%v: %v -> %v", a.id, from, a.state)
	}
	if a.Observer != nil {
		a.Observer(a.id, from, a.state)
	}
}

func ramp(from, to float64, elapsed, total time.Duration) float64 {
	if total <= 0 || elapsed >= total {
		return to
	}
	f := float64(elapsed) / float64(total)
	return from + (to-from)*f
}
