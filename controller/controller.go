// Package controller ties the motion core together: it owns the request
// queue, the axes, the park controller and the autocorrect monitor, and runs
// them from a fixed table of cooperative tasks.
//
// Everything except Post, Call and Snapshot must be called from the
// goroutine running the loop, or before it starts.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/w1xm/rotator_controller/autocorrect"
	"github.com/w1xm/rotator_controller/config"
	"github.com/w1xm/rotator_controller/internal/observability"
	"github.com/w1xm/rotator_controller/motion"
	"github.com/w1xm/rotator_controller/park"
	"github.com/w1xm/rotator_controller/queue"
	"github.com/w1xm/rotator_controller/rotator"
	"github.com/w1xm/rotator_controller/scheduler"
)

// Task names, in table order.
const (
	TaskReadHeadings     = "read headings"
	TaskCheckSerial      = "check serial"
	TaskServiceDisplay   = "service display"
	TaskUpdateLCD        = "update lcd"
	TaskServiceRotation  = "service rotation"
	TaskUpdateSun        = "update sun"
	TaskUpdateMoon       = "update moon"
	TaskUpdateSatellite  = "update satellite"
	TaskUpdateTime       = "update time"
	TaskServiceGPS       = "service gps"
	TaskCheckDirtyConfig = "check dirty configuration"
	TaskCheckButtons     = "check buttons"
	TaskMiscAdmin        = "misc admin"
	TaskDebug            = "debug"
)

// Hooks fill the task slots owned by collaborators outside the motion core.
// Nil hooks are skipped.
type Hooks struct {
	CheckSerial      func(now time.Time)
	ServiceDisplay   func(now time.Time)
	UpdateLCD        func(now time.Time)
	UpdateSun        func(now time.Time)
	UpdateMoon       func(now time.Time)
	UpdateSatellite  func(now time.Time)
	UpdateTime       func(now time.Time)
	ServiceGPS       func(now time.Time)
	CheckDirtyConfig func(now time.Time)
	CheckButtons     func(now time.Time)
}

type Options struct {
	Clock   func() time.Time
	Limits  rotator.LimitSource
	Metrics *observability.Collector
	Hooks   Hooks
}

var ErrStopped = errors.New("controller stopped")

type Controller struct {
	cfg    *config.Config
	clock  func() time.Time
	driver rotator.Driver
	source rotator.HeadingSource
	limits rotator.LimitSource
	hooks  Hooks

	metrics     *observability.Collector
	queue       *queue.Queue
	axes        [2]*motion.Axis
	park        *park.Controller
	autocorrect *autocorrect.Monitor
	sched       *scheduler.Scheduler

	feedback [2]rotator.Feedback
	commands [2]rotator.MotorCommand

	mailbox chan func()
	done    chan struct{}

	snapMu sync.Mutex
	snap   Snapshot
}

func New(cfg *config.Config, driver rotator.Driver, source rotator.HeadingSource, opts Options) (*Controller, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	c := &Controller{
		cfg:     cfg,
		clock:   clock,
		driver:  driver,
		source:  source,
		limits:  opts.Limits,
		hooks:   opts.Hooks,
		metrics: opts.Metrics,
		mailbox: make(chan func(), 64),
		done:    make(chan struct{}),
	}

	c.queue = queue.New(cfg.AzimuthGeometry(), cfg.ElevationGeometry())
	c.queue.Clock = clock
	c.queue.OnReject = func(req rotator.Request, err error) {
		log.Printf("rejected %v: %v", req, err)
		c.metrics.Reject(req, err)
	}

	c.axes[rotator.Azimuth] = motion.New(rotator.Azimuth, cfg.AzimuthMotion(), c.queue)
	if cfg.Elevation != nil {
		c.axes[rotator.Elevation] = motion.New(rotator.Elevation, cfg.ElevationMotion(), c.queue)
	}
	for _, a := range c.axes {
		if a == nil {
			continue
		}
		a.Verbose = cfg.Scheduler.Debug
		a.Observer = c.metrics.Transition
		c.commands[a.ID()] = a.Command()
	}

	c.park = park.New(park.Config{
		Azimuth:           cfg.Park.Azimuth,
		Elevation:         cfg.Park.Elevation,
		Tolerance:         cfg.Park.Tolerance,
		AzimuthGeometry:   cfg.AzimuthGeometry(),
		ElevationGeometry: cfg.ElevationGeometry(),
	}, c.queue, c)
	c.queue.SetLockout(c.park)

	c.autocorrect = autocorrect.New(autocorrect.Config{
		Tolerance: cfg.Autocorrect.Tolerance,
		Interval:  cfg.AutocorrectInterval(),
		Azimuth:   cfg.AzimuthGeometry(),
		Elevation: cfg.ElevationGeometry(),
	}, c.queue, c)

	hook := func(fn func(time.Time)) func(time.Time) {
		if fn == nil {
			return func(time.Time) {}
		}
		return fn
	}
	h := c.hooks
	sched, err := scheduler.New(clock,
		scheduler.Task{Name: TaskReadHeadings, Run: c.readHeadings},
		scheduler.Task{Name: TaskCheckSerial, Run: c.checkSerial},
		scheduler.Task{Name: TaskServiceDisplay, Run: hook(h.ServiceDisplay)},
		scheduler.Task{Name: TaskUpdateLCD, Run: hook(h.UpdateLCD)},
		scheduler.Task{Name: TaskServiceRotation, Run: c.serviceRotation},
		scheduler.Task{Name: TaskUpdateSun, Run: hook(h.UpdateSun)},
		scheduler.Task{Name: TaskUpdateMoon, Run: hook(h.UpdateMoon)},
		scheduler.Task{Name: TaskUpdateSatellite, Run: hook(h.UpdateSatellite)},
		scheduler.Task{Name: TaskUpdateTime, Run: hook(h.UpdateTime)},
		scheduler.Task{Name: TaskServiceGPS, Run: hook(h.ServiceGPS)},
		scheduler.Task{Name: TaskCheckDirtyConfig, Run: hook(h.CheckDirtyConfig)},
		scheduler.Task{Name: TaskCheckButtons, Run: c.checkButtons},
		scheduler.Task{Name: TaskMiscAdmin, Run: c.miscAdmin},
		scheduler.Task{Name: TaskDebug, Run: scheduler.Throttle(cfg.DebugEvery(), c.debug)},
	)
	if err != nil {
		return nil, err
	}
	sched.Instrument = cfg.Scheduler.Debug
	sched.Budget = cfg.TaskBudget()
	sched.Observe = c.metrics.ObserveTask
	sched.OnOverrun = func(name string, took time.Duration) {
		log.Printf("task %q overran: %v", name, took)
		c.metrics.Overrun(name, took)
	}
	c.sched = sched
	c.publish(clock())
	return c, nil
}

func (c *Controller) readHeadings(now time.Time) {
	if c.source == nil {
		return
	}
	for _, a := range c.axes {
		if a != nil {
			c.feedback[a.ID()] = c.source.Sample(a.ID())
		}
	}
}

func (c *Controller) checkSerial(now time.Time) {
	for {
		select {
		case fn := <-c.mailbox:
			fn()
		default:
			if c.hooks.CheckSerial != nil {
				c.hooks.CheckSerial(now)
			}
			return
		}
	}
}

func (c *Controller) serviceRotation(now time.Time) {
	for _, a := range c.axes {
		if a == nil {
			continue
		}
		cmd := a.Tick(now, c.feedback[a.ID()])
		c.commands[a.ID()] = cmd
		if err := c.driver.Drive(a.ID(), cmd); err != nil {
			log.Printf("driving %v: %v", a.ID(), err)
		}
		if h, ok := a.Heading(); ok {
			c.metrics.SetHeading(a.ID(), h)
		}
	}
}

// checkButtons kills any axis driving into a tripped limit switch.
func (c *Controller) checkButtons(now time.Time) {
	if c.limits != nil {
		limits := c.limits.Limits()
		for _, a := range c.axes {
			if a == nil {
				continue
			}
			dir := c.commands[a.ID()].Out.Direction()
			if dir == rotator.None || !limits.Tripped(dir) {
				continue
			}
			log.Printf("%v limit switch tripped driving %v", a.ID(), dir)
			if err := c.queue.Submit(a.ID(), rotator.Kill, 0); err != nil {
				log.Printf("killing %v: %v", a.ID(), err)
			}
		}
	}
	if c.hooks.CheckButtons != nil {
		c.hooks.CheckButtons(now)
	}
}

func (c *Controller) miscAdmin(now time.Time) {
	c.park.Service(now)
	c.autocorrect.Service(now)
	c.metrics.SetStatus(c.queue.Status(), c.park.State())
}

func (c *Controller) debug(now time.Time) {
	if !c.cfg.Scheduler.Debug {
		return
	}
	for _, t := range c.sched.Timings() {
		log.Printf("task %q: runs %d last %v max %v", t.Name, t.Runs, t.Last, t.Max)
	}
}

// RunOnce runs one pass over the task table.
func (c *Controller) RunOnce() {
	now := c.sched.RunOnce()
	c.metrics.IncPasses()
	c.publish(now)
}

// RunTask runs a single task of the table by name.
func (c *Controller) RunTask(name string) error {
	return c.sched.RunTask(name)
}

// Run runs passes every interval until ctx is done, then stops both axes.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	defer close(c.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.halt()
			return ctx.Err()
		case <-t.C:
		}
		c.RunOnce()
	}
}

func (c *Controller) halt() {
	for _, a := range c.axes {
		if a == nil {
			continue
		}
		cmd := rotator.MotorCommand{Out: rotator.OutputFor(a.ID(), rotator.None), Brake: rotator.BrakeEngaged}
		if err := c.driver.Drive(a.ID(), cmd); err != nil {
			log.Printf("stopping %v: %v", a.ID(), err)
		}
	}
}

// Post queues fn to run on the loop goroutine during the next check serial
// task.
func (c *Controller) Post(ctx context.Context, fn func()) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.mailbox <- fn:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop goroutine and returns its error.
func (c *Controller) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := c.Post(ctx, func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits a request. Kill also abandons a park in progress.
func (c *Controller) Enqueue(axis rotator.Axis, kind rotator.RequestKind, heading float64) error {
	if err := c.queue.Submit(axis, kind, heading); err != nil {
		return err
	}
	if kind == rotator.Kill && c.park.State() == rotator.ParkInitiated {
		log.Printf("park cancelled by kill")
		c.park.Unpark()
	}
	return nil
}

func (c *Controller) axis(axis rotator.Axis) (*motion.Axis, error) {
	if (axis != rotator.Azimuth && axis != rotator.Elevation) || c.axes[axis] == nil {
		return nil, fmt.Errorf("%v axis not configured", axis)
	}
	return c.axes[axis], nil
}

func (c *Controller) HasElevation() bool {
	return c.axes[rotator.Elevation] != nil
}

// MotionState implements park.Axes.
func (c *Controller) MotionState(axis rotator.Axis) rotator.MotionState {
	a, err := c.axis(axis)
	if err != nil {
		return rotator.MotionState{}
	}
	return a.State()
}

// Heading returns the last fresh heading of axis.
func (c *Controller) Heading(axis rotator.Axis) (float64, bool) {
	a, err := c.axis(axis)
	if err != nil {
		return 0, false
	}
	return a.Heading()
}

func (c *Controller) Command(axis rotator.Axis) rotator.MotorCommand {
	return c.commands[axis]
}

func (c *Controller) QueueState(axis rotator.Axis) rotator.QueueState {
	return c.queue.State(axis)
}

func (c *Controller) QueueStatus() rotator.SystemQueueStatus {
	return c.queue.Status()
}

func (c *Controller) ParkState() rotator.ParkState {
	return c.park.State()
}

func (c *Controller) AutocorrectState() rotator.AutocorrectState {
	return c.autocorrect.State()
}

// FeedHeading supplies a heading sample directly, for controllers built
// without a HeadingSource. The sample is used until the next one.
func (c *Controller) FeedHeading(axis rotator.Axis, heading float64, at time.Time) {
	c.feedback[axis] = rotator.Feedback{Heading: heading, At: at, Valid: true}
}

// Park starts a park and stops autocorrect so it cannot steer away from the
// park position.
func (c *Controller) Park() error {
	err := c.park.Park()
	if c.park.State() != rotator.NotParked {
		c.autocorrect.Stop()
	}
	return err
}

func (c *Controller) Unpark() {
	c.park.Unpark()
}

// Track starts or retargets the autocorrect monitor.
func (c *Controller) Track(az, el float64) error {
	return c.autocorrect.Track(az, el)
}

func (c *Controller) StopTracking() {
	c.autocorrect.Stop()
}

func (c *Controller) Timings() []scheduler.Timing {
	return c.sched.Timings()
}

// Tasks lists the task table in run order.
func (c *Controller) Tasks() []string {
	return c.sched.Names()
}
