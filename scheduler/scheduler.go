// Package scheduler runs a fixed table of tasks round-robin on one
// goroutine. Tasks must not block; long work is spread across passes and
// throttled with Throttle.
package scheduler

import (
	"fmt"
	"time"
)

type Task struct {
	Name string
	Run  func(now time.Time)
}

// Timing is the instrumentation record of one task.
type Timing struct {
	Name  string
	Enter time.Time
	Exit  time.Time
	Last  time.Duration
	Max   time.Duration
	Runs  uint64
}

type Scheduler struct {
	clock   func() time.Time
	tasks   []Task
	timings []Timing
	index   map[string]int
	passes  uint64

	// Instrument enables the enter/exit timing table.
	Instrument bool
	// Budget is the longest a single task may run before OnOverrun is called.
	// Zero disables overrun reporting.
	Budget    time.Duration
	OnOverrun func(name string, took time.Duration)
	// Observe, if set, sees the duration of every task run.
	Observe func(name string, took time.Duration)
}

// New builds a scheduler over a fixed task table. Task names must be unique.
func New(clock func() time.Time, tasks ...Task) (*Scheduler, error) {
	if clock == nil {
		clock = time.Now
	}
	s := &Scheduler{
		clock:   clock,
		tasks:   tasks,
		timings: make([]Timing, len(tasks)),
		index:   make(map[string]int, len(tasks)),
	}
	for i, t := range tasks {
		if t.Run == nil {
			return nil, fmt.Errorf("task %q has no body", t.Name)
		}
		if _, ok := s.index[t.Name]; ok {
			return nil, fmt.Errorf("duplicate task %q", t.Name)
		}
		s.index[t.Name] = i
		s.timings[i].Name = t.Name
	}
	return s, nil
}

// RunOnce runs every task once, in table order, and returns the pass time
// each task was given.
func (s *Scheduler) RunOnce() time.Time {
	now := s.clock()
	for i := range s.tasks {
		s.run(i, now)
	}
	s.passes++
	return now
}

// RunTask runs a single task by name.
func (s *Scheduler) RunTask(name string) error {
	i, ok := s.index[name]
	if !ok {
		return fmt.Errorf("no task %q", name)
	}
	s.run(i, s.clock())
	return nil
}

func (s *Scheduler) run(i int, now time.Time) {
	enter := s.clock()
	s.tasks[i].Run(now)
	exit := s.clock()
	took := exit.Sub(enter)
	if s.Instrument {
		t := &s.timings[i]
		t.Enter, t.Exit, t.Last = enter, exit, took
		if took > t.Max {
			t.Max = took
		}
		t.Runs++
	}
	if s.Observe != nil {
		s.Observe(s.tasks[i].Name, took)
	}
	if s.Budget > 0 && took > s.Budget && s.OnOverrun != nil {
		s.OnOverrun(s.tasks[i].Name, took)
	}
}

// Passes is the number of completed RunOnce calls.
func (s *Scheduler) Passes() uint64 {
	return s.passes
}

// Names lists the task table in order.
func (s *Scheduler) Names() []string {
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}

// Timings returns a copy of the timing table.
func (s *Scheduler) Timings() []Timing {
	out := make([]Timing, len(s.timings))
	copy(out, s.timings)
	return out
}

// Throttle wraps fn so it runs at most once per interval of pass time. The
// first call always runs.
func Throttle(interval time.Duration, fn func(now time.Time)) func(now time.Time) {
	var last time.Time
	ran := false
	return func(now time.Time) {
		if ran && now.Sub(last) < interval {
			return
		}
		ran, last = true, now
		fn(now)
	}
}
