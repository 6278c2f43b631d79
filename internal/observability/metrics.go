// Package observability exposes Prometheus metrics for the controller loop.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/w1xm/rotator_controller/rotator"
)

// Collector bundles the controller metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	TaskDuration *prometheus.HistogramVec
	TaskOverruns *prometheus.CounterVec
	Rejections   *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	Phase        *prometheus.GaugeVec
	Heading      *prometheus.GaugeVec
	QueueStatus  prometheus.Gauge
	ParkState    prometheus.Gauge
	Passes       prometheus.Counter
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice returns the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	duration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rotator_task_duration_seconds",
		Help:    "Duration of one run of a scheduler task.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"task"}), "rotator_task_duration_seconds")
	if err != nil {
		return nil, err
	}
	overruns, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotator_task_overruns_total",
		Help: "Task runs that exceeded the per-task budget.",
	}, []string{"task"}), "rotator_task_overruns_total")
	if err != nil {
		return nil, err
	}
	rejections, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotator_queue_rejections_total",
		Help: "Requests refused by the queue, labeled by axis and reason.",
	}, []string{"axis", "reason"}), "rotator_queue_rejections_total")
	if err != nil {
		return nil, err
	}
	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotator_motion_transitions_total",
		Help: "Motion state transitions, labeled by axis and the phase entered.",
	}, []string{"axis", "phase"}), "rotator_motion_transitions_total")
	if err != nil {
		return nil, err
	}
	phase, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rotator_motion_phase",
		Help: "Current motion phase of each axis, as its enum ordinal.",
	}, []string{"axis"}), "rotator_motion_phase")
	if err != nil {
		return nil, err
	}
	heading, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rotator_heading_degrees",
		Help: "Last fresh heading of each axis.",
	}, []string{"axis"}), "rotator_heading_degrees")
	if err != nil {
		return nil, err
	}
	queueStatus, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rotator_queue_status",
		Help: "System queue status, as its enum ordinal.",
	}), "rotator_queue_status")
	if err != nil {
		return nil, err
	}
	parkState, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rotator_park_state",
		Help: "Park state, as its enum ordinal.",
	}), "rotator_park_state")
	if err != nil {
		return nil, err
	}
	passes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rotator_scheduler_passes_total",
		Help: "Completed passes over the task table.",
	}), "rotator_scheduler_passes_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:     gatherer,
		TaskDuration: duration,
		TaskOverruns: overruns,
		Rejections:   rejections,
		Transitions:  transitions,
		Phase:        phase,
		Heading:      heading,
		QueueStatus:  queueStatus,
		ParkState:    parkState,
		Passes:       passes,
	}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveTask(name string, took time.Duration) {
	if c == nil {
		return
	}
	c.TaskDuration.WithLabelValues(name).Observe(took.Seconds())
}

func (c *Collector) Overrun(name string, took time.Duration) {
	if c == nil {
		return
	}
	c.TaskOverruns.WithLabelValues(name).Inc()
}

func (c *Collector) Reject(req rotator.Request, err error) {
	if c == nil {
		return
	}
	c.Rejections.WithLabelValues(req.Axis.String(), rotator.RejectReason(err)).Inc()
}

func (c *Collector) Transition(axis rotator.Axis, from, to rotator.MotionState) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(axis.String(), to.Phase.String()).Inc()
	c.Phase.WithLabelValues(axis.String()).Set(float64(to.Phase))
}

func (c *Collector) SetHeading(axis rotator.Axis, heading float64) {
	if c == nil {
		return
	}
	c.Heading.WithLabelValues(axis.String()).Set(heading)
}

func (c *Collector) SetStatus(q rotator.SystemQueueStatus, p rotator.ParkState) {
	if c == nil {
		return
	}
	c.QueueStatus.Set(float64(q))
	c.ParkState.Set(float64(p))
}

func (c *Collector) IncPasses() {
	if c == nil {
		return
	}
	c.Passes.Inc()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
