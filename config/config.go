package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/w1xm/rotator_controller/motion"
	"github.com/w1xm/rotator_controller/rotator"
)

// RampConfig holds the motion parameters shared by both axes.
type RampConfig struct {
	SlowStartMs     int     `yaml:"slow_start_ms"`
	SlowDownMs      int     `yaml:"slow_down_ms"`
	TimedSlowDownMs int     `yaml:"timed_slow_down_ms"`
	StartDuty       float64 `yaml:"start_duty"` // 0-1
	EndDuty         float64 `yaml:"end_duty"`   // 0-1
	SlowDownDegrees float64 `yaml:"slow_down_degrees"`
	Tolerance       float64 `yaml:"tolerance"`
	ReversalDwellMs int     `yaml:"reversal_dwell_ms"`
	StaleAfterMs    int     `yaml:"stale_after_ms"` // default 2000, negative = never stale
	// CreepMs bounds how long a target approach may creep at end_duty after
	// the slow-down ramp. Default 2000, negative = stop at ramp completion.
	CreepMs int `yaml:"creep_ms"`
}

// AzimuthConfig describes azimuth travel. Raw positions run from
// StartingPoint to StartingPoint+Capability; a capability over 360 is overlap.
type AzimuthConfig struct {
	StartingPoint float64    `yaml:"starting_point"`
	Capability    float64    `yaml:"capability"`
	Continuous    bool       `yaml:"continuous"` // slip ring, no end stops
	Ramp          RampConfig `yaml:"ramp"`
}

type ElevationConfig struct {
	Min  float64    `yaml:"min"`
	Max  float64    `yaml:"max"`
	Ramp RampConfig `yaml:"ramp"`
}

type ParkConfig struct {
	Azimuth   float64 `yaml:"azimuth"`
	Elevation float64 `yaml:"elevation"`
	Tolerance float64 `yaml:"tolerance"`
}

type AutocorrectConfig struct {
	Tolerance  float64 `yaml:"tolerance"`
	IntervalMs int     `yaml:"interval_ms"`
}

type SchedulerConfig struct {
	TickMs       int  `yaml:"tick_ms"`
	TaskBudgetMs int  `yaml:"task_budget_ms"` // 0 = no overrun reporting
	Debug        bool `yaml:"debug"`          // log transitions and task timings
	DebugEveryMs int  `yaml:"debug_every_ms"`
}

// AxisPins are BCM pin numbers of one axis's relays. Speed is a PWM pin;
// 0 means the axis runs at full speed whenever energized.
type AxisPins struct {
	Positive int `yaml:"positive"` // CW or UP
	Negative int `yaml:"negative"` // CCW or DOWN
	Brake    int `yaml:"brake"`    // 0 = no brake relay
	Speed    int `yaml:"speed"`
}

// LimitPins are BCM input pins of the end-of-travel switches, 0 = absent.
type LimitPins struct {
	CW   int `yaml:"cw"`
	CCW  int `yaml:"ccw"`
	Up   int `yaml:"up"`
	Down int `yaml:"down"`
}

// DriverConfig selects the motor output. Type is "sim", "gpio" or "modbus".
type DriverConfig struct {
	Type      string    `yaml:"type"`
	Azimuth   AxisPins  `yaml:"azimuth"`
	Elevation AxisPins  `yaml:"elevation"`
	Limits    LimitPins `yaml:"limits"`
	PWMFreq   int       `yaml:"pwm_freq"`

	Port    string `yaml:"port"` // modbus serial port
	Baud    int    `yaml:"baud"`
	SlaveID byte   `yaml:"slave_id"`
	PollMs  int    `yaml:"poll_ms"`
}

// SensorConfig describes the heading sampler on a serial port.
type SensorConfig struct {
	Port            string  `yaml:"port"`
	Baud            int     `yaml:"baud"`
	AzimuthSpan     float64 `yaml:"azimuth_span"` // degrees covered by the full register range
	AzimuthOffset   float64 `yaml:"azimuth_offset"`
	ElevationOffset float64 `yaml:"elevation_offset"`
}

// SimConfig tunes the simulated plant.
type SimConfig struct {
	MaxSpeed     float64 `yaml:"max_speed"`    // deg/s at full duty
	Acceleration float64 `yaml:"acceleration"` // deg/s^2
	StartAz      float64 `yaml:"start_az"`
	StartEl      float64 `yaml:"start_el"`
}

type Config struct {
	Azimuth     AzimuthConfig     `yaml:"azimuth"`
	Elevation   *ElevationConfig  `yaml:"elevation,omitempty"` // optional
	Park        ParkConfig        `yaml:"park"`
	Autocorrect AutocorrectConfig `yaml:"autocorrect"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Driver      DriverConfig      `yaml:"driver"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Sim         SimConfig         `yaml:"sim"`
}

// Default returns a configuration for an overlapping azimuth/elevation
// rotator driven by the simulator.
func Default() *Config {
	cfg := &Config{
		Azimuth: AzimuthConfig{
			StartingPoint: 0,
			Capability:    450,
		},
		Elevation: &ElevationConfig{Min: 0, Max: 180},
		Driver:    DriverConfig{Type: "sim"},
	}
	cfg.fill()
	return cfg
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.fill()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *RampConfig) fill() {
	if r.SlowStartMs <= 0 {
		r.SlowStartMs = 1000
	}
	if r.SlowDownMs <= 0 {
		r.SlowDownMs = 1000
	}
	if r.TimedSlowDownMs <= 0 {
		r.TimedSlowDownMs = 500
	}
	if r.StartDuty <= 0 {
		r.StartDuty = 0.3
	}
	if r.EndDuty <= 0 {
		r.EndDuty = 0.2
	}
	if r.SlowDownDegrees <= 0 {
		r.SlowDownDegrees = 10
	}
	if r.Tolerance <= 0 {
		r.Tolerance = 1
	}
	if r.StaleAfterMs == 0 {
		r.StaleAfterMs = 2000
	}
	if r.CreepMs == 0 {
		r.CreepMs = 2000
	}
}

func (c *Config) fill() {
	if c.Azimuth.Capability <= 0 {
		c.Azimuth.Capability = 360
	}
	c.Azimuth.Ramp.fill()
	if c.Elevation != nil {
		c.Elevation.Ramp.fill()
	}
	if c.Park.Tolerance <= 0 {
		c.Park.Tolerance = 2
	}
	if c.Autocorrect.Tolerance <= 0 {
		c.Autocorrect.Tolerance = 2
	}
	if c.Autocorrect.IntervalMs <= 0 {
		c.Autocorrect.IntervalMs = 1000
	}
	if c.Scheduler.TickMs <= 0 {
		c.Scheduler.TickMs = 50
	}
	if c.Scheduler.DebugEveryMs <= 0 {
		c.Scheduler.DebugEveryMs = 10000
	}
	if c.Driver.Type == "" {
		c.Driver.Type = "sim"
	}
	if c.Driver.PWMFreq <= 0 {
		c.Driver.PWMFreq = 64000
	}
	if c.Driver.Baud <= 0 {
		c.Driver.Baud = 9600
	}
	if c.Driver.SlaveID == 0 {
		c.Driver.SlaveID = 1
	}
	if c.Driver.PollMs <= 0 {
		c.Driver.PollMs = 100
	}
	if c.Sensor.Baud <= 0 {
		c.Sensor.Baud = 9600
	}
	if c.Sensor.AzimuthSpan <= 0 {
		c.Sensor.AzimuthSpan = 360
	}
	if c.Sim.MaxSpeed <= 0 {
		c.Sim.MaxSpeed = 6
	}
	if c.Sim.Acceleration <= 0 {
		c.Sim.Acceleration = 12
	}
}

func (r RampConfig) validate(axis string) error {
	if r.StartDuty > 1 || r.EndDuty > 1 {
		return fmt.Errorf("%s.ramp duties must be between 0 and 1, got %.2f/%.2f", axis, r.StartDuty, r.EndDuty)
	}
	if r.SlowDownDegrees < r.Tolerance {
		return fmt.Errorf("%s.ramp.slow_down_degrees (%.1f) must be >= tolerance (%.1f)", axis, r.SlowDownDegrees, r.Tolerance)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Azimuth.StartingPoint < 0 || c.Azimuth.StartingPoint >= 360 {
		return fmt.Errorf("azimuth.starting_point must be in [0, 360), got %.1f", c.Azimuth.StartingPoint)
	}
	if !c.Azimuth.Continuous && (c.Azimuth.Capability < 360 || c.Azimuth.Capability > 720) {
		return fmt.Errorf("azimuth.capability must be between 360 and 720, got %.1f", c.Azimuth.Capability)
	}
	if err := c.Azimuth.Ramp.validate("azimuth"); err != nil {
		return err
	}
	if c.Elevation != nil {
		if c.Elevation.Min >= c.Elevation.Max || c.Elevation.Min < -90 || c.Elevation.Max > 180 {
			return fmt.Errorf("elevation range [%.1f, %.1f] is invalid", c.Elevation.Min, c.Elevation.Max)
		}
		if err := c.Elevation.Ramp.validate("elevation"); err != nil {
			return err
		}
		if c.Park.Elevation < c.Elevation.Min || c.Park.Elevation > c.Elevation.Max {
			return fmt.Errorf("park.elevation %.1f outside elevation range", c.Park.Elevation)
		}
	}
	if c.Park.Azimuth < 0 || c.Park.Azimuth > 360 {
		return fmt.Errorf("park.azimuth must be between 0 and 360, got %.1f", c.Park.Azimuth)
	}
	switch c.Driver.Type {
	case "sim", "gpio", "modbus":
	default:
		return fmt.Errorf("driver.type %q is not one of sim, gpio, modbus", c.Driver.Type)
	}
	if c.Driver.Type == "modbus" && c.Driver.Port == "" {
		return fmt.Errorf("driver.port is required for the modbus driver")
	}
	return nil
}

// AzimuthGeometry returns the travel of the azimuth axis.
func (c *Config) AzimuthGeometry() rotator.Geometry {
	if c.Azimuth.Continuous {
		return rotator.Geometry{Min: 0, Max: 360, Continuous: true}
	}
	return rotator.Geometry{Min: c.Azimuth.StartingPoint, Max: c.Azimuth.StartingPoint + c.Azimuth.Capability}
}

// ElevationGeometry returns the travel of the elevation axis, or nil when
// there is none.
func (c *Config) ElevationGeometry() *rotator.Geometry {
	if c.Elevation == nil {
		return nil
	}
	return &rotator.Geometry{Min: c.Elevation.Min, Max: c.Elevation.Max}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (r RampConfig) motion(g rotator.Geometry) motion.Config {
	return motion.Config{
		Geometry:        g,
		SlowStart:       ms(r.SlowStartMs),
		SlowDown:        ms(r.SlowDownMs),
		TimedSlowDown:   ms(r.TimedSlowDownMs),
		StartDuty:       r.StartDuty,
		EndDuty:         r.EndDuty,
		SlowDownDegrees: r.SlowDownDegrees,
		Tolerance:       r.Tolerance,
		ReversalDwell:   ms(r.ReversalDwellMs),
		StaleAfter:      ms(max(r.StaleAfterMs, 0)),
		Creep:           ms(max(r.CreepMs, 0)),
	}
}

// AzimuthMotion returns the state machine parameters of the azimuth axis.
func (c *Config) AzimuthMotion() motion.Config {
	return c.Azimuth.Ramp.motion(c.AzimuthGeometry())
}

// ElevationMotion returns the state machine parameters of the elevation
// axis. It must only be called when Elevation is set.
func (c *Config) ElevationMotion() motion.Config {
	return c.Elevation.Ramp.motion(*c.ElevationGeometry())
}

// Tick returns the scheduler pass interval.
func (c *Config) Tick() time.Duration {
	return ms(c.Scheduler.TickMs)
}

// TaskBudget returns the per-task overrun threshold.
func (c *Config) TaskBudget() time.Duration {
	return ms(c.Scheduler.TaskBudgetMs)
}

// DebugEvery returns how often the debug task logs task timings.
func (c *Config) DebugEvery() time.Duration {
	return ms(c.Scheduler.DebugEveryMs)
}

// AutocorrectInterval returns the drift check throttle.
func (c *Config) AutocorrectInterval() time.Duration {
	return ms(c.Autocorrect.IntervalMs)
}

// DriverPoll returns the modbus poll interval.
func (c *Config) DriverPoll() time.Duration {
	return ms(c.Driver.PollMs)
}
