package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/rotator_controller/rotator"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
	if diff := cmp.Diff(cfg.AzimuthGeometry(), rotator.Geometry{Min: 0, Max: 450}); diff != "" {
		t.Errorf("azimuth geometry: got(-)/want(+):\n%s", diff)
	}
	if cfg.ElevationGeometry() == nil {
		t.Errorf("Default() has no elevation axis")
	}
	if got := cfg.Tick(); got != 50*time.Millisecond {
		t.Errorf("Tick() = %v, want 50ms", got)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
azimuth:
  starting_point: 180
  capability: 450
  ramp:
    slow_start_ms: 2000
    tolerance: 0.5
    reversal_dwell_ms: 750
park:
  azimuth: 0
driver:
  type: gpio
  azimuth: {positive: 17, negative: 27, brake: 22, speed: 18}
  limits: {cw: 5, ccw: 6}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Elevation != nil {
		t.Errorf("elevation configured without an elevation section")
	}
	if cfg.ElevationGeometry() != nil {
		t.Errorf("ElevationGeometry() != nil")
	}
	m := cfg.AzimuthMotion()
	if diff := cmp.Diff(m.Geometry, rotator.Geometry{Min: 180, Max: 630}); diff != "" {
		t.Errorf("geometry: got(-)/want(+):\n%s", diff)
	}
	if m.SlowStart != 2*time.Second || m.SlowDown != time.Second || m.ReversalDwell != 750*time.Millisecond {
		t.Errorf("ramp durations %v/%v/%v", m.SlowStart, m.SlowDown, m.ReversalDwell)
	}
	if m.Tolerance != 0.5 || m.SlowDownDegrees != 10 {
		t.Errorf("tolerance %v, slow down degrees %v", m.Tolerance, m.SlowDownDegrees)
	}
	want := DriverConfig{
		Type:    "gpio",
		Azimuth: AxisPins{Positive: 17, Negative: 27, Brake: 22, Speed: 18},
		Limits:  LimitPins{CW: 5, CCW: 6},
		PWMFreq: 64000,
		Baud:    9600,
		SlaveID: 1,
		PollMs:  100,
	}
	if diff := cmp.Diff(cfg.Driver, want); diff != "" {
		t.Errorf("driver: got(-)/want(+):\n%s", diff)
	}
}

func TestFeedbackDefaults(t *testing.T) {
	for _, test := range []struct {
		yaml         string
		stale, creep time.Duration
	}{
		{"azimuth: {capability: 360}\n", 2 * time.Second, 2 * time.Second},
		{"azimuth: {ramp: {stale_after_ms: 500, creep_ms: 300}}\n", 500 * time.Millisecond, 300 * time.Millisecond},
		{"azimuth: {ramp: {stale_after_ms: -1, creep_ms: -1}}\n", 0, 0},
	} {
		cfg, err := Parse([]byte(test.yaml))
		if err != nil {
			t.Fatalf("Parse(%q): %v", test.yaml, err)
		}
		m := cfg.AzimuthMotion()
		if m.StaleAfter != test.stale || m.Creep != test.creep {
			t.Errorf("Parse(%q): stale after %v creep %v, want %v %v", test.yaml, m.StaleAfter, m.Creep, test.stale, test.creep)
		}
	}
	if m := Default().ElevationMotion(); m.StaleAfter == 0 {
		t.Errorf("default elevation never goes stale")
	}
}

func TestParseContinuous(t *testing.T) {
	cfg, err := Parse([]byte("azimuth: {continuous: true}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg.AzimuthGeometry(), rotator.Geometry{Min: 0, Max: 360, Continuous: true}); diff != "" {
		t.Errorf("got(-)/want(+):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	for _, test := range []struct {
		yaml string
		want string
	}{
		{"azimuth: [", "unmarshal yaml"},
		{"azimuth: {starting_point: 400}", "starting_point"},
		{"azimuth: {capability: 200}", "capability"},
		{"azimuth: {ramp: {start_duty: 1.5}}", "duties"},
		{"azimuth: {ramp: {slow_down_degrees: 1, tolerance: 2}}", "slow_down_degrees"},
		{"elevation: {min: 90, max: 0}", "elevation range"},
		{"elevation: {min: 0, max: 90}\npark: {elevation: 100}", "park.elevation"},
		{"park: {azimuth: 361}", "park.azimuth"},
		{"driver: {type: stepper}", "driver.type"},
		{"driver: {type: modbus}", "driver.port"},
	} {
		_, err := Parse([]byte(test.yaml))
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("Parse(%q) = %v, want error containing %q", test.yaml, err, test.want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotator.yaml")
	if err := os.WriteFile(path, []byte("elevation: {min: 0, max: 90}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cfg.ElevationGeometry(), &rotator.Geometry{Min: 0, Max: 90}); diff != "" {
		t.Errorf("got(-)/want(+):\n%s", diff)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("Load(missing) = %v", err)
	}
}
