package relay

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/rotator_controller/rotator"
)

type event struct {
	Pin  int
	High bool
	Duty float64
}

type fakePins struct {
	events []event
	inputs map[int]bool
}

func (f *fakePins) Set(pin int, high bool) {
	f.events = append(f.events, event{Pin: pin, High: high})
}

func (f *fakePins) Get(pin int) bool {
	return f.inputs[pin]
}

func (f *fakePins) Duty(pin int, duty float64) {
	f.events = append(f.events, event{Pin: pin, Duty: duty})
}

var (
	azPins = AxisPins{Positive: 17, Negative: 27, Brake: 22, Speed: 18}
	elPins = AxisPins{Positive: 23, Negative: 24}
)

func TestGPIODrive(t *testing.T) {
	for _, test := range []struct {
		name string
		axis rotator.Axis
		cmd  rotator.MotorCommand
		want []event
	}{
		{
			"cw",
			rotator.Azimuth,
			rotator.MotorCommand{Out: rotator.OutCW, Brake: rotator.BrakeReleased, Duty: 0.5},
			[]event{{Pin: 27}, {Pin: 22, High: true}, {Pin: 18, Duty: 0.5}, {Pin: 17, High: true}},
		},
		{
			"ccw",
			rotator.Azimuth,
			rotator.MotorCommand{Out: rotator.OutCCW, Brake: rotator.BrakeReleased, Duty: 1},
			[]event{{Pin: 17}, {Pin: 22, High: true}, {Pin: 18, Duty: 1}, {Pin: 27, High: true}},
		},
		{
			"stop",
			rotator.Azimuth,
			rotator.MotorCommand{Out: rotator.OutStopAz, Brake: rotator.BrakeEngaged},
			[]event{{Pin: 17}, {Pin: 27}, {Pin: 22}, {Pin: 18}},
		},
		{
			"down without brake or speed",
			rotator.Elevation,
			rotator.MotorCommand{Out: rotator.OutDown, Brake: rotator.BrakeReleased, Duty: 0.3},
			[]event{{Pin: 23}, {Pin: 24, High: true}},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			pins := &fakePins{}
			g := NewGPIO(pins, azPins, elPins, LimitPins{})
			pins.events = nil
			if err := g.Drive(test.axis, test.cmd); err != nil {
				t.Fatalf("Drive: %v", err)
			}
			if diff := cmp.Diff(pins.events, test.want); diff != "" {
				t.Errorf("got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestGPIODriveRejectsWrongAxis(t *testing.T) {
	g := NewGPIO(&fakePins{}, azPins, elPins, LimitPins{})
	if err := g.Drive(rotator.Elevation, rotator.MotorCommand{Out: rotator.OutCW}); err == nil {
		t.Errorf("Drive(elevation, CW) succeeded")
	}
	if err := g.Drive(rotator.Azimuth, rotator.MotorCommand{Out: rotator.OutCW, Duty: 2}); err == nil {
		t.Errorf("Drive with duty 2 succeeded")
	}
}

func TestGPIOLimits(t *testing.T) {
	pins := &fakePins{inputs: map[int]bool{5: true, 6: false}}
	g := NewGPIO(pins, azPins, elPins, LimitPins{CW: 5, CCW: 6})
	want := rotator.Limits{CW: true}
	if diff := cmp.Diff(g.Limits(), want); diff != "" {
		t.Errorf("got(-)/want(+):\n%s", diff)
	}
}

type fakeBus struct {
	writes [][]bool
	inputs []byte
	err    error
}

func (f *fakeBus) WriteCoils(first int, values []bool) error {
	f.writes = append(f.writes, append([]bool(nil), values...))
	return nil
}

func (f *fakeBus) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return f.inputs, f.err
}

func TestModbusPoll(t *testing.T) {
	b := &fakeBus{inputs: []byte{0x02}}
	m := &Modbus{bus: b}
	if err := m.Drive(rotator.Azimuth, rotator.MotorCommand{Out: rotator.OutCCW, Brake: rotator.BrakeReleased, Duty: 1}); err != nil {
		t.Fatal(err)
	}
	if err := m.Drive(rotator.Elevation, rotator.MotorCommand{Out: rotator.OutUp, Brake: rotator.BrakeReleased, Duty: 1}); err != nil {
		t.Fatal(err)
	}
	if err := m.pollOnce(); err != nil {
		t.Fatal(err)
	}
	// Unchanged commands are not rewritten.
	m.Drive(rotator.Azimuth, rotator.MotorCommand{Out: rotator.OutCCW, Brake: rotator.BrakeReleased, Duty: 1})
	if err := m.pollOnce(); err != nil {
		t.Fatal(err)
	}
	want := [][]bool{{false, true, true, false, true, true}}
	if diff := cmp.Diff(b.writes, want); diff != "" {
		t.Errorf("writes: got(-)/want(+):\n%s", diff)
	}
	if diff := cmp.Diff(m.Coils(), want[0]); diff != "" {
		t.Errorf("coils: got(-)/want(+):\n%s", diff)
	}
	if diff := cmp.Diff(m.Limits(), rotator.Limits{CCW: true}); diff != "" {
		t.Errorf("limits: got(-)/want(+):\n%s", diff)
	}
}

func TestModbusRewritesAfterError(t *testing.T) {
	b := &fakeBus{err: errors.New("timeout")}
	m := &Modbus{bus: b}
	m.Drive(rotator.Azimuth, rotator.MotorCommand{Out: rotator.OutCW, Brake: rotator.BrakeReleased})
	if err := m.pollOnce(); err == nil {
		t.Fatal("pollOnce succeeded with a failing bus")
	}
	b.err = nil
	b.inputs = []byte{0}
	if err := m.pollOnce(); err != nil {
		t.Fatal(err)
	}
	if len(b.writes) != 2 {
		t.Errorf("got %d coil writes, want 2", len(b.writes))
	}
}
