package relay

import (
	"context"
	"sync"
	"time"

	"github.com/w1xm/rotator_controller/internal/modbus"
	"github.com/w1xm/rotator_controller/rotator"
)

// Coil layout of the relay module.
const (
	coilCW = iota
	coilCCW
	coilUp
	coilDown
	coilAzBrake
	coilElBrake
	numCoils
)

// Discrete inputs 0-3 are the CW, CCW, UP and DOWN limit switches.
const numInputs = 4

type bus interface {
	WriteCoils(first int, values []bool) error
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
}

// Modbus drives a Modbus RTU relay module. Drive only records the wanted
// coils; the poll loop writes them and reads back the limit switches.
type Modbus struct {
	bus bus

	mu      sync.Mutex
	want    [numCoils]bool
	written [numCoils]bool
	dirty   bool
	limits  rotator.Limits
}

func ConnectModbus(ctx context.Context, port string, baud int, slave byte, poll time.Duration) (*Modbus, error) {
	client := &modbus.Client{
		Port:         port,
		BaudRate:     baud,
		SlaveId:      slave,
		PollInterval: poll,
	}
	m := &Modbus{bus: client, dirty: true}
	client.Poll = m.pollOnce
	return m, client.Connect(ctx)
}

func (m *Modbus) Drive(axis rotator.Axis, cmd rotator.MotorCommand) error {
	if err := check(axis, cmd); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, neg, brake := coilCW, coilCCW, coilAzBrake
	if axis == rotator.Elevation {
		pos, neg, brake = coilUp, coilDown, coilElBrake
	}
	dir := cmd.Out.Direction()
	want := m.want
	want[pos] = dir.Sign() > 0
	want[neg] = dir.Sign() < 0
	want[brake] = dir != rotator.None && cmd.Brake == rotator.BrakeReleased
	if want != m.want {
		m.want = want
		m.dirty = true
	}
	return nil
}

func (m *Modbus) pollOnce() error {
	m.mu.Lock()
	want, dirty := m.want, m.dirty
	m.mu.Unlock()
	if dirty {
		if err := m.bus.WriteCoils(0, want[:]); err != nil {
			return err
		}
		m.mu.Lock()
		m.written = want
		m.dirty = m.want != want
		m.mu.Unlock()
	}
	results, err := m.bus.ReadDiscreteInputs(0, numInputs)
	if err != nil {
		m.mu.Lock()
		// Rewrite everything after the reconnect.
		m.dirty = true
		m.mu.Unlock()
		return err
	}
	inputs := modbus.BytesToBits(results)
	if len(inputs) < numInputs {
		return nil
	}
	m.mu.Lock()
	m.limits = rotator.Limits{CW: inputs[0], CCW: inputs[1], Up: inputs[2], Down: inputs[3]}
	m.mu.Unlock()
	return nil
}

func (m *Modbus) Limits() rotator.Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// Coils returns the coil states last written to the module.
func (m *Modbus) Coils() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, numCoils)
	copy(out, m.written[:])
	return out
}
