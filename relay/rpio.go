package relay

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

const pwmCycle = 32

// RPi is the Pins of a Raspberry Pi, through go-rpio.
type RPi struct {
	freq int

	mu   sync.Mutex
	pins map[int]rpio.Pin
	pwm  map[int]bool
}

// OpenRPi maps the GPIO registers. Requires /dev/gpiomem or root.
func OpenRPi(pwmFreq int) (*RPi, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	return &RPi{
		freq: pwmFreq,
		pins: make(map[int]rpio.Pin),
		pwm:  make(map[int]bool),
	}, nil
}

func (r *RPi) pin(n int) rpio.Pin {
	p, ok := r.pins[n]
	if !ok {
		p = rpio.Pin(n)
		r.pins[n] = p
	}
	return p
}

func (r *RPi) Set(pin int, high bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pin(pin)
	p.Output()
	if high {
		p.High()
	} else {
		p.Low()
	}
}

func (r *RPi) Get(pin int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pin(pin)
	p.Input()
	return p.Read() == rpio.High
}

func (r *RPi) Duty(pin int, duty float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pin(pin)
	if !r.pwm[pin] {
		p.Pwm()
		p.Freq(r.freq * pwmCycle)
		r.pwm[pin] = true
	}
	p.DutyCycle(uint32(duty*pwmCycle+0.5), pwmCycle)
}

// Close drops every pin it touched back to input.
func (r *RPi) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pins {
		p.Input()
	}
	return rpio.Close()
}
