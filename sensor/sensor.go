// Package sensor reads heading registers from a position encoder interface
// on a serial port. The interface streams lines of the form
//
//	r<diag> <az> <el> ...
//
// with each register as a hex word. Azimuth is unsigned and scaled over the
// configured span; elevation is signed over 360 degrees.
package sensor

import (
	"bufio"
	"context"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/w1xm/rotator_controller/rotator"
)

type Config struct {
	Port string
	Baud int
	// AzimuthSpan is the number of degrees covered by the full azimuth
	// register range. Spans over 360 report raw overlap positions.
	AzimuthSpan float64
	// Offsets are added to the decoded headings.
	AzimuthOffset, ElevationOffset float64
}

// Reading is one decoded frame.
type Reading struct {
	Diag      uint16
	RawAz     uint16
	RawEl     int16
	Azimuth   float64
	Elevation float64
	At        time.Time
}

type Sampler struct {
	cfg Config
	// Clock stamps readings.
	Clock func() time.Time
	// OnReading, if set, is called with every decoded frame.
	OnReading func(Reading)

	mu       sync.Mutex
	last     Reading
	received bool
	offAz    float64
	offEl    float64
}

func New(cfg Config) *Sampler {
	if cfg.AzimuthSpan <= 0 {
		cfg.AzimuthSpan = 360
	}
	return &Sampler{
		cfg:   cfg,
		Clock: time.Now,
		offAz: cfg.AzimuthOffset,
		offEl: cfg.ElevationOffset,
	}
}

// Connect starts reading the port in the background until ctx is done.
func Connect(ctx context.Context, cfg Config) *Sampler {
	s := New(cfg)
	go s.reconnectLoop(ctx)
	return s
}

// Attach reads frames from r in the background, for interfaces that are not
// serial ports. r is closed when ctx is done.
func Attach(ctx context.Context, cfg Config, r io.ReadCloser) *Sampler {
	s := New(cfg)
	go func() {
		stop := context.AfterFunc(ctx, func() { r.Close() })
		defer stop()
		s.watch(r)
		s.lost()
	}()
	return s
}

func (s *Sampler) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		c := &serial.Config{Name: s.cfg.Port, Baud: s.cfg.Baud, ReadTimeout: 2 * time.Second}
		port, err := serial.OpenPort(c)
		if err != nil {
			log.Printf("opening %q: %v", s.cfg.Port, err)
			continue
		}
		log.Printf("opened %q", s.cfg.Port)
		stop := context.AfterFunc(ctx, func() { port.Close() })
		s.watch(port)
		s.lost()
		if stop() {
			port.Close()
		}
	}
}

func (s *Sampler) watch(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if len(input) < 1 {
			continue
		}
		switch input[0] {
		case '!':
			log.Printf("sensor: %s", input[1:])
		case 'r':
			reading, err := s.parse(input[1:])
			if err != nil {
				log.Printf("failed to parse %q: %v", input, err)
				continue
			}
			s.mu.Lock()
			s.last, s.received = reading, true
			s.mu.Unlock()
			if s.OnReading != nil {
				s.OnReading(reading)
			}
		default:
			log.Printf("unknown input: %s", input)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading serial port: %v", err)
	}
}

func (s *Sampler) parse(frame string) (Reading, error) {
	var regs [3]uint16
	for i, word := range strings.Fields(frame) {
		if i >= len(regs) {
			break
		}
		v, err := strconv.ParseUint(word, 16, 16)
		if err != nil {
			return Reading{}, err
		}
		regs[i] = uint16(v)
	}
	s.mu.Lock()
	offAz, offEl := s.offAz, s.offEl
	s.mu.Unlock()
	az := s.cfg.AzimuthSpan * float64(regs[1]) / 65536
	if s.cfg.AzimuthSpan <= 360 {
		az = add(az, offAz)
	} else {
		az += offAz
	}
	return Reading{
		Diag:      regs[0],
		RawAz:     regs[1],
		RawEl:     int16(regs[2]),
		Azimuth:   az,
		Elevation: 360*float64(int16(regs[2]))/65536 + offEl,
		At:        s.Clock(),
	}, nil
}

func add(angle, offset float64) float64 {
	angle += offset
	for angle >= 360 {
		angle -= 360
	}
	for angle < 0 {
		angle += 360
	}
	return angle
}

// lost forgets the last reading once its interface has gone away.
func (s *Sampler) lost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = false
}

// SetOffsets changes the calibration offsets applied to later frames.
func (s *Sampler) SetOffsets(az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offAz, s.offEl = az, el
}

// Last returns the most recent reading.
func (s *Sampler) Last() (Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.received
}

// Sample implements rotator.HeadingSource.
func (s *Sampler) Sample(axis rotator.Axis) rotator.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.received {
		return rotator.Feedback{}
	}
	fb := rotator.Feedback{Heading: s.last.Azimuth, At: s.last.At, Valid: true}
	if axis == rotator.Elevation {
		fb.Heading = s.last.Elevation
	}
	return fb
}
