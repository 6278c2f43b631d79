// Command rotatord runs the rotator controller loop against real or
// simulated hardware and serves its status over HTTP, websocket and the
// rotctld protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/w1xm/rotator_controller/config"
	"github.com/w1xm/rotator_controller/controller"
	"github.com/w1xm/rotator_controller/internal/observability"
	"github.com/w1xm/rotator_controller/relay"
	"github.com/w1xm/rotator_controller/rotator"
	"github.com/w1xm/rotator_controller/scheduler"
	"github.com/w1xm/rotator_controller/sensor"
	"github.com/w1xm/rotator_controller/sim"
	"golang.org/x/sync/errgroup"
)

var (
	configPath  = flag.String("config", "", "YAML configuration file; a simulated rotator is used when empty")
	listenAddr  = flag.String("listen", "127.0.0.1:8502", "HTTP listen address")
	rotctldAddr = flag.String("rotctld", "127.0.0.1:4533", "rotctld listen address, empty to disable")
	staticDir   = flag.String("static_dir", "", "directory containing static files")
)

// statusInterval is how often websocket clients are sent a snapshot.
const statusInterval = 200 * time.Millisecond

func main() {
	flag.Parse()
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)

	hw, err := openHardware(ctx, g, cfg)
	if err != nil {
		return err
	}
	defer hw.Close()

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return err
	}
	s := NewServer(cfg)
	c, err := controller.New(cfg, hw.driver, hw.source, controller.Options{
		Limits:  hw.limits,
		Metrics: metrics,
		Hooks: controller.Hooks{
			ServiceDisplay: scheduler.Throttle(statusInterval, s.statusCallback),
		},
	})
	if err != nil {
		return err
	}
	s.c = c
	g.Go(func() error {
		return c.Run(ctx, cfg.Tick())
	})

	if *rotctldAddr != "" {
		if err := s.ListenRotctld(ctx, *rotctldAddr); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler:      s.Router(metrics.Handler(), *staticDir),
		Addr:         *listenAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}

type hardware struct {
	driver rotator.Driver
	source rotator.HeadingSource
	limits rotator.LimitSource
	closer io.Closer
}

func (h *hardware) Close() {
	if h.closer == nil {
		return
	}
	if err := h.closer.Close(); err != nil {
		log.Printf("closing hardware: %v", err)
	}
}

func sensorConfig(cfg *config.Config) sensor.Config {
	return sensor.Config{
		Port:            cfg.Sensor.Port,
		Baud:            cfg.Sensor.Baud,
		AzimuthSpan:     cfg.Sensor.AzimuthSpan,
		AzimuthOffset:   cfg.Sensor.AzimuthOffset,
		ElevationOffset: cfg.Sensor.ElevationOffset,
	}
}

// openHardware builds the motor driver, heading source and limit switches
// named by the configuration. Background loops run in g.
func openHardware(ctx context.Context, g *errgroup.Group, cfg *config.Config) (*hardware, error) {
	hw := &hardware{}
	switch cfg.Driver.Type {
	case "sim":
		plant := sim.New(sim.Config{
			Azimuth:      cfg.AzimuthGeometry(),
			Elevation:    cfg.ElevationGeometry(),
			MaxSpeed:     cfg.Sim.MaxSpeed,
			Acceleration: cfg.Sim.Acceleration,
			StartAz:      cfg.Sim.StartAz,
			StartEl:      cfg.Sim.StartEl,
		})
		hw.driver, hw.limits = plant, plant
		if cfg.Sensor.Port != "" {
			hw.source = sensor.Connect(ctx, sensorConfig(cfg))
			g.Go(func() error { return plant.Run(ctx, cfg.Tick(), nil) })
			return hw, nil
		}
		// Feed the plant's register frames through the same decoder a
		// serial sensor uses.
		r, w := io.Pipe()
		sc := sensorConfig(cfg)
		sc.AzimuthSpan = sim.FrameSpan(cfg.AzimuthGeometry())
		sc.AzimuthOffset, sc.ElevationOffset = 0, 0
		hw.source = sensor.Attach(ctx, sc, r)
		g.Go(func() error { return plant.Run(ctx, cfg.Tick(), w) })
		return hw, nil
	case "gpio":
		pins, err := relay.OpenRPi(cfg.Driver.PWMFreq)
		if err != nil {
			return nil, err
		}
		d := relay.NewGPIO(pins,
			relay.AxisPins(cfg.Driver.Azimuth),
			relay.AxisPins(cfg.Driver.Elevation),
			relay.LimitPins(cfg.Driver.Limits))
		hw.driver, hw.limits, hw.closer = d, d, pins
	case "modbus":
		m, err := relay.ConnectModbus(ctx, cfg.Driver.Port, cfg.Driver.Baud, cfg.Driver.SlaveID, cfg.DriverPoll())
		if err != nil {
			return nil, err
		}
		hw.driver, hw.limits = m, m
	}
	hw.source = sensor.Connect(ctx, sensorConfig(cfg))
	return hw, nil
}
