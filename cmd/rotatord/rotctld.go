package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/w1xm/rotator_controller/rotator"
)

// hamlib return codes
const (
	rprtOK       = 0
	rprtInvalid  = -1
	rprtRejected = -9
)

func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to accept: %v", err)
				}
				continue
			}
			go s.handleRotctld(ctx, conn)
		}
	}()
	return nil
}

// rprt maps a controller error onto a hamlib return code.
func rprt(err error) int {
	switch {
	case err == nil:
		return rprtOK
	case errors.Is(err, rotator.ErrOutOfRange):
		return rprtInvalid
	}
	return rprtRejected
}

func (s *Server) handleRotctld(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Split(cmd, " ")
			cmd = parts[0][2:]
			if len(parts) > 1 {
				args = parts[1:]
			}
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(strings.TrimLeft(cmd[1:], " "))
			}
			cmd = string(cmd[0])
		}
		log.Printf("%v command: %q args: %#v", conn.RemoteAddr(), cmd, args)
		code := rprtInvalid
		switch cmd {
		case "1", "dump_caps":
			lo, hi := 0.0, 90.0
			if g := s.cfg.ElevationGeometry(); g != nil {
				lo, hi = g.Min, g.Max
			}
			fmt.Fprintf(conn, `Model name: rotatord
Mfg name: W1XM
Rot type: Az-El
Min Azimuth: -180.00
Max Azimuth: 180.00
Min Elevation: %.2f
Max Elevation: %.2f
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: N
Can Move: Y
Can get Info: N
`, lo, hi)
			code = rprtOK
		case "S", "stop":
			extended = true // always print RPRT
			code = rprt(s.execute(ctx, Command{Command: "stop"}))
		case "K", "park":
			extended = true
			code = rprt(s.execute(ctx, Command{Command: "park"}))
		case "P", "set_pos":
			extended = true
			if len(args) != 2 {
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				break
			}
			el, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				break
			}
			code = rprt(s.setPosition(ctx, az, el))
		case "M", "move":
			extended = true
			if len(args) != 2 {
				break
			}
			dir, err := strconv.Atoi(args[0])
			if err != nil {
				break
			}
			// Speed is accepted but the ramp sets the speed.
			if _, err := strconv.Atoi(args[1]); err != nil {
				break
			}
			var req Command
			switch dir {
			case 2:
				req = Command{Command: "enqueue", Axis: rotator.Elevation, Kind: rotator.RotateUp}
			case 4:
				req = Command{Command: "enqueue", Axis: rotator.Elevation, Kind: rotator.RotateDown}
			case 8:
				req = Command{Command: "enqueue", Axis: rotator.Azimuth, Kind: rotator.RotateCCW}
			case 16:
				req = Command{Command: "enqueue", Axis: rotator.Azimuth, Kind: rotator.RotateCW}
			}
			if req.Command == "" {
				break
			}
			code = rprt(s.execute(ctx, Command{Command: "stop_tracking"}))
			if code == rprtOK {
				code = rprt(s.execute(ctx, req))
			}
		case "p", "get_pos":
			status := s.c.Snapshot()
			az := rotator.Normalize(status.Azimuth.Heading)
			if az > 180 {
				az -= 360
			}
			var el float64
			if status.Elevation != nil {
				el = status.Elevation.Heading
			}
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", az, el)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", az, el)
			}
			code = rprtOK
		}
		if extended || code != rprtOK {
			fmt.Fprintf(conn, "RPRT %d\n", code)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}

// setPosition seeks both axes to a rotctld position and keeps them there.
// Azimuths arrive in [-180, 180].
func (s *Server) setPosition(ctx context.Context, az, el float64) error {
	az = rotator.Normalize(az)
	return s.c.Call(ctx, func() error {
		if err := seek(s.c.Enqueue(rotator.Azimuth, rotator.ToAzimuth, az)); err != nil {
			return err
		}
		if s.c.HasElevation() {
			if err := seek(s.c.Enqueue(rotator.Elevation, rotator.ToElevation, el)); err != nil {
				return err
			}
		}
		return s.c.Track(az, el)
	})
}

// seek treats a repeat of the target already being sought as success.
func seek(err error) error {
	if errors.Is(err, rotator.ErrAxisBusy) {
		return nil
	}
	return err
}
