package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/w1xm/rotator_controller/config"
	"github.com/w1xm/rotator_controller/controller"
	"github.com/w1xm/rotator_controller/rotator"
)

type Server struct {
	cfg *config.Config
	c   *controller.Controller

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     controller.Snapshot
}

func NewServer(cfg *config.Config) *Server {
	s := &Server{cfg: cfg}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

func (s *Server) Router(metrics http.Handler, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/command", s.CommandHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(s.c.Snapshot())
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command   string              `json:"command"`
	Axis      rotator.Axis        `json:"axis"`
	Kind      rotator.RequestKind `json:"kind"`
	Heading   float64             `json:"heading"`
	Azimuth   float64             `json:"azimuth"`
	Elevation float64             `json:"elevation"`
}

var errUnknownCommand = errors.New("unknown command")

// execute runs cmd on the controller loop.
func (s *Server) execute(ctx context.Context, cmd Command) error {
	return s.c.Call(ctx, func() error {
		switch cmd.Command {
		case "enqueue":
			return s.c.Enqueue(cmd.Axis, cmd.Kind, cmd.Heading)
		case "stop":
			s.c.StopTracking()
			return s.all(rotator.Stop)
		case "kill":
			s.c.StopTracking()
			return s.all(rotator.Kill)
		case "park":
			s.c.StopTracking()
			return s.c.Park()
		case "unpark":
			s.c.Unpark()
			return nil
		case "track":
			return s.c.Track(cmd.Azimuth, cmd.Elevation)
		case "stop_tracking":
			s.c.StopTracking()
			return nil
		}
		return fmt.Errorf("%w %q", errUnknownCommand, cmd.Command)
	})
}

// all submits kind to every configured axis.
func (s *Server) all(kind rotator.RequestKind) error {
	err := s.c.Enqueue(rotator.Azimuth, kind, 0)
	if s.c.HasElevation() {
		err = errors.Join(err, s.c.Enqueue(rotator.Elevation, kind, 0))
	}
	return err
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, rotator.ErrParked), errors.Is(err, rotator.ErrAxisBusy):
		return http.StatusConflict
	case errors.Is(err, controller.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.execute(r.Context(), cmd); err != nil {
		http.Error(w, err.Error(), statusCode(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := s.execute(ctx, msg); err != nil {
				log.Printf("%v: %s: %v", conn.RemoteAddr(), msg.Command, err)
			}
		}
	}()
	// Wake the writer when the connection goes away.
	go func() {
		<-ctx.Done()
		s.statusMu.Lock()
		s.statusCond.Broadcast()
		s.statusMu.Unlock()
	}()

	send := func(status controller.Snapshot) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if err := send(s.c.Snapshot()); err != nil {
		log.Print(err)
		return
	}
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	for ctx.Err() == nil {
		s.statusCond.Wait()
		if ctx.Err() != nil {
			return
		}
		status := s.status
		s.statusMu.RUnlock()
		err := send(status)
		s.statusMu.RLock()
		if err != nil {
			log.Print(err)
			return
		}
	}
}

// statusCallback publishes the latest snapshot to websocket clients. It runs
// in the service display task.
func (s *Server) statusCallback(now time.Time) {
	status := s.c.Snapshot()
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusCond.Broadcast()
}
