package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/w1xm/rotator_controller/config"
	"github.com/w1xm/rotator_controller/controller"
	"github.com/w1xm/rotator_controller/sim"
)

// newTestServer runs a controller against a plant that never moves.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	plant := sim.New(sim.Config{
		Azimuth:   cfg.AzimuthGeometry(),
		Elevation: cfg.ElevationGeometry(),
		StartAz:   30,
		StartEl:   10,
	})
	s := NewServer(cfg)
	c, err := controller.New(cfg, plant, plant, controller.Options{
		Hooks: controller.Hooks{ServiceDisplay: s.statusCallback},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.c = c
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(5 * time.Second)
	for c.Snapshot().Passes < 2 {
		if time.Now().After(deadline) {
			t.Fatal("controller loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return s
}

func TestCommandHandler(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router(nil, ""))
	defer srv.Close()

	for _, test := range []struct {
		body string
		want int
	}{
		{`{"command":"enqueue","axis":"azimuth","kind":"AZIMUTH","heading":100}`, http.StatusNoContent},
		{`{"command":"enqueue","axis":"elevation","kind":"ELEVATION","heading":500}`, http.StatusBadRequest},
		{`{"command":"enqueue","axis":"elevation","kind":"CW"}`, http.StatusBadRequest},
		{`{"command":"enqueue","axis":"roll","kind":"STOP"}`, http.StatusBadRequest},
		{`{"command":"dance"}`, http.StatusBadRequest},
		{`{`, http.StatusBadRequest},
		{`{"command":"park"}`, http.StatusNoContent},
		{`{"command":"enqueue","axis":"azimuth","kind":"CW"}`, http.StatusConflict},
		{`{"command":"kill"}`, http.StatusNoContent},
		{`{"command":"unpark"}`, http.StatusNoContent},
		{`{"command":"enqueue","axis":"azimuth","kind":"CW"}`, http.StatusNoContent},
		{`{"command":"track","azimuth":40,"elevation":20}`, http.StatusNoContent},
		{`{"command":"stop_tracking"}`, http.StatusNoContent},
		{`{"command":"stop"}`, http.StatusNoContent},
	} {
		resp, err := http.Post(srv.URL+"/api/command", "application/json", strings.NewReader(test.body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != test.want {
			t.Errorf("POST %s: status %d, want %d", test.body, resp.StatusCode, test.want)
		}
	}
}

func TestStatusHandler(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router(nil, ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	got := map[string]interface{}{
		"queue":       status["queue"],
		"park":        status["park"],
		"autocorrect": status["autocorrect"],
	}
	want := map[string]interface{}{
		"queue":       "EMPTY",
		"park":        "NOT_PARKED",
		"autocorrect": "INACTIVE",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("got(-)/want(+):\n%s", diff)
	}
	az, ok := status["azimuth"].(map[string]interface{})
	if !ok || az["heading"] != 30.0 {
		t.Errorf("azimuth status = %v", status["azimuth"])
	}
}

func TestStatusSocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router(nil, ""))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status map[string]interface{}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status["park"] != "NOT_PARKED" {
		t.Fatalf("park = %v, want NOT_PARKED", status["park"])
	}
	if err := conn.WriteJSON(Command{Command: "park"}); err != nil {
		t.Fatal(err)
	}
	for status["park"] == "NOT_PARKED" {
		if err := conn.ReadJSON(&status); err != nil {
			t.Fatalf("waiting for park: %v", err)
		}
	}
	if status["park"] != "PARK_INITIATED" {
		t.Errorf("park = %v, want PARK_INITIATED", status["park"])
	}
}

func TestRotctld(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, server := net.Pipe()
	defer client.Close()
	go s.handleRotctld(ctx, server)

	r := bufio.NewReader(client)
	exchange := func(cmd string, lines int) []string {
		t.Helper()
		client.SetDeadline(time.Now().Add(5 * time.Second))
		if _, err := fmt.Fprintf(client, "%s\n", cmd); err != nil {
			t.Fatalf("sending %q: %v", cmd, err)
		}
		var got []string
		for i := 0; i < lines; i++ {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("reading reply to %q: %v", cmd, err)
			}
			got = append(got, strings.TrimSuffix(line, "\n"))
		}
		return got
	}

	for _, test := range []struct {
		cmd  string
		want []string
	}{
		{"p", []string{"30.000000", "10.000000"}},
		{`+\get_pos`, []string{"get_pos:", "Azimuth: 30.000000", "Elevation: 10.000000", "RPRT 0"}},
		{"P -20 20", []string{"RPRT 0"}},
		{"P 40", []string{"RPRT -1"}},
		{"P 40 500", []string{"RPRT -1"}},
		{"P nan 10", []string{"RPRT -1"}},
		{"P 40 inf", []string{"RPRT -1"}},
		{"M 16 50", []string{"RPRT 0"}},
		{"M 3 50", []string{"RPRT -1"}},
		{"X", []string{"RPRT -1"}},
		{"K", []string{"RPRT 0"}},
		{"P 10 10", []string{"RPRT -9"}},
	} {
		got := exchange(test.cmd, len(test.want))
		if diff := cmp.Diff(got, test.want); diff != "" {
			t.Errorf("%q: got(-)/want(+):\n%s", test.cmd, diff)
		}
	}
}
