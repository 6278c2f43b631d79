package rotator

import (
	"encoding/json"
	"math"
	"testing"
)

func TestShortestDelta(t *testing.T) {
	for _, test := range []struct {
		from, to, want float64
	}{
		{359, 1, 2},
		{1, 359, -2},
		{0, 180, 180},
		{180, 0, 180},
		{90, 270, 180},
		{10, 10, 0},
		{-10, 10, 20},
	} {
		if got := ShortestDelta(test.from, test.to); math.Abs(got-test.want) > 1e-9 {
			t.Errorf("ShortestDelta(%v, %v) = %v, want %v", test.from, test.to, got, test.want)
		}
	}
}

func TestRemaining(t *testing.T) {
	cont := Geometry{Min: 0, Max: 360, Continuous: true}
	overlap := Geometry{Min: 0, Max: 450}
	for _, test := range []struct {
		g                     Geometry
		current, target, want float64
		sign                  int
	}{
		{overlap, 90, 180, 90, 1},
		{overlap, 181, 180, -1, 1},
		{overlap, 400, 390, 10, -1},
		{cont, 359, 1, 2, 1},
		{cont, 2, 1, -1, 1},
		{cont, 1, 359, 2, -1},
	} {
		if got := test.g.Remaining(test.current, test.target, test.sign); math.Abs(got-test.want) > 1e-9 {
			t.Errorf("%+v.Remaining(%v, %v, %d) = %v, want %v", test.g, test.current, test.target, test.sign, got, test.want)
		}
	}
}

func TestResolve(t *testing.T) {
	overlap := Geometry{Min: 180, Max: 630}
	for _, test := range []struct {
		raw                    bool
		heading, current, want float64
	}{
		{false, 200, 190, 200},
		{false, 200, 600, 560},
		{false, 90, 300, 450},
		{true, 300, 600, 300},
		{false, 170, 200, 530},
	} {
		if got := overlap.Resolve(test.raw, test.heading, test.current); got != test.want {
			t.Errorf("Resolve(%v, %v, %v) = %v, want %v", test.raw, test.heading, test.current, got, test.want)
		}
	}
	short := Geometry{Min: 0, Max: 90}
	if got := short.Resolve(false, 100, 50); got != 90 {
		t.Errorf("Resolve past the stop = %v, want 90", got)
	}
	cont := Geometry{Continuous: true}
	if got := cont.Resolve(false, 370, 0); got != 10 {
		t.Errorf("continuous Resolve(370) = %v, want 10", got)
	}
}

func TestDistance(t *testing.T) {
	overlap := Geometry{Min: 0, Max: 450}
	if got := overlap.Distance(361, 1); got != 0 {
		t.Errorf("Distance(361, 1) = %v, want 0", got)
	}
	elevation := Geometry{Min: 0, Max: 90}
	if got := elevation.Distance(10, 30); got != 20 {
		t.Errorf("Distance(10, 30) = %v, want 20", got)
	}
}

func TestRequestKindRoundTrip(t *testing.T) {
	for k := Stop; k <= Kill; k++ {
		got, err := ParseRequestKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseRequestKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseRequestKind("SPIN"); err == nil {
		t.Errorf("ParseRequestKind(SPIN) succeeded")
	}
}

func TestRequestJSON(t *testing.T) {
	var got struct {
		Axis Axis        `json:"axis"`
		Kind RequestKind `json:"kind"`
	}
	if err := json.Unmarshal([]byte(`{"axis":"elevation","kind":"DOWN"}`), &got); err != nil {
		t.Fatal(err)
	}
	if got.Axis != Elevation || got.Kind != RotateDown {
		t.Errorf("decoded %v %v, want elevation DOWN", got.Axis, got.Kind)
	}
	if err := json.Unmarshal([]byte(`{"axis":"roll"}`), &got); err == nil {
		t.Errorf("decoding axis roll succeeded")
	}
}

func TestOutputFor(t *testing.T) {
	for _, test := range []struct {
		axis Axis
		dir  Direction
		want Output
	}{
		{Azimuth, CW, OutCW},
		{Azimuth, None, OutStopAz},
		{Elevation, Down, OutDown},
		{Elevation, None, OutStopEl},
	} {
		if got := OutputFor(test.axis, test.dir); got != test.want {
			t.Errorf("OutputFor(%v, %v) = %v, want %v", test.axis, test.dir, got, test.want)
		}
		if got := test.want.Direction(); got != test.dir {
			t.Errorf("%v.Direction() = %v, want %v", test.want, got, test.dir)
		}
	}
}
