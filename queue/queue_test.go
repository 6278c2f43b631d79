package queue

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/rotator_controller/rotator"
)

var (
	az = rotator.Geometry{Min: 0, Max: 450}
	el = rotator.Geometry{Min: 0, Max: 90}
)

type lockout bool

func (l *lockout) Locked() bool { return bool(*l) }

func TestAdmission(t *testing.T) {
	for _, test := range []struct {
		name    string
		axis    rotator.Axis
		kind    rotator.RequestKind
		heading float64
		want    error
	}{
		{"azimuth", rotator.Azimuth, rotator.ToAzimuth, 180, nil},
		{"azimuth 360", rotator.Azimuth, rotator.ToAzimuth, 360, nil},
		{"azimuth negative", rotator.Azimuth, rotator.ToAzimuth, -1, rotator.ErrOutOfRange},
		{"azimuth over 360", rotator.Azimuth, rotator.ToAzimuth, 400, rotator.ErrOutOfRange},
		{"raw overlap", rotator.Azimuth, rotator.ToAzimuthRaw, 400, nil},
		{"raw past stop", rotator.Azimuth, rotator.ToAzimuthRaw, 451, rotator.ErrOutOfRange},
		{"elevation", rotator.Elevation, rotator.ToElevation, 45, nil},
		{"elevation too high", rotator.Elevation, rotator.ToElevation, 91, rotator.ErrOutOfRange},
		{"azimuth NaN", rotator.Azimuth, rotator.ToAzimuth, math.NaN(), rotator.ErrOutOfRange},
		{"azimuth +Inf", rotator.Azimuth, rotator.ToAzimuth, math.Inf(1), rotator.ErrOutOfRange},
		{"raw NaN", rotator.Azimuth, rotator.ToAzimuthRaw, math.NaN(), rotator.ErrOutOfRange},
		{"raw -Inf", rotator.Azimuth, rotator.ToAzimuthRaw, math.Inf(-1), rotator.ErrOutOfRange},
		{"elevation NaN", rotator.Elevation, rotator.ToElevation, math.NaN(), rotator.ErrOutOfRange},
		{"elevation +Inf", rotator.Elevation, rotator.ToElevation, math.Inf(1), rotator.ErrOutOfRange},
		{"up", rotator.Elevation, rotator.RotateUp, 0, nil},
		{"cw on elevation", rotator.Elevation, rotator.RotateCW, 0, rotator.ErrUnknownKind},
		{"elevation on azimuth", rotator.Azimuth, rotator.ToElevation, 10, rotator.ErrUnknownKind},
		{"bad kind", rotator.Azimuth, rotator.RequestKind(42), 0, rotator.ErrUnknownKind},
		{"bad axis", rotator.Axis(7), rotator.Kill, 0, rotator.ErrUnknownKind},
	} {
		t.Run(test.name, func(t *testing.T) {
			q := New(az, &el)
			var rejected []error
			q.OnReject = func(req rotator.Request, err error) { rejected = append(rejected, err) }
			err := q.Submit(test.axis, test.kind, test.heading)
			if !errors.Is(err, test.want) {
				t.Errorf("Submit = %v, want %v", err, test.want)
			}
			wantRejects := 0
			if test.want != nil {
				wantRejects = 1
			}
			if len(rejected) != wantRejects {
				t.Errorf("OnReject called %d times, want %d", len(rejected), wantRejects)
			}
		})
	}
}

func TestNoElevationAxis(t *testing.T) {
	q := New(az, nil)
	if q.HasElevation() {
		t.Errorf("HasElevation() = true")
	}
	if err := q.Submit(rotator.Elevation, rotator.ToElevation, 10); !errors.Is(err, rotator.ErrUnknownKind) {
		t.Errorf("Submit elevation = %v, want ErrUnknownKind", err)
	}
}

func TestMostRecentWins(t *testing.T) {
	q := New(az, &el)
	q.Submit(rotator.Azimuth, rotator.ToAzimuth, 10)
	q.Submit(rotator.Azimuth, rotator.ToAzimuth, 20)
	q.Submit(rotator.Azimuth, rotator.RotateCCW, 0)
	req, ok := q.Take(rotator.Azimuth)
	if !ok || req.Kind != rotator.RotateCCW {
		t.Errorf("Take = %v, %v; want CCW", req, ok)
	}
	if _, ok := q.Take(rotator.Azimuth); ok {
		t.Errorf("second Take returned a request")
	}
}

func TestBusy(t *testing.T) {
	q := New(az, &el)
	q.Submit(rotator.Azimuth, rotator.ToAzimuth, 90)
	q.Take(rotator.Azimuth)
	if got := q.State(rotator.Azimuth); got != rotator.InProgressToTarget {
		t.Fatalf("State = %v, want IN_PROGRESS_TO_TARGET", got)
	}
	if err := q.Submit(rotator.Azimuth, rotator.ToAzimuth, 90); !errors.Is(err, rotator.ErrAxisBusy) {
		t.Errorf("same target = %v, want ErrAxisBusy", err)
	}
	if err := q.Submit(rotator.Azimuth, rotator.ToAzimuth, 95); err != nil {
		t.Errorf("new target = %v", err)
	}
	if got := q.State(rotator.Azimuth); got != rotator.InProgressToTarget {
		t.Errorf("State with a pending retarget = %v, want IN_PROGRESS_TO_TARGET", got)
	}
	// The first target is queued behind the pending one, so it is not busy.
	if err := q.Submit(rotator.Azimuth, rotator.ToAzimuth, 90); err != nil {
		t.Errorf("original target behind a retarget = %v", err)
	}
}

func TestDirectionalIsIdempotent(t *testing.T) {
	q := New(az, &el)
	q.Submit(rotator.Azimuth, rotator.RotateCW, 0)
	q.Take(rotator.Azimuth)
	if err := q.Submit(rotator.Azimuth, rotator.RotateCW, 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Pending(rotator.Azimuth); ok {
		t.Errorf("duplicate hold queued")
	}
	if got := q.State(rotator.Azimuth); got != rotator.InProgressTimed {
		t.Errorf("State = %v, want IN_PROGRESS_TIMED", got)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	q := New(az, &el)
	if err := q.Submit(rotator.Azimuth, rotator.Stop, 0); err != nil {
		t.Fatal(err)
	}
	if got := q.State(rotator.Azimuth); got != rotator.QueueNone {
		t.Errorf("State = %v, want NONE", got)
	}
}

func TestKill(t *testing.T) {
	q := New(az, &el)
	q.Submit(rotator.Azimuth, rotator.ToAzimuth, 10)
	q.Take(rotator.Azimuth)
	q.Submit(rotator.Azimuth, rotator.Kill, 0)
	// A later request cannot displace the kill.
	q.Submit(rotator.Azimuth, rotator.ToAzimuth, 200)
	req, ok := q.Take(rotator.Azimuth)
	if !ok || req.Kind != rotator.Kill {
		t.Fatalf("Take = %v, %v; want KILL", req, ok)
	}
	if _, ok := q.Active(rotator.Azimuth); ok {
		t.Errorf("kill left an active request")
	}
	req, ok = q.Take(rotator.Azimuth)
	if !ok || req.Heading != 200 {
		t.Errorf("Take after kill = %v, %v; want the later request", req, ok)
	}
}

func TestLockout(t *testing.T) {
	q := New(az, &el)
	l := lockout(true)
	q.SetLockout(&l)
	for _, kind := range []rotator.RequestKind{rotator.ToAzimuth, rotator.RotateCW, rotator.Stop} {
		if err := q.Submit(rotator.Azimuth, kind, 10); !errors.Is(err, rotator.ErrParked) {
			t.Errorf("%v while locked = %v, want ErrParked", kind, err)
		}
	}
	if err := q.Submit(rotator.Azimuth, rotator.Kill, 0); err != nil {
		t.Errorf("kill while locked = %v", err)
	}
	l = false
	if err := q.Submit(rotator.Azimuth, rotator.ToAzimuth, 10); err != nil {
		t.Errorf("after unlock = %v", err)
	}
}

func TestSubmitStamps(t *testing.T) {
	q := New(az, &el)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.Clock = func() time.Time { return at }
	q.Submit(rotator.Elevation, rotator.ToElevation, 30)
	got, _ := q.Pending(rotator.Elevation)
	want := rotator.Request{Kind: rotator.ToElevation, Axis: rotator.Elevation, Heading: 30, SubmittedAt: at}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("got(-)/want(+):\n%s", diff)
	}
}

func TestStatus(t *testing.T) {
	type step struct {
		axis rotator.Axis
		kind rotator.RequestKind
		take bool
	}
	for _, test := range []struct {
		name  string
		el    *rotator.Geometry
		steps []step
		want  rotator.SystemQueueStatus
	}{
		{"empty", &el, nil, rotator.Empty},
		{"loaded azimuth only", nil, []step{{rotator.Azimuth, rotator.RotateCW, false}}, rotator.LoadedAzimuths},
		{"running azimuth only", nil, []step{{rotator.Azimuth, rotator.RotateCW, true}}, rotator.RunningAzimuths},
		{"loaded with elevation", &el, []step{{rotator.Elevation, rotator.RotateUp, false}}, rotator.LoadedAzimuthsElevations},
		{"running with elevation", &el, []step{
			{rotator.Azimuth, rotator.RotateCW, false},
			{rotator.Elevation, rotator.RotateUp, true},
		}, rotator.RunningAzimuthsElevations},
	} {
		t.Run(test.name, func(t *testing.T) {
			q := New(az, test.el)
			for _, s := range test.steps {
				if err := q.Submit(s.axis, s.kind, 0); err != nil {
					t.Fatal(err)
				}
				if s.take {
					q.Take(s.axis)
				}
			}
			if got := q.Status(); got != test.want {
				t.Errorf("Status() = %v, want %v", got, test.want)
			}
		})
	}
}
