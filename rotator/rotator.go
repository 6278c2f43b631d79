// Package rotator holds the types shared by the motion core and the
// collaborators that feed it or consume its output.
package rotator

import (
	"errors"
	"fmt"
	"time"
)

type Axis int

const (
	Azimuth Axis = iota
	Elevation
)

// Axes lists both axes in service order.
var Axes = [...]Axis{Azimuth, Elevation}

func (a Axis) String() string {
	switch a {
	case Azimuth:
		return "azimuth"
	case Elevation:
		return "elevation"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

func (a Axis) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Axis) UnmarshalText(text []byte) error {
	switch string(text) {
	case "azimuth":
		*a = Azimuth
	case "elevation":
		*a = Elevation
	default:
		return fmt.Errorf("unknown axis %q", text)
	}
	return nil
}

// Direction is a direction of travel. CW and Up are the positive directions
// of their axes.
type Direction int

const (
	None Direction = iota
	CW
	CCW
	Up
	Down
)

var directionNames = [...]string{"NONE", "CW", "CCW", "UP", "DOWN"}

func (d Direction) String() string {
	if d >= 0 && int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d Direction) Axis() Axis {
	if d == Up || d == Down {
		return Elevation
	}
	return Azimuth
}

// Sign returns +1 for CW/Up, -1 for CCW/Down and 0 for None.
func (d Direction) Sign() int {
	switch d {
	case CW, Up:
		return 1
	case CCW, Down:
		return -1
	}
	return 0
}

func (d Direction) Opposite() Direction {
	switch d {
	case CW:
		return CCW
	case CCW:
		return CW
	case Up:
		return Down
	case Down:
		return Up
	}
	return None
}

// DirectionFor maps the sign of a heading delta onto a direction of axis.
func DirectionFor(axis Axis, sign float64) Direction {
	switch {
	case sign > 0 && axis == Azimuth:
		return CW
	case sign < 0 && axis == Azimuth:
		return CCW
	case sign > 0:
		return Up
	case sign < 0:
		return Down
	}
	return None
}

// Phase is the ramp phase of an axis.
type Phase int

const (
	Idle Phase = iota
	InitializeSlowStart
	SlowStart
	Normal
	SlowDown
	InitializeTimedSlowDown
	TimedSlowDown
	InitializeDirectionChange
	InitializeNormal
)

var phaseNames = [...]string{
	"IDLE",
	"INITIALIZE_SLOW_START",
	"SLOW_START",
	"NORMAL",
	"SLOW_DOWN",
	"INITIALIZE_TIMED_SLOW_DOWN",
	"TIMED_SLOW_DOWN",
	"INITIALIZE_DIR_CHANGE",
	"INITIALIZE_NORMAL",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// MotionState is the published state of one axis. Dir is the direction the
// phase refers to; for InitializeDirectionChange it is the new direction.
type MotionState struct {
	Phase Phase
	Dir   Direction
	// Degraded is set when a target seek had to fall back to a timed
	// slow-down because heading feedback went stale.
	Degraded bool
}

func (s MotionState) String() string {
	if s.Phase == Idle {
		return s.Phase.String()
	}
	return s.Phase.String() + "(" + s.Dir.String() + ")"
}

type RequestKind int

const (
	Stop RequestKind = iota
	ToAzimuth
	ToAzimuthRaw
	RotateCW
	RotateCCW
	RotateUp
	RotateDown
	ToElevation
	Kill
)

var kindNames = [...]string{
	"STOP",
	"AZIMUTH",
	"AZIMUTH_RAW",
	"CW",
	"CCW",
	"UP",
	"DOWN",
	"ELEVATION",
	"KILL",
}

func (k RequestKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}

func (k RequestKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *RequestKind) UnmarshalText(text []byte) error {
	kind, err := ParseRequestKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseRequestKind is the inverse of RequestKind.String.
func ParseRequestKind(s string) (RequestKind, error) {
	for i, name := range kindNames {
		if name == s {
			return RequestKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k RequestKind) Valid() bool {
	return k >= Stop && k <= Kill
}

// Seeks reports whether the request drives toward a heading.
func (k RequestKind) Seeks() bool {
	return k == ToAzimuth || k == ToAzimuthRaw || k == ToElevation
}

// Direction returns the direction of a directional hold, or None.
func (k RequestKind) Direction() Direction {
	switch k {
	case RotateCW:
		return CW
	case RotateCCW:
		return CCW
	case RotateUp:
		return Up
	case RotateDown:
		return Down
	}
	return None
}

// Axis returns the axis the kind is bound to. Stop and Kill apply to either
// axis and report ok == false.
func (k RequestKind) Axis() (axis Axis, ok bool) {
	switch k {
	case ToAzimuth, ToAzimuthRaw, RotateCW, RotateCCW:
		return Azimuth, true
	case ToElevation, RotateUp, RotateDown:
		return Elevation, true
	}
	return 0, false
}

type Request struct {
	Kind        RequestKind
	Axis        Axis
	Heading     float64
	SubmittedAt time.Time
}

func (r Request) String() string {
	if r.Kind.Seeks() {
		return fmt.Sprintf("%v %v %.1f", r.Axis, r.Kind, r.Heading)
	}
	return fmt.Sprintf("%v %v", r.Axis, r.Kind)
}

type QueueState int

const (
	QueueNone QueueState = iota
	InQueue
	InProgressTimed
	InProgressToTarget
)

var queueStateNames = [...]string{"NONE", "IN_QUEUE", "IN_PROGRESS_TIMED", "IN_PROGRESS_TO_TARGET"}

func (s QueueState) String() string {
	if s >= 0 && int(s) < len(queueStateNames) {
		return queueStateNames[s]
	}
	return fmt.Sprintf("QueueState(%d)", int(s))
}

func (s QueueState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s QueueState) InProgress() bool {
	return s == InProgressTimed || s == InProgressToTarget
}

type SystemQueueStatus int

const (
	Empty SystemQueueStatus = iota
	LoadedAzimuths
	RunningAzimuths
	LoadedAzimuthsElevations
	RunningAzimuthsElevations
)

var systemQueueNames = [...]string{
	"EMPTY",
	"LOADED_AZIMUTHS",
	"RUNNING_AZIMUTHS",
	"LOADED_AZIMUTHS_ELEVATIONS",
	"RUNNING_AZIMUTHS_ELEVATIONS",
}

func (s SystemQueueStatus) String() string {
	if s >= 0 && int(s) < len(systemQueueNames) {
		return systemQueueNames[s]
	}
	return fmt.Sprintf("SystemQueueStatus(%d)", int(s))
}

func (s SystemQueueStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ParkState int

const (
	NotParked ParkState = iota
	ParkInitiated
	Parked
)

var parkNames = [...]string{"NOT_PARKED", "PARK_INITIATED", "PARKED"}

func (s ParkState) String() string {
	if s >= 0 && int(s) < len(parkNames) {
		return parkNames[s]
	}
	return fmt.Sprintf("ParkState(%d)", int(s))
}

func (s ParkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type AutocorrectState int

const (
	AutocorrectInactive AutocorrectState = iota
	AutocorrectWaitingAz
	AutocorrectWaitingEl
	AutocorrectWatchingAz
	AutocorrectWatchingEl
)

var autocorrectNames = [...]string{"INACTIVE", "WAITING_AZ", "WAITING_EL", "WATCHING_AZ", "WATCHING_EL"}

func (s AutocorrectState) String() string {
	if s >= 0 && int(s) < len(autocorrectNames) {
		return autocorrectNames[s]
	}
	return fmt.Sprintf("AutocorrectState(%d)", int(s))
}

func (s AutocorrectState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Output is the relay selection of a MotorCommand.
type Output int

const (
	OutStop Output = iota
	OutCW
	OutCCW
	OutUp
	OutDown
	OutStopAz
	OutStopEl
)

var outputNames = [...]string{"STOP", "CW", "CCW", "UP", "DOWN", "STOP_AZ", "STOP_EL"}

func (o Output) String() string {
	if o >= 0 && int(o) < len(outputNames) {
		return outputNames[o]
	}
	return fmt.Sprintf("Output(%d)", int(o))
}

func (o Output) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Direction returns the direction an output energizes, or None for stops.
func (o Output) Direction() Direction {
	switch o {
	case OutCW:
		return CW
	case OutCCW:
		return CCW
	case OutUp:
		return Up
	case OutDown:
		return Down
	}
	return None
}

// OutputFor returns the relay output that drives dir, or the stop output of
// axis when dir is None.
func OutputFor(axis Axis, dir Direction) Output {
	switch dir {
	case CW:
		return OutCW
	case CCW:
		return OutCCW
	case Up:
		return OutUp
	case Down:
		return OutDown
	}
	if axis == Elevation {
		return OutStopEl
	}
	return OutStopAz
}

// Brake is the state of the brake release relay.
type Brake int

const (
	BrakeEngaged Brake = iota
	BrakeReleased
)

func (b Brake) String() string {
	if b == BrakeReleased {
		return "RELEASED"
	}
	return "ENGAGED"
}

func (b Brake) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// MotorCommand is recomputed by an axis every tick.
type MotorCommand struct {
	Out   Output
	Brake Brake
	// Duty is the commanded speed from 0 to 1.
	Duty float64
}

// Feedback is one heading sample for an axis.
type Feedback struct {
	Heading float64
	At      time.Time
	Valid   bool
}

// Limits are the end-of-travel switches, true when tripped.
type Limits struct {
	CW, CCW  bool
	Up, Down bool
}

// Tripped reports whether the switch at the end of travel in dir is tripped.
func (l Limits) Tripped(dir Direction) bool {
	switch dir {
	case CW:
		return l.CW
	case CCW:
		return l.CCW
	case Up:
		return l.Up
	case Down:
		return l.Down
	}
	return false
}

// Driver executes motor commands on hardware.
type Driver interface {
	Drive(axis Axis, cmd MotorCommand) error
}

// HeadingSource is polled once per scheduler pass. Sample must not block.
type HeadingSource interface {
	Sample(axis Axis) Feedback
}

type LimitSource interface {
	Limits() Limits
}

var (
	ErrAxisBusy    = errors.New("axis busy")
	ErrParked      = errors.New("rotator parked")
	ErrOutOfRange  = errors.New("heading out of range")
	ErrUnknownKind = errors.New("unknown request kind")
)

// RejectReason returns the short name of a rejection error, for metrics.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrAxisBusy):
		return "axis_busy"
	case errors.Is(err, ErrParked):
		return "parked"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	}
	return "other"
}
