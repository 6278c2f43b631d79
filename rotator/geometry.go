package rotator

import "math"

// Geometry describes the travel of one axis. A continuous axis wraps at 360
// and takes the shortest way round; otherwise headings are raw positions in
// [Min, Max], which for an azimuth rotator with overlap spans more than 360.
type Geometry struct {
	Min, Max   float64
	Continuous bool
}

// Normalize wraps angle into [0, 360).
func Normalize(angle float64) float64 {
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	return angle
}

// ShortestDelta returns the signed angle from -> to in (-180, 180].
func ShortestDelta(from, to float64) float64 {
	d := Normalize(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

func (g Geometry) Contains(heading float64) bool {
	return heading >= g.Min && heading <= g.Max
}

// Delta is the signed travel needed to go from current to target.
func (g Geometry) Delta(current, target float64) float64 {
	if g.Continuous {
		return ShortestDelta(current, target)
	}
	return target - current
}

// Remaining is the distance left to target when travelling in the direction
// of sign. It goes negative once the target has been passed.
func (g Geometry) Remaining(current, target float64, sign int) float64 {
	if !g.Continuous {
		return (target - current) * float64(sign)
	}
	along := Normalize((target - current) * float64(sign))
	if along > 180 {
		along -= 360
	}
	return along
}

// Resolve turns a requested heading into the position the axis drives to.
// Raw headings are used as given. A 0-360 heading on an axis with overlap
// picks whichever equivalent position in range is nearest to current.
func (g Geometry) Resolve(raw bool, heading, current float64) float64 {
	if g.Continuous {
		return Normalize(heading)
	}
	if raw {
		return heading
	}
	best, found := heading, false
	for k := -2.0; k <= 2; k++ {
		cand := heading + 360*k
		if !g.Contains(cand) {
			continue
		}
		if !found || math.Abs(cand-current) < math.Abs(best-current) {
			best, found = cand, true
		}
	}
	if !found {
		return math.Max(g.Min, math.Min(g.Max, heading))
	}
	return best
}

// Distance is the unsigned error between a heading and a target. Axes that
// cover a full circle compare modulo 360, ignoring overlap.
func (g Geometry) Distance(heading, target float64) float64 {
	if g.Continuous || g.Max-g.Min >= 360 {
		return math.Abs(ShortestDelta(heading, target))
	}
	return math.Abs(target - heading)
}
