// README: Synthetic delivery paths and progress-to-waypoint sampling.
package route

import (
	"math"
	"math/rand"
	"time"

	"trackd/internal/types"
)

const (
	// maxBend bounds the control point offset as a fraction of the trip.
	maxBend = 0.15
	// jitterM is the largest per-waypoint wobble, in metres.
	jitterM = 0.5
)

// Path is an ordered list of waypoints from origin to destination.
type Path []types.Point

// BuildPath bends a quadratic Bézier curve between origin and destination
// through a control point offset perpendicular to the straight segment.
// It returns steps+1 waypoints; the first and last are exactly origin and
// dest.
func BuildPath(origin, dest types.Point, steps int, rng *rand.Rand) Path {
	if steps < 1 {
		steps = 1
	}
	path := make(Path, steps+1)
	path[0] = origin
	path[steps] = dest

	pl := newPlane(origin)
	x2, y2 := pl.toXY(dest)
	dist := math.Hypot(x2, y2)
	if dist == 0 {
		for i := 1; i < steps; i++ {
			path[i] = origin
		}
		return path
	}

	// unit normal to the segment
	nx, ny := -y2/dist, x2/dist
	bend := (rng.Float64()*2 - 1) * maxBend * dist
	cx, cy := x2/2+nx*bend, y2/2+ny*bend

	for i := 1; i < steps; i++ {
		t := float64(i) / float64(steps)
		u := 1 - t
		x := 2*u*t*cx + t*t*x2
		y := 2*u*t*cy + t*t*y2

		r := rng.Float64() * jitterM
		a := rng.Float64() * 2 * math.Pi
		path[i] = pl.toPoint(x+r*math.Cos(a), y+r*math.Sin(a))
	}
	return path
}

// Index maps progress onto a waypoint index of a path with n points.
// Progress outside [0,1] (or NaN) is clamped.
func Index(n int, progress float64) int {
	if n <= 0 {
		return -1
	}
	return int(math.Floor(clamp01(progress) * float64(n-1)))
}

// Sample returns the waypoint for progress. An empty path yields the zero point.
func Sample(path Path, progress float64) types.Point {
	i := Index(len(path), progress)
	if i < 0 {
		return types.Point{}
	}
	return path[i]
}

// ElapsedToProgress converts wall-clock time since start into progress
// through a transit window of length d.
func ElapsedToProgress(start, now time.Time, d time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	return clamp01(float64(now.Sub(start)) / float64(d))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
