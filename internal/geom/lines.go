package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Azimuth returns the compass bearing of the segment p1→p2 folded into
// (0, 180] degrees, so a segment and its reverse share an azimuth.
func Azimuth(p1, p2 orb.Point) float64 {
	a := math.Atan2(p2[0]-p1[0], p2[1]-p1[1]) * 180 / math.Pi
	if a > 0 {
		return a
	}
	return a + 180
}

// AngleDiff returns the smallest absolute difference between two compass
// angles in degrees.
func AngleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// NormaliseDegrees folds an angle into [0, 360).
func NormaliseDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}

// PerpendicularBisector returns a line of the given length centred on the
// midpoint of a→b and perpendicular to it.
func PerpendicularBisector(a, b orb.Point, length float64) orb.LineString {
	mx := (a[0] + b[0]) / 2
	my := (a[1] + b[1]) / 2
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	l := math.Hypot(dx, dy)
	if l == 0 {
		return orb.LineString{{mx, my}, {mx, my}}
	}
	// unit normal
	nx, ny := -dy/l, dx/l
	h := length / 2
	return orb.LineString{
		{mx - nx*h, my - ny*h},
		{mx + nx*h, my + ny*h},
	}
}

// DistanceToLine returns the planar distance from p to the line string.
func DistanceToLine(ls orb.LineString, p orb.Point) float64 {
	return planar.DistanceFrom(ls, p)
}

// Segment is a straight piece of a ring.
type Segment struct {
	A, B orb.Point
}

// Length returns the segment length.
func (s Segment) Length() float64 {
	return math.Hypot(s.B[0]-s.A[0], s.B[1]-s.A[1])
}

// RingSegments walks a ring and returns one segment starting every step
// metres. Each segment ends after step metres or at the next vertex,
// whichever comes first, so it is always straight.
func RingSegments(r orb.Ring, step float64) []Segment {
	if len(r) < 2 || step <= 0 {
		return nil
	}
	total := planar.Length(r)
	var segs []Segment
	for start := 0.0; start < math.Floor(total); start += step {
		a, idx := pointAlong(r, start)
		end := start + step
		b, _ := pointAlong(r, end)
		// stop at the vertex that follows a
		vertDist := distanceToVertex(r, idx+1)
		if vertDist < end {
			b = r[idx+1]
		}
		segs = append(segs, Segment{A: a, B: b})
	}
	return segs
}

// pointAlong returns the point at distance d along r and the index of the
// vertex that starts the edge containing it.
func pointAlong(r orb.Ring, d float64) (orb.Point, int) {
	walked := 0.0
	for i := 0; i < len(r)-1; i++ {
		l := math.Hypot(r[i+1][0]-r[i][0], r[i+1][1]-r[i][1])
		if walked+l > d && l > 0 {
			t := (d - walked) / l
			return orb.Point{
				r[i][0] + t*(r[i+1][0]-r[i][0]),
				r[i][1] + t*(r[i+1][1]-r[i][1]),
			}, i
		}
		walked += l
	}
	last := len(r) - 1
	return r[last], last - 1
}

func distanceToVertex(r orb.Ring, idx int) float64 {
	walked := 0.0
	for i := 0; i < idx && i < len(r)-1; i++ {
		walked += math.Hypot(r[i+1][0]-r[i][0], r[i+1][1]-r[i][1])
	}
	return walked
}
