package roofdet

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Slope returns the slope in degrees from horizontal of z = a*x + b*y + c.
func Slope(a, b float64) float64 {
	return math.Abs(math.Atan(math.Hypot(a, b)) * 180 / math.Pi)
}

// Aspect returns the compass direction in degrees [0, 360) that the plane
// z = a*x + b*y + c faces, measured clockwise from north.
func Aspect(a, b float64) float64 {
	return aspectRad(a, b) * 180 / math.Pi
}

func aspectRad(a, b float64) float64 {
	r := math.Atan2(b, -a) + math.Pi/2
	r = math.Mod(r, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	return r
}

// circularMean returns the circular mean of angles in radians, in [0, 2π).
func circularMean(angles []float64) float64 {
	cm := stat.CircularMean(angles, nil)
	if cm < 0 {
		cm += 2 * math.Pi
	}
	return cm
}

// circularSD returns the circular standard deviation sqrt(-2 ln R̄).
func circularSD(angles []float64) float64 {
	if len(angles) == 0 {
		return 0
	}
	var s, c float64
	for _, a := range angles {
		sin, cos := math.Sincos(a)
		s += sin
		c += cos
	}
	rbar := math.Hypot(s, c) / float64(len(angles))
	if rbar >= 1 {
		return 0
	}
	if rbar <= 0 {
		return math.Inf(1)
	}
	return math.Sqrt(-2 * math.Log(rbar))
}

// radDiff is the smallest positive difference between two angles in [0, 2π).
func radDiff(r1, r2 float64) float64 {
	d := math.Mod(math.Abs(r1-r2), 2*math.Pi)
	return math.Min(d, 2*math.Pi-d)
}
