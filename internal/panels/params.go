// Package panels lays PV panels out on roof polygons in rows aligned with
// the roof aspect.
package panels

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

// DefaultSunAngleDegrees is the sun altitude used to space rows on flat
// roofs when no site is configured.
const DefaultSunAngleDegrees = 15.0

// Dims describes one panel and the gaps between panels.
type Dims struct {
	WidthM   float64
	HeightM  float64
	SpacingM float64
	// SunAngleDegrees is the low winter sun altitude that rows on flat
	// roofs must not shade each other at.
	SunAngleDegrees float64
}

// DefaultDims returns a standard 0.99 x 1.64 m panel.
func DefaultDims() Dims {
	return Dims{
		WidthM:          0.99,
		HeightM:         1.64,
		SpacingM:        0.01,
		SunAngleDegrees: DefaultSunAngleDegrees,
	}
}

// Params tunes panel placement for a job.
type Params struct {
	Dims         Dims
	MinRoofAreaM float64
	// MinArchetypePanels is the panel count at which an archetype roof
	// keeps its usability regardless of total panel area.
	MinArchetypePanels int
}

// DefaultParams returns the placement defaults.
func DefaultParams() Params {
	return Params{
		Dims:               DefaultDims(),
		MinRoofAreaM:       8,
		MinArchetypePanels: 3,
	}
}

// SunAngle returns the solar noon altitude in degrees at the given site
// on the winter solstice of year. It returns DefaultSunAngleDegrees when
// the sun never rises above the horizon.
func SunAngle(lat, lon float64, year int) float64 {
	day := time.Date(year, time.December, 21, 0, 0, 0, 0, time.UTC)
	best := math.Inf(-1)
	for m := 0; m < 24*60; m += 5 {
		pos := suncalc.GetPosition(day.Add(time.Duration(m)*time.Minute), lat, lon)
		if pos.Altitude > best {
			best = pos.Altitude
		}
	}
	deg := best * 180 / math.Pi
	if deg <= 0 {
		return DefaultSunAngleDegrees
	}
	return deg
}
