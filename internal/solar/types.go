// Package solar holds the domain types shared by every stage of the PV
// pipeline: LiDAR samples, buildings, roof planes and panels.
package solar

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// FlatRoofDegreesThreshold is the fitted slope at or below which a roof is
// treated as flat. It is a property of the roof, not the panel mounting
// angle (see config flat_roof_degrees).
const FlatRoofDegreesThreshold = 5.0

// LidarPoint is one LiDAR pixel centre inside or near a building.
type LidarPoint struct {
	X, Y, Z    float64
	Aspect     float64 // radians clockwise from north, per-pixel
	BuildingID string
}

// Building is a footprint with the outcome of modelling it.
type Building struct {
	ID        string
	Footprint orb.Polygon
	// Buffered is the footprint grown by a few metres, used for the
	// outdated-LiDAR moat sampling only.
	Buffered  orb.Polygon
	Exclusion ExclusionReason

	Height          *float64
	MinGroundHeight *float64
	MaxGroundHeight *float64
}

// Area returns the footprint area in square metres.
func (b Building) Area() float64 {
	if len(b.Footprint) == 0 {
		return 0
	}
	return planar.Area(b.Footprint)
}

// RoofPlane is a fitted plane z = XCoef*x + YCoef*y + Intercept and, after
// reconstruction, its roof polygon.
type RoofPlane struct {
	ID         int
	BuildingID string

	XCoef     float64
	YCoef     float64
	Intercept float64

	// FittedSlope is the slope of the fitted plane; IsFlat is derived from it.
	FittedSlope float64
	// Slope is the mounting slope: equal to FittedSlope except on flat roofs,
	// where it is forced to the configured flat roof mounting angle.
	Slope  float64
	Aspect float64
	// LayoutAspect orients the pixel squares, archetypes and panel rows.
	// It differs from Aspect only on flat roofs.
	LayoutAspect float64
	IsFlat       bool

	SD             float64
	AspectCircMean *float64
	AspectCircSD   *float64

	// Inliers index into the building's point slice.
	Inliers []int

	Usable          bool
	NotUsableReason NotUsableReason
	Archetype       bool

	Geom         orb.Polygon
	RawFootprint float64
	RawArea      float64
	Easting      float64
	Northing     float64

	KWhYear    float64
	KWhMonthly [12]float64
	Horizon    []float64
}

// MarkUnusable flips the plane to unusable. A plane that is already
// unusable keeps its first reason.
func (p *RoofPlane) MarkUnusable(reason NotUsableReason) {
	if !p.Usable && p.NotUsableReason != NotUsableNone {
		return
	}
	p.Usable = false
	p.NotUsableReason = reason
}

// Panel is a single PV panel footprint on a roof plane.
type Panel struct {
	ID          int
	RoofPlaneID int
	BuildingID  string
	Geom        orb.Polygon
	// Area is the real panel area (width * height); Footprint is its
	// projection onto the horizontal plane.
	Area      float64
	Footprint float64

	KWhYear    float64
	KWhMonthly [12]float64
	Horizon    []float64
}

// SlopedArea converts a horizontal footprint into the sloped surface area.
func SlopedArea(footprint, slopeDeg float64) float64 {
	c := math.Cos(slopeDeg * math.Pi / 180)
	if c <= 0 {
		return 0
	}
	return footprint / c
}
