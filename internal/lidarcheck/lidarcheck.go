// Package lidarcheck detects buildings whose LiDAR is missing or predates
// the building, and estimates building height and ground level from the
// pixels around the footprint.
package lidarcheck

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/solar.report/internal/elevation"
	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/solar"
)

// Pixel is one elevation cell centre near a building. Within marks pixels
// inside the footprint; the rest lie in the moat between the footprint and
// its buffer.
type Pixel struct {
	X, Y      float64
	Elevation float64
	Within    bool
}

// Params tunes the perimeter gradient test.
type Params struct {
	ResolutionMetres float64
	// SegmentLength is the spacing of bisectors along the perimeter.
	SegmentLength float64
	// BisectorLength is the length of each bisector across the wall.
	BisectorLength float64
	// GradientThreshold is the rise (m) from ground to roof below which
	// a bisector counts as bad.
	GradientThreshold float64
	// BadBisectorRatio is the share of bad bisectors above which the
	// LiDAR is considered outdated.
	BadBisectorRatio float64
}

// DefaultParams returns the thresholds used in production.
func DefaultParams(resolution float64) Params {
	return Params{
		ResolutionMetres:  resolution,
		SegmentLength:     2,
		BisectorLength:    5,
		GradientThreshold: 0.5,
		BadBisectorRatio:  0.52,
	}
}

// Result is the outcome of checking one building.
type Result struct {
	Exclusion       solar.ExclusionReason
	Height          *float64
	MinGroundHeight *float64
	MaxGroundHeight *float64

	Bisectors    int
	BadBisectors int
}

// Apply copies the result onto b.
func (r Result) Apply(b *solar.Building) {
	b.Exclusion = r.Exclusion
	b.Height = r.Height
	b.MinGroundHeight = r.MinGroundHeight
	b.MaxGroundHeight = r.MaxGroundHeight
}

// PixelsFor returns the pixels of dem whose centres lie in the building's
// buffered footprint, marking those inside the footprint itself. When the
// building has no buffer, only interior pixels are returned.
func PixelsFor(dem *elevation.Raster, b solar.Building) []Pixel {
	area := b.Buffered
	if len(area) == 0 {
		area = b.Footprint
	}
	pts := elevation.Points(dem, nil, area, b.ID)
	out := make([]Pixel, len(pts))
	for i, p := range pts {
		out[i] = Pixel{
			X:         p.X,
			Y:         p.Y,
			Elevation: p.Z,
			Within:    planar.PolygonContains(b.Footprint, orb.Point{p.X, p.Y}),
		}
	}
	return out
}

// Check runs the coverage test, then the perimeter gradient test, and for
// buildings that pass both estimates their height.
func Check(footprint orb.Polygon, pixels []Pixel, p Params) Result {
	if reason := Coverage(pixels); reason != solar.ExclusionNone {
		return Result{Exclusion: reason}
	}
	res := PerimeterGradient(footprint, pixels, p)
	if res.Exclusion == solar.ExclusionNone {
		if h, ok := NewHeightAggregator(pixels).Height(); ok {
			res.Height = &h
		}
	}
	return res
}

// Coverage returns NoLidarCoverage when no pixel lies inside the footprint.
func Coverage(pixels []Pixel) solar.ExclusionReason {
	for _, px := range pixels {
		if px.Within {
			return solar.ExclusionNone
		}
	}
	return solar.NoLidarCoverage
}

// PerimeterGradient walks the footprint's exterior and drops a bisector
// across the wall at every segment. Along each bisector the mean
// elevation inside the building should stand clear of the mean outside;
// when too few bisectors show that rise the LiDAR predates the building.
// Buildings that pass get their ground height range, capped just below
// the lowest roof edge.
func PerimeterGradient(footprint orb.Polygon, pixels []Pixel, p Params) Result {
	if len(footprint) == 0 {
		return Result{}
	}
	pts := make([]orb.Point, len(pixels))
	for i, px := range pixels {
		pts[i] = orb.Point{px.X, px.Y}
	}
	ix := geom.NewPointIndex(pts)
	reach := p.ResolutionMetres / 2

	var total, bad int
	minGround, maxGround := 9999.0, 0.0
	minBuilding := 9999.0
	var onCross []Pixel
	for _, seg := range geom.RingSegments(footprint[0], p.SegmentLength) {
		if seg.Length() < 0.01 {
			continue
		}
		bisector := geom.PerpendicularBisector(seg.A, seg.B, p.BisectorLength)
		onCross = onCross[:0]
		for _, i := range ix.Within(bisector.Bound().Pad(reach)) {
			if geom.DistanceToLine(bisector, pts[i]) <= reach {
				onCross = append(onCross, pixels[i])
			}
		}

		within, without, ok := NewHeightAggregator(onCross).AverageHeights()
		if !ok {
			continue
		}
		total++
		if within-without < p.GradientThreshold {
			bad++
			continue
		}
		minBuilding = math.Min(minBuilding, within)
		minGround = math.Min(minGround, without)
		maxGround = math.Min(math.Max(maxGround, without), minBuilding-0.1)
	}

	res := Result{Bisectors: total, BadBisectors: bad}
	switch {
	case total == 0:
	case float64(bad)/float64(total) > p.BadBisectorRatio:
		res.Exclusion = solar.OutdatedLidarCoverage
	case bad < total:
		lo, hi := round1(minGround), round1(maxGround)
		res.MinGroundHeight, res.MaxGroundHeight = &lo, &hi
	}
	return res
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// HeightAggregator accumulates mean elevations inside and outside a
// building.
type HeightAggregator struct {
	within, without       int
	withinSum, withoutSum float64
}

// NewHeightAggregator sums the given pixels.
func NewHeightAggregator(pixels []Pixel) *HeightAggregator {
	h := &HeightAggregator{}
	for _, px := range pixels {
		h.Add(px)
	}
	return h
}

// Add includes one pixel.
func (h *HeightAggregator) Add(px Pixel) {
	if px.Within {
		h.within++
		h.withinSum += px.Elevation
	} else {
		h.without++
		h.withoutSum += px.Elevation
	}
}

// AverageHeights returns the mean elevation inside and outside. It reports
// false unless both sides have pixels.
func (h *HeightAggregator) AverageHeights() (within, without float64, ok bool) {
	if h.within == 0 || h.without == 0 {
		return 0, 0, false
	}
	return h.withinSum / float64(h.within), h.withoutSum / float64(h.without), true
}

// Height returns the building height: mean elevation inside less mean
// elevation outside.
func (h *HeightAggregator) Height() (float64, bool) {
	within, without, ok := h.AverageHeights()
	if !ok {
		return 0, false
	}
	return within - without, true
}
