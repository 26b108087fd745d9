package roofpoly

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/solar.report/internal/geom"
)

// BuildingOrientations returns the four facings of a building. The first is
// the azimuth carrying the most exterior edge length (rounded to whole
// degrees); the others follow at 90 degree steps.
func BuildingOrientations(footprint orb.Polygon) [4]float64 {
	if len(footprint) == 0 || len(footprint[0]) < 2 {
		return [4]float64{0, 90, 180, 270}
	}
	ring := footprint[0]
	lengths := make(map[float64]float64)
	var order []float64
	for i := 0; i+1 < len(ring); i++ {
		az := math.Round(geom.Azimuth(ring[i], ring[i+1]))
		if _, ok := lengths[az]; !ok {
			order = append(order, az)
		}
		lengths[az] += planar.Distance(ring[i], ring[i+1])
	}

	best := order[0]
	for _, az := range order[1:] {
		if lengths[az] > lengths[best] {
			best = az
		}
	}
	return [4]float64{
		geom.NormaliseDegrees(best),
		geom.NormaliseDegrees(best + 90),
		geom.NormaliseDegrees(best + 180),
		geom.NormaliseDegrees(best + 270),
	}
}

// snapAspect aligns a sloped plane's aspect with the nearest building
// facing within the alignment threshold.
func snapAspect(aspect float64, orientations [4]float64, threshold float64) float64 {
	for _, o := range orientations {
		if geom.AngleDiff(o, aspect) < threshold {
			return o
		}
	}
	return aspect
}

// flatLayoutAspect picks the building facing closest to the flat roof
// aspect; panels on flat roofs run along the building.
func flatLayoutAspect(orientations [4]float64, flatAspect, threshold float64) float64 {
	best, bestDiff := flatAspect, math.Inf(1)
	for _, o := range orientations {
		if d := geom.AngleDiff(o, flatAspect); d < bestDiff {
			best, bestDiff = o, d
		}
	}
	if bestDiff < threshold {
		return best
	}
	return flatAspect
}
