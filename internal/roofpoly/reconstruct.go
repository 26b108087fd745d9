package roofpoly

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
)

// Reconstructor builds roof polygons for buildings. It is safe for
// concurrent use once created.
type Reconstructor struct {
	p          Params
	archetypes []Archetype
}

// New prepares a reconstructor, building the archetype library for the
// configured panel size.
func New(p Params) (*Reconstructor, error) {
	r := &Reconstructor{p: p}
	if p.Archetypes.Enabled {
		lib, err := Archetypes(p.PanelWidthM, p.PanelHeightM)
		if err != nil {
			return nil, fmt.Errorf("build archetypes: %w", err)
		}
		r.archetypes = lib
	}
	return r, nil
}

// Reconstruct is a convenience wrapper for one-off use.
func Reconstruct(b solar.Building, planes []solar.RoofPlane, pts []solar.LidarPoint, p Params) ([]solar.RoofPlane, error) {
	r, err := New(p)
	if err != nil {
		return nil, err
	}
	return r.Reconstruct(b, planes, pts)
}

// Reconstruct returns a copy of planes, ordered by ID, with roof polygons,
// flat roof normalisation, usability and derived areas filled in. Plane
// inliers index into pts. Lower plane IDs keep contested area. A plane
// whose polygon cannot be built is kept, unusable, with no geometry; only
// a footprint that cannot be read fails the building.
func (r *Reconstructor) Reconstruct(b solar.Building, planes []solar.RoofPlane, pts []solar.LidarPoint) ([]solar.RoofPlane, error) {
	if len(b.Footprint) == 0 {
		return nil, fmt.Errorf("building %s: %w", b.ID, geom.ErrEmpty)
	}
	out := make([]solar.RoofPlane, len(planes))
	copy(out, planes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	orientations := BuildingOrientations(b.Footprint)
	limit, err := geom.Buffer(b.Footprint, -r.p.edgeDistance(b.Area()), geom.MitreSquare)
	if err != nil {
		return nil, fmt.Errorf("building %s: shrink footprint: %w", b.ID, err)
	}

	var placed []orb.Polygon
	for i := range out {
		pl := &out[i]
		r.orient(pl, orientations)

		poly, err := r.polygon(pl, pts, limit, placed)
		if err != nil {
			if !errors.Is(err, geom.ErrEmpty) {
				monitoring.Logf("roofpoly: building %s plane %d: %v", b.ID, pl.ID, err)
			}
			pl.Geom = nil
			pl.RawFootprint, pl.RawArea = 0, 0
			pl.MarkUnusable(solar.NotUsableEmptyGeometry)
			continue
		}
		placed = append(placed, poly)

		pl.Geom = poly
		pl.RawFootprint = geom.Area(poly)
		pl.RawArea = solar.SlopedArea(pl.RawFootprint, pl.Slope)
		c := geom.Centroid(poly)
		pl.Easting, pl.Northing = c[0], c[1]
		r.markUsability(pl)
	}
	return out, nil
}

// orient sets the flat flag and the reported and layout aspects.
func (r *Reconstructor) orient(pl *solar.RoofPlane, orientations [4]float64) {
	pl.IsFlat = pl.FittedSlope <= r.p.FlatThresholdDegrees
	if pl.IsFlat {
		pl.Slope = r.p.FlatRoofDegrees
		pl.Aspect = r.p.FlatRoofAspect
		pl.LayoutAspect = flatLayoutAspect(orientations, r.p.FlatRoofAspect, r.p.FlatAlignmentThreshold)
		return
	}
	pl.Slope = pl.FittedSlope
	pl.Aspect = snapAspect(pl.Aspect, orientations, r.p.AlignmentThreshold)
	pl.LayoutAspect = pl.Aspect
}

// polygon runs the per-plane geometry steps: pixel squares, archetype
// substitution, clipping and overlap removal.
func (r *Reconstructor) polygon(pl *solar.RoofPlane, pts []solar.LidarPoint, limit orb.MultiPolygon, placed []orb.Polygon) (orb.Polygon, error) {
	poly, err := pixelSquares(pts, pl.Inliers, pl.LayoutAspect, r.p.ResolutionMetres)
	if err != nil {
		return nil, fmt.Errorf("pixel squares: %w", err)
	}

	pl.Archetype = false
	if r.p.Archetypes.Enabled {
		if arch, ok := bestArchetype(poly, pl.LayoutAspect, r.archetypes, r.p.Archetypes); ok {
			poly = arch
			pl.Archetype = true
		}
	}

	if poly, err = clip(poly, limit); err != nil {
		return nil, fmt.Errorf("clip: %w", err)
	}
	if poly, err = removeOverlaps(poly, placed); err != nil {
		return nil, fmt.Errorf("overlap: %w", err)
	}
	return geom.MakeValid(poly)
}

func (r *Reconstructor) markUsability(pl *solar.RoofPlane) {
	switch {
	case pl.Slope > r.p.MaxRoofSlopeDegrees:
		pl.MarkUnusable(solar.NotUsableSlope)
	case !pl.IsFlat && (pl.Aspect < r.p.MinRoofDegreesFromNorth || pl.Aspect > 360-r.p.MinRoofDegreesFromNorth):
		pl.MarkUnusable(solar.NotUsableAspect)
	case pl.RawFootprint < r.p.MinRoofAreaM:
		pl.MarkUnusable(solar.NotUsableArea)
	default:
		if pl.NotUsableReason == solar.NotUsableNone {
			pl.Usable = true
		}
	}
}

// pixelSquares draws a square of side √2·res around each inlier, turned to
// the layout aspect, unions them and shrinks the result back by the
// overlap so neighbouring pixels always join whatever the aspect.
func pixelSquares(pts []solar.LidarPoint, inliers []int, aspect, res float64) (orb.Polygon, error) {
	side := math.Sqrt2 * res
	squares := make([]orb.Polygon, 0, len(inliers))
	for _, i := range inliers {
		x, y := pts[i].X, pts[i].Y
		sq := geom.Square(x-side/2, y-side/2, side)
		squares = append(squares, geom.Rotate(sq, -aspect, orb.Point{x, y}))
	}
	union, err := geom.Union(squares)
	if err != nil {
		return nil, err
	}
	shrink := -(side - res) / 2
	var parts orb.MultiPolygon
	for _, part := range union {
		b, err := geom.Buffer(part, shrink, geom.MitreSquare)
		if err != nil {
			return nil, err
		}
		parts = append(parts, b...)
	}
	return geom.Largest(parts)
}

// clip keeps the largest part of poly inside the shrunk footprint.
func clip(poly orb.Polygon, limit orb.MultiPolygon) (orb.Polygon, error) {
	var parts orb.MultiPolygon
	for _, l := range limit {
		in, err := geom.Intersection(poly, l)
		if err != nil {
			return nil, err
		}
		parts = append(parts, in...)
	}
	return geom.LargestValid(parts)
}

// removeOverlaps subtracts every earlier polygon that touches poly.
func removeOverlaps(poly orb.Polygon, placed []orb.Polygon) (orb.Polygon, error) {
	var hits []orb.Polygon
	for _, other := range placed {
		ok, err := geom.Intersects(poly, other)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, other)
		}
	}
	if len(hits) == 0 {
		return poly, nil
	}
	diff, err := geom.DifferenceAll(poly, hits)
	if err != nil {
		return nil, err
	}
	return geom.LargestValid(diff)
}
