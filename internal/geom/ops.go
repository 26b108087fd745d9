package geom

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulsmith/gogeos/geos"
)

// JoinStyle selects how buffered corners are joined.
type JoinStyle int

const (
	JoinRound JoinStyle = iota
	JoinMitre
	JoinBevel
)

// CapStyle selects how buffered line ends are capped.
type CapStyle int

const (
	CapRound CapStyle = iota
	CapFlat
	CapSquare
)

// BufferOpts mirrors the GEOS buffer parameters.
type BufferOpts struct {
	Join       JoinStyle
	Cap        CapStyle
	QuadSegs   int
	MitreLimit float64
}

// MitreSquare keeps right angles sharp when buffering axis-aligned pixel
// unions and building footprints.
var MitreSquare = BufferOpts{Join: JoinMitre, Cap: CapSquare, QuadSegs: 1, MitreLimit: 5}

// Round is the default GEOS buffer style.
var Round = BufferOpts{Join: JoinRound, Cap: CapRound, QuadSegs: 8, MitreLimit: 5}

func (o BufferOpts) geos() geos.BufferOpts {
	opts := geos.BufferOpts{
		QuadSegs:   o.QuadSegs,
		MitreLimit: o.MitreLimit,
	}
	if opts.QuadSegs <= 0 {
		opts.QuadSegs = 8
	}
	if opts.MitreLimit <= 0 {
		opts.MitreLimit = 5
	}
	switch o.Join {
	case JoinMitre:
		opts.JoinStyle = geos.JoinMitre
	case JoinBevel:
		opts.JoinStyle = geos.JoinBevel
	default:
		opts.JoinStyle = geos.JoinRound
	}
	switch o.Cap {
	case CapFlat:
		opts.CapStyle = geos.CapFlat
	case CapSquare:
		opts.CapStyle = geos.CapSquare
	default:
		opts.CapStyle = geos.CapRound
	}
	return opts
}

// Area returns the planar area of a polygon, holes excluded.
func Area(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	return planar.Area(p)
}

// MultiArea returns the summed planar area of all parts.
func MultiArea(mp orb.MultiPolygon) float64 {
	var total float64
	for _, p := range mp {
		total += Area(p)
	}
	return total
}

// Centroid returns the area-weighted centroid of a polygon.
func Centroid(p orb.Polygon) orb.Point {
	c, _ := planar.CentroidArea(p)
	return c
}

// Largest returns the part with the greatest area. ErrEmpty is returned when
// no part has positive area.
func Largest(mp orb.MultiPolygon) (orb.Polygon, error) {
	var best orb.Polygon
	bestArea := 0.0
	for _, p := range mp {
		if a := Area(p); a > bestArea {
			best, bestArea = p, a
		}
	}
	if best == nil {
		return nil, ErrEmpty
	}
	return best, nil
}

// Buffer grows (d > 0) or shrinks (d < 0) a polygon.
func Buffer(p orb.Polygon, d float64, opts BufferOpts) (orb.MultiPolygon, error) {
	g, err := toGeos(p)
	if err != nil {
		return nil, err
	}
	out, err := g.BufferWithOpts(d, opts.geos())
	if err != nil {
		return nil, fmt.Errorf("buffer %.3f: %w", d, err)
	}
	return fromGeos(out)
}

// Union dissolves a set of possibly overlapping polygons.
func Union(polys []orb.Polygon) (orb.MultiPolygon, error) {
	g, err := toGeosMulti(polys)
	if err != nil {
		return nil, err
	}
	out, err := g.UnaryUnion()
	if err != nil {
		return nil, fmt.Errorf("unary union of %d polygons: %w", len(polys), err)
	}
	return fromGeos(out)
}

// Intersection returns a ∩ b.
func Intersection(a, b orb.Polygon) (orb.MultiPolygon, error) {
	return binary(a, b, "intersection", (*geos.Geometry).Intersection)
}

// Difference returns a ∖ b.
func Difference(a, b orb.Polygon) (orb.MultiPolygon, error) {
	return binary(a, b, "difference", (*geos.Geometry).Difference)
}

// DifferenceAll subtracts the union of others from p.
func DifferenceAll(p orb.Polygon, others []orb.Polygon) (orb.MultiPolygon, error) {
	if len(others) == 0 {
		return orb.MultiPolygon{p}, nil
	}
	g, err := toGeos(p)
	if err != nil {
		return nil, err
	}
	o, err := toGeosMulti(others)
	if errors.Is(err, ErrEmpty) {
		return orb.MultiPolygon{p}, nil
	}
	if err != nil {
		return nil, err
	}
	if o, err = o.UnaryUnion(); err != nil {
		return nil, fmt.Errorf("union subtrahends: %w", err)
	}
	out, err := g.Difference(o)
	if err != nil {
		return nil, fmt.Errorf("difference: %w", err)
	}
	return fromGeos(out)
}

func binary(a, b orb.Polygon, name string, op func(*geos.Geometry, *geos.Geometry) (*geos.Geometry, error)) (orb.MultiPolygon, error) {
	ga, err := toGeos(a)
	if err != nil {
		return nil, err
	}
	gb, err := toGeos(b)
	if err != nil {
		return nil, err
	}
	out, err := op(ga, gb)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return fromGeos(out)
}

// Intersects reports whether two polygons share any point.
func Intersects(a, b orb.Polygon) (bool, error) {
	ga, err := toGeos(a)
	if err != nil {
		return false, err
	}
	gb, err := toGeos(b)
	if err != nil {
		return false, err
	}
	return ga.Intersects(gb)
}

// MakeValid repairs self-intersections with a zero-width buffer and keeps
// the largest resulting polygon.
func MakeValid(p orb.Polygon) (orb.Polygon, error) {
	g, err := toGeos(p)
	if err != nil {
		return nil, err
	}
	valid, err := g.IsValid()
	if err != nil {
		return nil, fmt.Errorf("validity check: %w", err)
	}
	if valid {
		return p, nil
	}
	fixed, err := g.Buffer(0)
	if err != nil {
		return nil, fmt.Errorf("repair buffer: %w", err)
	}
	mp, err := fromGeos(fixed)
	if err != nil {
		return nil, err
	}
	return Largest(mp)
}

// LargestValid repairs each part of mp and returns the largest valid one.
func LargestValid(mp orb.MultiPolygon) (orb.Polygon, error) {
	best, err := Largest(mp)
	if err != nil {
		return nil, err
	}
	return MakeValid(best)
}

// ConvexHull returns the convex hull of a point set.
func ConvexHull(pts []orb.Point) (orb.Polygon, error) {
	if len(pts) < 3 {
		return nil, ErrEmpty
	}
	geoms := make([]*geos.Geometry, 0, len(pts))
	for _, p := range pts {
		g, err := geos.NewPoint(geos.NewCoord(p[0], p[1]))
		if err != nil {
			return nil, fmt.Errorf("hull point: %w", err)
		}
		geoms = append(geoms, g)
	}
	mp, err := geos.NewCollection(geos.MULTIPOINT, geoms...)
	if err != nil {
		return nil, fmt.Errorf("hull multipoint: %w", err)
	}
	hull, err := mp.ConvexHull()
	if err != nil {
		return nil, fmt.Errorf("convex hull: %w", err)
	}
	polys, err := fromGeos(hull)
	if err != nil {
		return nil, err
	}
	return Largest(polys)
}

// Prepared is a polygon indexed for repeated containment tests.
type Prepared struct {
	pg *geos.PGeometry
}

// Prepare indexes p for repeated predicates.
func Prepare(p orb.Polygon) (*Prepared, error) {
	g, err := toGeos(p)
	if err != nil {
		return nil, err
	}
	return &Prepared{pg: geos.PrepareGeometry(g)}, nil
}

// Contains reports whether q lies entirely inside the prepared polygon.
func (pp *Prepared) Contains(q orb.Polygon) (bool, error) {
	g, err := toGeos(q)
	if err != nil {
		return false, err
	}
	return pp.pg.Contains(g)
}
