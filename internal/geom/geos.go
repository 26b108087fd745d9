// Package geom adapts orb geometries to the GEOS kernel.
//
// Callers work with orb.Polygon and orb.MultiPolygon values; every boolean
// operation, buffer and hull is delegated to GEOS through gogeos. Results
// coming back from GEOS are normalised to polygons only: line and point
// fragments produced by degenerate overlays are dropped.
package geom

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulsmith/gogeos/geos"
)

// ErrEmpty is returned when an operation or a repair leaves no polygonal area.
var ErrEmpty = errors.New("geom: empty geometry")

func ringCoords(r orb.Ring) []geos.Coord {
	n := len(r)
	closed := n > 0 && r[0] == r[n-1]
	size := n
	if !closed {
		size++
	}
	coords := make([]geos.Coord, 0, size)
	for _, p := range r {
		coords = append(coords, geos.NewCoord(p[0], p[1]))
	}
	if !closed && n > 0 {
		coords = append(coords, geos.NewCoord(r[0][0], r[0][1]))
	}
	return coords
}

// toGeos converts an orb polygon into a GEOS polygon.
func toGeos(p orb.Polygon) (*geos.Geometry, error) {
	if len(p) == 0 || len(p[0]) < 3 {
		return nil, ErrEmpty
	}
	holes := make([][]geos.Coord, 0, len(p)-1)
	for _, h := range p[1:] {
		if len(h) < 3 {
			continue
		}
		holes = append(holes, ringCoords(h))
	}
	g, err := geos.NewPolygon(ringCoords(p[0]), holes...)
	if err != nil {
		return nil, fmt.Errorf("build geos polygon: %w", err)
	}
	return g, nil
}

// toGeosMulti converts a set of polygons into a GEOS multipolygon. The
// members may overlap; callers are expected to union or repair the result.
func toGeosMulti(polys []orb.Polygon) (*geos.Geometry, error) {
	geoms := make([]*geos.Geometry, 0, len(polys))
	for _, p := range polys {
		g, err := toGeos(p)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			return nil, err
		}
		geoms = append(geoms, g)
	}
	if len(geoms) == 0 {
		return nil, ErrEmpty
	}
	g, err := geos.NewCollection(geos.MULTIPOLYGON, geoms...)
	if err != nil {
		return nil, fmt.Errorf("build geos multipolygon: %w", err)
	}
	return g, nil
}

func ringFromGeos(g *geos.Geometry) (orb.Ring, error) {
	coords, err := g.Coords()
	if err != nil {
		return nil, err
	}
	r := make(orb.Ring, len(coords))
	for i, c := range coords {
		r[i] = orb.Point{c.X, c.Y}
	}
	return r, nil
}

func polygonFromGeos(g *geos.Geometry) (orb.Polygon, error) {
	shell, err := g.Shell()
	if err != nil {
		return nil, fmt.Errorf("polygon shell: %w", err)
	}
	outer, err := ringFromGeos(shell)
	if err != nil {
		return nil, fmt.Errorf("polygon shell coords: %w", err)
	}
	poly := orb.Polygon{outer}
	holes, err := g.Holes()
	if err != nil {
		return nil, fmt.Errorf("polygon holes: %w", err)
	}
	for _, h := range holes {
		r, err := ringFromGeos(h)
		if err != nil {
			return nil, fmt.Errorf("polygon hole coords: %w", err)
		}
		poly = append(poly, r)
	}
	return poly, nil
}

// fromGeos flattens any GEOS geometry into its polygonal parts.
func fromGeos(g *geos.Geometry) (orb.MultiPolygon, error) {
	if g == nil {
		return nil, nil
	}
	empty, err := g.IsEmpty()
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}
	typ, err := g.Type()
	if err != nil {
		return nil, err
	}
	switch typ {
	case geos.POLYGON:
		p, err := polygonFromGeos(g)
		if err != nil {
			return nil, err
		}
		return orb.MultiPolygon{p}, nil
	case geos.MULTIPOLYGON, geos.GEOMETRYCOLLECTION:
		n, err := g.NGeometry()
		if err != nil {
			return nil, err
		}
		var out orb.MultiPolygon
		for i := 0; i < n; i++ {
			part, err := g.Geometry(i)
			if err != nil {
				return nil, err
			}
			mp, err := fromGeos(part)
			if err != nil {
				return nil, err
			}
			out = append(out, mp...)
		}
		return out, nil
	default:
		return nil, nil
	}
}
