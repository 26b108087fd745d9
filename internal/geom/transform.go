package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// Rect returns the axis-aligned rectangle with the given corners.
func Rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

// Square returns the square with lower-left corner (x, y).
func Square(x, y, side float64) orb.Polygon {
	return Rect(x, y, x+side, y+side)
}

// BoundCentre returns the centre of the polygon's bounding box.
func BoundCentre(p orb.Polygon) orb.Point {
	return p.Bound().Center()
}

func rotatePoint(pt, origin orb.Point, sin, cos float64) orb.Point {
	dx := pt[0] - origin[0]
	dy := pt[1] - origin[1]
	return orb.Point{
		origin[0] + dx*cos - dy*sin,
		origin[1] + dx*sin + dy*cos,
	}
}

// Rotate turns p counter-clockwise by deg degrees about origin.
func Rotate(p orb.Polygon, deg float64, origin orb.Point) orb.Polygon {
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		nr := make(orb.Ring, len(r))
		for j, pt := range r {
			nr[j] = rotatePoint(pt, origin, sin, cos)
		}
		out[i] = nr
	}
	return out
}

// RotatePoints turns each point counter-clockwise by deg degrees about origin.
func RotatePoints(pts []orb.Point, deg float64, origin orb.Point) []orb.Point {
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	out := make([]orb.Point, len(pts))
	for i, pt := range pts {
		out[i] = rotatePoint(pt, origin, sin, cos)
	}
	return out
}

// Translate shifts p by (dx, dy).
func Translate(p orb.Polygon, dx, dy float64) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		nr := make(orb.Ring, len(r))
		for j, pt := range r {
			nr[j] = orb.Point{pt[0] + dx, pt[1] + dy}
		}
		out[i] = nr
	}
	return out
}
