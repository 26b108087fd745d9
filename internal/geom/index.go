package geom

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// pointExtent is the side of the box each indexed point occupies; rtreego
// rejects zero-size rectangles.
const pointExtent = 1e-9

type indexedPoint struct {
	i  int
	pt orb.Point
}

// Bounds implements the rtreego.Spatial interface.
func (p *indexedPoint) Bounds() rtreego.Rect {
	r, _ := rtreego.NewRect(rtreego.Point{p.pt[0], p.pt[1]}, []float64{pointExtent, pointExtent})
	return r
}

// PointIndex is an R-tree over a point set, answering queries with the
// points' positions in the original slice.
type PointIndex struct {
	tree *rtreego.Rtree
	n    int
}

// NewPointIndex indexes pts.
func NewPointIndex(pts []orb.Point) *PointIndex {
	objs := make([]rtreego.Spatial, len(pts))
	for i, pt := range pts {
		objs[i] = &indexedPoint{i: i, pt: pt}
	}
	return &PointIndex{tree: rtreego.NewTree(2, 25, 50, objs...), n: len(pts)}
}

// Len returns the number of indexed points.
func (ix *PointIndex) Len() int { return ix.n }

// Within returns the indices of points inside b, in ascending order.
func (ix *PointIndex) Within(b orb.Bound) []int {
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	if w <= 0 {
		w = pointExtent
	}
	if h <= 0 {
		h = pointExtent
	}
	rect, err := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{w, h})
	if err != nil {
		return nil
	}
	hits := ix.tree.SearchIntersect(rect)
	out := make([]int, len(hits))
	for k, h := range hits {
		out[k] = h.(*indexedPoint).i
	}
	sort.Ints(out)
	return out
}

// Nearest returns the index of the point closest to p. It reports false
// for an empty index.
func (ix *PointIndex) Nearest(p orb.Point) (int, bool) {
	if ix.n == 0 {
		return 0, false
	}
	hit := ix.tree.NearestNeighbor(rtreego.Point{p[0], p[1]})
	if hit == nil {
		return 0, false
	}
	return hit.(*indexedPoint).i, true
}
