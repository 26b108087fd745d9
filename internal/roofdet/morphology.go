package roofdet

import "math"

// cells maps pool indices to pixels relative to the pool's minimum corner.
func (f *fitter) cells(idx []int) []cell {
	out := make([]cell, len(idx))
	for k, i := range idx {
		out[k] = cellOf(f.pool[i].X, f.pool[i].Y, f.originX, f.originY, f.p.ResolutionMetres)
	}
	return out
}

// morphologyOK applies the shape tests to a candidate's inliers:
//  1. the largest 4-connected group holds enough points;
//  2. on small buildings, few minor groups and none of real size;
//  3. the largest group fills enough of its convex hull;
//  4. small groups are not slivers.
func (f *fitter) morphologyOK(inliers []int) bool {
	g := newBinaryGrid(f.cells(inliers))
	labels, areas := g.label()
	largest := largestLabel(areas)
	if largest == 0 {
		return false
	}
	area := areas[largest]
	if area < f.p.MinPointsPerPlane || float64(area) < float64(f.totalPoints)*f.p.MinPointsPerPlanePerc {
		return false
	}

	numGroups := len(areas) - 1
	if numGroups > 1 && f.groupChecks {
		if numGroups > f.p.MaxNumGroups {
			return false
		}
		for l := 1; l < len(areas); l++ {
			if l != largest && float64(areas[l])/float64(area) > f.p.MaxGroupAreaRatioToLargest {
				return false
			}
		}
	}

	only := g.only(labels, largest)
	hull, err := only.convexHullCount()
	if err != nil || hull == 0 {
		return false
	}
	if float64(area)/float64(hull) < f.p.MinConvexHullRatio {
		return false
	}

	if area <= f.p.MaxAreaForThinnessTest {
		perim := only.croftonPerimeter()
		if perim > 0 && 4*math.Pi*float64(area)/(perim*perim) < f.p.MinThinnessRatio {
			return false
		}
	}
	return true
}

// largestGroup keeps only the inliers in the largest 4-connected group.
// Points sharing a pixel stay together.
func (f *fitter) largestGroup(inliers []int) []int {
	if len(inliers) == 0 {
		return nil
	}
	cs := f.cells(inliers)
	g := newBinaryGrid(cs)
	labels, areas := g.label()
	largest := largestLabel(areas)
	out := make([]int, 0, areas[largest])
	for k, c := range cs {
		if labels[g.index(c.I-g.minI, c.J-g.minJ)] == largest {
			out = append(out, inliers[k])
		}
	}
	return out
}
