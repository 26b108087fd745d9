package roofpoly

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/banshee-data/solar.report/internal/geom"
)

// archetypePatterns are panel layouts, one row per slice, 1 marking a panel.
// Each is tried in portrait and landscape.
var archetypePatterns = [][][]int{
	{{1, 1, 1}},
	{{1, 1, 1, 1}},
	{{1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1, 1, 1, 1, 1}},

	{{1, 1}, {1, 1}},
	{{1, 1, 1}, {1, 1, 1}},
	{{0, 1, 0}, {1, 1, 1}},
	{{0, 1, 1, 0}, {1, 1, 1, 1}},
	{{1, 1, 1, 1}, {1, 1, 1, 1}},
	{{0, 1, 1, 1, 0}, {1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1, 1}, {1, 1, 1, 1, 1, 1}},
	{{0, 1, 1, 1, 1, 0}, {1, 1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1, 1, 1}, {1, 1, 1, 1, 1, 1, 1}},
	{{0, 1, 1, 1, 1, 1, 0}, {1, 1, 1, 1, 1, 1, 1}},
	{{0, 0, 1, 1, 1, 0, 0}, {1, 1, 1, 1, 1, 1, 1}},
	{{0, 1, 1, 1, 1, 1, 1, 0}, {1, 1, 1, 1, 1, 1, 1, 1}},
	{{0, 0, 1, 1, 1, 1, 0, 0}, {1, 1, 1, 1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1, 1, 1, 1}, {1, 1, 1, 1, 1, 1, 1, 1}},

	{{1, 1}, {1, 1}, {1, 1}},
	{{0, 1, 0}, {1, 1, 1}, {1, 1, 1}},
	{{0, 0, 1}, {0, 1, 1}, {1, 1, 1}},
	{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}},
	{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}},
	{{1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}},
	{{0, 1, 1, 0}, {1, 1, 1, 1}, {1, 1, 1, 1}},
	{{0, 0, 1, 1}, {0, 1, 1, 1}, {1, 1, 1, 1}},
	{{1, 1, 0, 0}, {1, 1, 1, 0}, {1, 1, 1, 1}},
	{{1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}},
	{{0, 1, 1, 0}, {1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}},
	{{1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}},
	{{0, 1, 1, 1, 0}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1, 1}, {1, 1, 1, 1, 1, 1}, {1, 1, 1, 1, 1, 1}},
	{{0, 1, 1, 1, 0}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}},
	{{1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}},
}

// Archetype is a canonical layout centred on its centroid at the origin.
type Archetype struct {
	Polygon orb.Polygon
	Area    float64
}

// BuildArchetype lays out one pattern with the given panel size. Portrait
// cells are panelH wide and panelW tall.
func BuildArchetype(pattern [][]int, panelW, panelH float64, portrait bool) (Archetype, error) {
	cw, ch := panelW, panelH
	if portrait {
		cw, ch = panelH, panelW
	}
	var cells []orb.Polygon
	for y, row := range pattern {
		for x, on := range row {
			if on == 1 {
				fx, fy := float64(x), float64(y)
				cells = append(cells, geom.Rect(fx*cw, fy*ch, (fx+1)*cw, (fy+1)*ch))
			}
		}
	}
	u, err := geom.Union(cells)
	if err != nil {
		return Archetype{}, err
	}
	poly, err := geom.Largest(u)
	if err != nil {
		return Archetype{}, err
	}
	c := geom.Centroid(poly)
	poly = geom.Translate(poly, -c[0], -c[1])
	return Archetype{Polygon: poly, Area: geom.Area(poly)}, nil
}

// Archetypes builds the full library for one panel size, largest first.
func Archetypes(panelW, panelH float64) ([]Archetype, error) {
	out := make([]Archetype, 0, 2*len(archetypePatterns))
	for _, pattern := range archetypePatterns {
		for _, portrait := range []bool{true, false} {
			a, err := BuildArchetype(pattern, panelW, panelH, portrait)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Area > out[j].Area })
	return out, nil
}

// placeArchetype moves an archetype onto the roof centroid and turns it to
// the layout aspect.
func placeArchetype(a Archetype, centroid orb.Point, aspect float64) orb.Polygon {
	moved := geom.Translate(a.Polygon, centroid[0], centroid[1])
	return geom.Rotate(moved, -aspect, centroid)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// bestArchetype returns the archetype that best replaces roof, if any.
// Candidates are scored by weighted missed and overhanging area relative
// to the roof, lower being better. If none scores below the threshold, a
// second pass scores overhang alone so that the largest archetype that
// fits well inside the roof can still win.
func bestArchetype(roof orb.Polygon, aspect float64, lib []Archetype, p ArchetypeParams) (orb.Polygon, bool) {
	roofArea := geom.Area(roof)
	if roofArea <= 0 {
		return nil, false
	}
	centroid := geom.Centroid(roof)

	type candidate struct {
		poly     orb.Polygon
		area     float64
		missed   float64
		overhang float64
	}
	cands := make([]candidate, 0, len(lib))
	for _, a := range lib {
		if a.Area > roofArea+p.AreaSlack {
			continue
		}
		placed := placeArchetype(a, centroid, aspect)
		missed, err := geom.Difference(roof, placed)
		if err != nil {
			continue
		}
		overhang, err := geom.Difference(placed, roof)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{
			poly:     placed,
			area:     a.Area,
			missed:   geom.MultiArea(missed),
			overhang: geom.MultiArea(overhang),
		})
	}

	minScore := p.MaxScore
	pick := func(score func(candidate) float64) int {
		best := -1
		for i, c := range cands {
			s := score(c)
			if s < minScore {
				minScore = s
				best = i
			}
			if best >= 0 && round2(s) == round2(minScore) && c.area > cands[best].area {
				minScore = s
				best = i
			}
		}
		return best
	}

	best := pick(func(c candidate) float64 {
		return (p.UncoveredWeight*c.missed + p.OverhangWeight*c.overhang) / roofArea
	})
	if best < 0 {
		best = pick(func(c candidate) float64 { return c.overhang / roofArea })
	}
	if best < 0 {
		return nil, false
	}
	return cands[best].poly, true
}
