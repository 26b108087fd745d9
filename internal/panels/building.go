package panels

import (
	"fmt"

	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/solar"
)

// PlaceBuilding places panels on every usable plane of b and then applies
// the post-placement rules: a plane with no panels, or a small plane whose
// panels cover less than the minimum roof area, becomes unusable, and a
// building left with planes but none usable is excluded. Planes are
// updated in place. Panel IDs count from 1 within the building.
func PlaceBuilding(b *solar.Building, planes []solar.RoofPlane, p Params) ([]solar.Panel, error) {
	var out []solar.Panel
	for i := range planes {
		pl := &planes[i]
		if !pl.Usable || len(pl.Geom) == 0 {
			continue
		}
		polys, err := Place(pl.Geom, pl.Slope, pl.LayoutAspect, pl.IsFlat, p.Dims)
		if err != nil {
			return nil, fmt.Errorf("building %s plane %d: %w", b.ID, pl.ID, err)
		}

		var area float64
		for _, poly := range polys {
			pa := p.Dims.WidthM * p.Dims.HeightM
			area += pa
			out = append(out, solar.Panel{
				ID:          len(out) + 1,
				RoofPlaneID: pl.ID,
				BuildingID:  b.ID,
				Geom:        poly,
				Area:        pa,
				Footprint:   geom.Area(poly),
			})
		}

		switch {
		case len(polys) == 0:
			pl.MarkUnusable(solar.NotUsableNoPanels)
		case (!pl.Archetype || len(polys) < p.MinArchetypePanels) && area < p.MinRoofAreaM:
			pl.MarkUnusable(solar.NotUsableArea)
		}
	}

	if len(planes) > 0 && b.Exclusion == solar.ExclusionNone {
		usable := false
		for _, pl := range planes {
			if pl.Usable {
				usable = true
				break
			}
		}
		if !usable {
			b.Exclusion = solar.AllRoofPlanesUnusable
		}
	}
	return withoutUnusable(out, planes), nil
}

// withoutUnusable drops panels whose plane was marked unusable after
// placement and renumbers the rest.
func withoutUnusable(panels []solar.Panel, planes []solar.RoofPlane) []solar.Panel {
	usable := make(map[int]bool, len(planes))
	for _, pl := range planes {
		usable[pl.ID] = pl.Usable
	}
	out := panels[:0]
	for _, p := range panels {
		if usable[p.RoofPlaneID] {
			p.ID = len(out) + 1
			out = append(out, p)
		}
	}
	return out
}
