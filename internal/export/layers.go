package export

import (
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/fsutil"
	"github.com/banshee-data/solar.report/internal/security"
	"github.com/banshee-data/solar.report/internal/solar"
)

// Layer names one exported feature collection.
type Layer string

const (
	LayerBuildings  Layer = "buildings"
	LayerRoofPlanes Layer = "roof_planes"
	LayerPanels     Layer = "panels"
)

// Layers lists every layer in write order.
var Layers = []Layer{LayerBuildings, LayerRoofPlanes, LayerPanels}

// ParseLayer validates a layer name.
func ParseLayer(s string) (Layer, error) {
	for _, l := range Layers {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown layer %q", s)
}

func optional(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nonEmpty[T ~string](s T) interface{} {
	if s == "" {
		return nil
	}
	return string(s)
}

func buildingFeature(b solar.Building) *geojson.Feature {
	f := geojson.NewFeature(b.Footprint)
	f.ID = b.ID
	f.Properties = geojson.Properties{
		"building_id":       b.ID,
		"exclusion_reason":  nonEmpty(b.Exclusion.String()),
		"area":              b.Area(),
		"height":            optional(b.Height),
		"min_ground_height": optional(b.MinGroundHeight),
		"max_ground_height": optional(b.MaxGroundHeight),
	}
	return f
}

func planeFeature(p solar.RoofPlane) *geojson.Feature {
	f := geojson.NewFeature(p.Geom)
	f.Properties = geojson.Properties{
		"building_id":       p.BuildingID,
		"roof_plane_id":     p.ID,
		"slope":             p.Slope,
		"aspect":            p.Aspect,
		"is_flat":           p.IsFlat,
		"usable":            p.Usable,
		"not_usable_reason": nonEmpty(p.NotUsableReason),
		"archetype":         p.Archetype,
		"raw_footprint":     p.RawFootprint,
		"raw_area":          p.RawArea,
		"easting":           p.Easting,
		"northing":          p.Northing,
		"kwh_year":          p.KWhYear,
		"kwh_monthly":       p.KWhMonthly[:],
		"horizon":           p.Horizon,
	}
	return f
}

func panelFeature(p solar.Panel) *geojson.Feature {
	f := geojson.NewFeature(p.Geom)
	f.Properties = geojson.Properties{
		"building_id":   p.BuildingID,
		"roof_plane_id": p.RoofPlaneID,
		"panel_id":      p.ID,
		"area":          p.Area,
		"footprint":     p.Footprint,
		"kwh_year":      p.KWhYear,
		"kwh_monthly":   p.KWhMonthly[:],
		"horizon":       p.Horizon,
	}
	return f
}

// Collection builds one layer of r. Roof planes without a polygon are
// left out.
func Collection(r *db.Results, layer Layer) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	switch layer {
	case LayerBuildings:
		for _, b := range r.Buildings {
			fc.Append(buildingFeature(b))
		}
	case LayerRoofPlanes:
		for _, p := range r.RoofPlanes {
			if len(p.Geom) > 0 {
				fc.Append(planeFeature(p))
			}
		}
	case LayerPanels:
		for _, p := range r.Panels {
			fc.Append(panelFeature(p))
		}
	}
	return fc
}

// Write encodes fc to w.
func Write(w io.Writer, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// WriteLayers writes each requested layer of r to dir as
// <prefix>_<layer>.geojson and returns the paths written. No layers means
// all of them.
func WriteLayers(fsys fsutil.FileSystem, dir, prefix string, r *db.Results, layers ...Layer) ([]string, error) {
	if len(layers) == 0 {
		layers = Layers
	}
	var paths []string
	for _, l := range layers {
		path, err := security.JoinWithin(dir, fmt.Sprintf("%s_%s.geojson", prefix, l))
		if err != nil {
			return paths, err
		}
		fc := Collection(r, l)
		if err := fsutil.WriteFile(fsys, path, func(w io.Writer) error { return Write(w, fc) }); err != nil {
			return paths, fmt.Errorf("write %s: %w", l, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
