// Package export reads building footprints from GeoJSON and writes job
// results back out as GeoJSON layers.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
)

// DefaultIDProperty is the feature property holding the building id.
const DefaultIDProperty = "id"

// maxFootprintBytes caps footprint files.
const maxFootprintBytes = 512 << 20

// ErrDuplicateID is returned when two footprints share an id.
var ErrDuplicateID = errors.New("duplicate building id")

// ReadFootprintsFile reads footprints from a GeoJSON file.
func ReadFootprintsFile(path, idProperty string) ([]solar.Building, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open footprints: %w", err)
	}
	defer f.Close()
	return ReadFootprints(f, idProperty)
}

// ReadFootprints parses a FeatureCollection of building footprints. The id
// comes from idProperty, or the feature id when the property is absent.
// Polygons are repaired when invalid and multipolygons reduced to their
// largest part; other geometry types are skipped.
func ReadFootprints(in io.Reader, idProperty string) ([]solar.Building, error) {
	if idProperty == "" {
		idProperty = DefaultIDProperty
	}
	data, err := io.ReadAll(io.LimitReader(in, maxFootprintBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read footprints: %w", err)
	}
	if len(data) > maxFootprintBytes {
		return nil, fmt.Errorf("footprints exceed %d bytes", maxFootprintBytes)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse footprints: %w", err)
	}

	seen := make(map[string]bool, len(fc.Features))
	out := make([]solar.Building, 0, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := featureID(f, idProperty)
		if !ok {
			return nil, fmt.Errorf("feature %d: no %q property or id", i, idProperty)
		}
		if seen[id] {
			return nil, fmt.Errorf("feature %d: %w %s", i, ErrDuplicateID, id)
		}
		seen[id] = true

		var poly orb.Polygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			poly = g
		case orb.MultiPolygon:
			poly, err = geom.Largest(g)
		default:
			monitoring.Logf("export: building %s: skipping %T footprint", id, f.Geometry)
			continue
		}
		if err == nil {
			poly, err = geom.MakeValid(poly)
		}
		if err != nil {
			monitoring.Logf("export: building %s: unusable footprint: %v", id, err)
			continue
		}
		out = append(out, solar.Building{ID: id, Footprint: poly})
	}
	return out, nil
}

func featureID(f *geojson.Feature, prop string) (string, bool) {
	v, ok := f.Properties[prop]
	if !ok || v == nil {
		v = f.ID
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	default:
		return "", false
	}
}
