package export

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/fsutil"
	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
)

func init() {
	monitoring.SetLogger(nil)
}

const footprints = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"toid": "osgb1"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,8],[0,8],[0,0]]]}},
    {"type": "Feature", "properties": {"toid": 2},
     "geometry": {"type": "MultiPolygon", "coordinates": [
       [[[20,0],[22,0],[22,2],[20,2],[20,0]]],
       [[[30,0],[40,0],[40,10],[30,10],[30,0]]]]}},
    {"type": "Feature", "id": "osgb3", "properties": {},
     "geometry": {"type": "Point", "coordinates": [5,5]}},
    {"type": "Feature", "id": "osgb4", "properties": {"toid": null},
     "geometry": {"type": "Polygon", "coordinates": [[[50,0],[54,0],[54,4],[50,4],[50,0]]]}}
  ]
}`

func TestReadFootprints(t *testing.T) {
	got, err := ReadFootprints(strings.NewReader(footprints), "toid")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "osgb1", got[0].ID)
	assert.InDelta(t, 80, got[0].Area(), 1e-9)

	assert.Equal(t, "2", got[1].ID)
	assert.InDelta(t, 100, got[1].Area(), 1e-9, "largest part of a multipolygon")

	assert.Equal(t, "osgb4", got[2].ID, "falls back to the feature id")
}

func TestReadFootprints_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"not json", `{`, "parse footprints"},
		{"no id", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},
			"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`, "no \"id\" property"},
		{"duplicate", `{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{"id":"a"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
			{"type":"Feature","properties":{"id":"a"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`,
			"duplicate building id a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFootprints(strings.NewReader(tt.in), "")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func sampleResults() *db.Results {
	h := 6.5
	return &db.Results{
		Buildings: []solar.Building{
			{ID: "b1", Footprint: geom.Rect(0, 0, 10, 8), Height: &h},
			{ID: "b2", Footprint: geom.Rect(20, 0, 24, 4), Exclusion: solar.OutdatedLidarCoverage},
		},
		RoofPlanes: []solar.RoofPlane{
			{ID: 1, BuildingID: "b1", Slope: 30, Aspect: 180, Usable: true, Geom: geom.Rect(0, 0, 10, 4),
				KWhYear: 1200, KWhMonthly: [12]float64{5: 150}, Horizon: []float64{1, 2}},
			{ID: 2, BuildingID: "b1", Slope: 30, Aspect: 0, NotUsableReason: solar.NotUsableAspect, Geom: geom.Rect(0, 4, 10, 8)},
			{ID: 3, BuildingID: "b1", NotUsableReason: solar.NotUsableEmptyGeometry},
		},
		Panels: []solar.Panel{
			{ID: 1, RoofPlaneID: 1, BuildingID: "b1", Geom: geom.Rect(1, 1, 2, 2.64), Area: 1.6236, KWhYear: 300},
		},
	}
}

func TestCollection(t *testing.T) {
	r := sampleResults()

	b := Collection(r, LayerBuildings)
	require.Len(t, b.Features, 2)
	assert.Equal(t, "b1", b.Features[0].ID)
	assert.Equal(t, 6.5, b.Features[0].Properties["height"])
	assert.Nil(t, b.Features[0].Properties["exclusion_reason"])
	assert.Equal(t, "OUTDATED_LIDAR_COVERAGE", b.Features[1].Properties["exclusion_reason"])
	assert.Nil(t, b.Features[1].Properties["height"])

	planes := Collection(r, LayerRoofPlanes)
	require.Len(t, planes.Features, 2, "planes without geometry are left out")
	assert.Equal(t, true, planes.Features[0].Properties["usable"])
	assert.Nil(t, planes.Features[0].Properties["not_usable_reason"])
	assert.Equal(t, "ASPECT", planes.Features[1].Properties["not_usable_reason"])

	panels := Collection(r, LayerPanels)
	require.Len(t, panels.Features, 1)
	assert.IsType(t, orb.Polygon{}, panels.Features[0].Geometry)
}

func TestWrite_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Collection(sampleResults(), LayerRoofPlanes)))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	props := fc.Features[0].Properties
	assert.Equal(t, "b1", props["building_id"])
	assert.Equal(t, 1.0, props["roof_plane_id"])
	assert.Equal(t, 1200.0, props["kwh_year"])
	monthly, ok := props["kwh_monthly"].([]interface{})
	require.True(t, ok)
	require.Len(t, monthly, 12)
	assert.Equal(t, 150.0, monthly[5])
	assert.Equal(t, []interface{}{1.0, 2.0}, props["horizon"])
}

func TestWriteLayers(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	paths, err := WriteLayers(fsys, "/out", "job/42", sampleResults())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("/out", "job_42_buildings.geojson"),
		filepath.Join("/out", "job_42_roof_planes.geojson"),
		filepath.Join("/out", "job_42_panels.geojson"),
	}, paths)
	assert.ElementsMatch(t, paths, fsys.Files("/out"))

	data, err := fsys.ReadFile(paths[2])
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)

	paths, err = WriteLayers(fsys, "/only", "j", sampleResults(), LayerPanels)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("/only", "j_panels.geojson")}, paths)
}

func TestParseLayer(t *testing.T) {
	l, err := ParseLayer("roof_planes")
	require.NoError(t, err)
	assert.Equal(t, LayerRoofPlanes, l)
	_, err = ParseLayer("trees")
	assert.Error(t, err)
}
