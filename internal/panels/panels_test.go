package panels

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/solar"
)

func assertInside(t *testing.T, roof orb.Polygon, panels []orb.Polygon) {
	t.Helper()
	for i, p := range panels {
		outside, err := geom.Difference(p, roof)
		require.NoError(t, err)
		assert.InDelta(t, 0, geom.MultiArea(outside), 1e-6, "panel %d leaves the roof", i)
	}
}

func assertDisjoint(t *testing.T, panels []orb.Polygon) {
	t.Helper()
	for i := range panels {
		for j := i + 1; j < len(panels); j++ {
			in, err := geom.Intersection(panels[i], panels[j])
			require.NoError(t, err)
			assert.InDelta(t, 0, geom.MultiArea(in), 1e-6, "panels %d and %d overlap", i, j)
		}
	}
}

func TestPlace_PortraitRows(t *testing.T) {
	roof := geom.Rect(0, 0, 10, 5)
	got, err := Place(roof, 0, 180, false, DefaultDims())
	require.NoError(t, err)

	// 9 columns of 0.99 m and 3 rows of 1.64 m.
	assert.Len(t, got, 27)
	assertInside(t, roof, got)
	assertDisjoint(t, got)
}

func TestPlace_SlopeForeshortens(t *testing.T) {
	roof := geom.Rect(0, 0, 12, 8)
	got, err := Place(roof, 60, 180, false, DefaultDims())
	require.NoError(t, err)
	require.NotEmpty(t, got)

	want := 0.99 * 1.64 * math.Cos(60*math.Pi/180)
	for _, p := range got {
		assert.InDelta(t, want, geom.Area(p), 1e-6)
	}
	assertInside(t, roof, got)
}

func TestPlace_FlatRoofIsLandscapeWithRowGaps(t *testing.T) {
	roof := geom.Rect(0, 0, 12, 8)
	d := DefaultDims()
	const slope = 10.0
	got, err := Place(roof, slope, 180, true, d)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	landscapeH := d.WidthM * math.Cos(slope*math.Pi/180)
	gap := math.Sin(slope*math.Pi/180) * landscapeH / math.Tan(d.SunAngleDegrees*math.Pi/180)
	rows := map[float64]bool{}
	for _, p := range got {
		b := p.Bound()
		assert.InDelta(t, d.HeightM, b.Max[0]-b.Min[0], 1e-6, "landscape width")
		assert.InDelta(t, landscapeH, b.Max[1]-b.Min[1], 1e-6, "landscape height")
		rows[math.Round(b.Min[1]*1000)/1000] = true
	}
	var ys []float64
	for y := range rows {
		ys = append(ys, y)
	}
	require.GreaterOrEqual(t, len(ys), 2)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, y := range ys {
		lo = math.Min(lo, y)
		hi = math.Max(hi, y)
	}
	assert.InDelta(t, float64(len(ys)-1)*(landscapeH+gap), hi-lo, 0.01)
	assertInside(t, roof, got)
}

func TestPlace_RotatedRoofKeepsPanelsInside(t *testing.T) {
	const aspect = 135.0
	base := geom.Rect(0, 0, 9, 6)
	roof := geom.Rotate(base, -aspect, geom.Centroid(base))

	got, err := Place(roof, 30, aspect, false, DefaultDims())
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assertInside(t, roof, got)
	assertDisjoint(t, got)
}

func TestPlace_NoRoom(t *testing.T) {
	got, err := Place(geom.Rect(0, 0, 0.5, 0.5), 30, 180, false, DefaultDims())
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Place(nil, 30, 180, false, DefaultDims())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSunAngle(t *testing.T) {
	// Noon altitude at the winter solstice is 90 - latitude - 23.44.
	assert.InDelta(t, 90-51.5-23.44, SunAngle(51.5, -2.6, 2023), 0.5)
	assert.Equal(t, DefaultSunAngleDegrees, SunAngle(80, 0, 2023), "polar night")
}

func TestPlaceBuilding(t *testing.T) {
	b := &solar.Building{ID: "b1", Footprint: geom.Rect(0, 0, 20, 10)}
	planes := []solar.RoofPlane{
		{ID: 1, Geom: geom.Rect(0, 0, 10, 5), Slope: 30, Aspect: 180, LayoutAspect: 180, Usable: true},
		{ID: 2, Geom: geom.Rect(10, 0, 10.5, 0.5), Slope: 30, Aspect: 180, LayoutAspect: 180, Usable: true},
		{ID: 3, Geom: geom.Rect(12, 0, 14, 2), Slope: 30, Aspect: 180, LayoutAspect: 180, Usable: true},
		{ID: 4, Geom: geom.Rect(0, 5, 10, 10), Slope: 30, Aspect: 0, Usable: false, NotUsableReason: solar.NotUsableAspect},
	}

	got, err := PlaceBuilding(b, planes, DefaultParams())
	require.NoError(t, err)

	assert.True(t, planes[0].Usable)
	assert.Equal(t, solar.NotUsableNoPanels, planes[1].NotUsableReason)
	assert.Equal(t, solar.NotUsableArea, planes[2].NotUsableReason)
	assert.Equal(t, solar.NotUsableAspect, planes[3].NotUsableReason)
	assert.Equal(t, solar.ExclusionNone, b.Exclusion)

	require.NotEmpty(t, got)
	for i, p := range got {
		assert.Equal(t, i+1, p.ID)
		assert.Equal(t, 1, p.RoofPlaneID)
		assert.Equal(t, "b1", p.BuildingID)
		assert.InDelta(t, 0.99*1.64, p.Area, 1e-9)
		assert.InDelta(t, geom.Area(p.Geom), p.Footprint, 1e-9)
		assert.Less(t, p.Footprint, p.Area)
	}
}

func TestPlaceBuilding_ArchetypeKeepsSmallLayout(t *testing.T) {
	b := &solar.Building{ID: "b1"}
	roof := geom.Rect(0, 0, 3.1, 1.7)
	planes := []solar.RoofPlane{
		{ID: 1, Geom: roof, Slope: 0, LayoutAspect: 180, Usable: true, Archetype: true},
	}
	got, err := PlaceBuilding(b, planes, DefaultParams())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, planes[0].Usable)

	planes[0] = solar.RoofPlane{ID: 1, Geom: roof, Slope: 0, LayoutAspect: 180, Usable: true}
	got, err = PlaceBuilding(b, planes, DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, planes[0].Usable)
	assert.Equal(t, solar.AllRoofPlanesUnusable, b.Exclusion)
}
