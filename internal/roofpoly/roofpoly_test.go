package roofpoly

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
)

func init() {
	monitoring.SetLogger(nil)
}

// pixelGrid returns 1m pixel centres covering [x0,x1) x [y0,y1).
func pixelGrid(x0, y0, x1, y1 int) []solar.LidarPoint {
	var pts []solar.LidarPoint
	for j := y0; j < y1; j++ {
		for i := x0; i < x1; i++ {
			pts = append(pts, solar.LidarPoint{X: float64(i) + 0.5, Y: float64(j) + 0.5})
		}
	}
	return pts
}

func indexRange(from, to int) []int {
	idx := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		idx = append(idx, i)
	}
	return idx
}

func rectBuilding(w, h float64) solar.Building {
	return solar.Building{ID: "b1", Footprint: geom.Rect(0, 0, w, h)}
}

func noArchetypes() Params {
	p := DefaultParams(1)
	p.Archetypes.Enabled = false
	return p
}

func TestBuildingOrientations(t *testing.T) {
	fp := orb.Polygon{orb.Ring{
		{359550.9, 171704.15}, {359549.65, 171706.15}, {359548.55, 171705.45},
		{359547.1, 171707.8}, {359541.15, 171704.05}, {359543.9, 171699.7},
		{359550.9, 171704.15},
	}}
	assert.Equal(t, [4]float64{58, 148, 238, 328}, BuildingOrientations(fp))
	assert.Equal(t, [4]float64{90, 180, 270, 0}, BuildingOrientations(geom.Rect(0, 0, 10, 6)))
}

func TestSnapAspect(t *testing.T) {
	o := [4]float64{0, 90, 180, 270}
	tests := []struct {
		aspect float64
		want   float64
	}{
		{170, 180},
		{160, 160},
		{355, 0},
		{96, 90},
	}
	for _, tt := range tests {
		if got := snapAspect(tt.aspect, o, DefaultAlignmentThreshold); got != tt.want {
			t.Errorf("snapAspect(%v): expected %v, got %v", tt.aspect, tt.want, got)
		}
	}

	assert.Equal(t, 148.0, flatLayoutAspect([4]float64{58, 148, 238, 328}, 180, DefaultFlatAlignmentThreshold))
	assert.Equal(t, 180.0, flatLayoutAspect(o, 180, DefaultFlatAlignmentThreshold))
}

func TestReconstruct_ClipsToEdgeDistance(t *testing.T) {
	pts := pixelGrid(0, 0, 10, 6)
	planes := []solar.RoofPlane{{
		ID: 1, BuildingID: "b1", FittedSlope: 30, Slope: 30, Aspect: 180,
		Inliers: indexRange(0, len(pts)), Usable: true,
	}}
	p := noArchetypes()
	p.MinDistToEdgeM = 0.5

	out, err := Reconstruct(rectBuilding(10, 6), planes, pts, p)
	require.NoError(t, err)
	require.Len(t, out, 1)

	pl := out[0]
	require.NotNil(t, pl.Geom)
	b := pl.Geom.Bound()
	assert.InDelta(t, 0.5, b.Min[0], 1e-6)
	assert.InDelta(t, 0.5, b.Min[1], 1e-6)
	assert.InDelta(t, 9.5, b.Max[0], 1e-6)
	assert.InDelta(t, 5.5, b.Max[1], 1e-6)
	assert.InDelta(t, 45, pl.RawFootprint, 1e-6)
	assert.InDelta(t, 45/math.Cos(30*math.Pi/180), pl.RawArea, 1e-6)
	assert.InDelta(t, 5, pl.Easting, 1e-6)
	assert.InDelta(t, 3, pl.Northing, 1e-6)
	assert.True(t, pl.Usable)
	assert.False(t, pl.Archetype)
}

func TestReconstruct_LowerIDKeepsOverlap(t *testing.T) {
	pts := pixelGrid(0, 0, 10, 6)
	var west, east []int
	for i, pt := range pts {
		if pt.X < 6 {
			west = append(west, i)
		}
		if pt.X > 4 {
			east = append(east, i)
		}
	}
	planes := []solar.RoofPlane{
		{ID: 2, FittedSlope: 30, Aspect: 180, Inliers: east, Usable: true},
		{ID: 1, FittedSlope: 30, Aspect: 180, Inliers: west, Usable: true},
	}
	p := noArchetypes()
	p.MinDistToEdgeM = 0.5

	out, err := Reconstruct(rectBuilding(10, 6), planes, pts, p)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 1, out[0].ID)

	overlap := geom.Rect(4, 0.5, 6, 5.5)
	lost, err := geom.Difference(overlap, out[0].Geom)
	require.NoError(t, err)
	assert.InDelta(t, 0, geom.MultiArea(lost), 1e-6, "plane 1 keeps the overlap")

	shared, err := geom.Intersection(out[0].Geom, out[1].Geom)
	require.NoError(t, err)
	assert.InDelta(t, 0, geom.MultiArea(shared), 1e-6, "plane 2 loses the overlap")
	assert.InDelta(t, 17.5, out[1].RawFootprint, 1e-6)
}

func TestReconstruct_GableWithArchetypes(t *testing.T) {
	pts := pixelGrid(0, 0, 12, 8)
	var south, north []int
	for i, pt := range pts {
		if pt.Y < 4 {
			south = append(south, i)
		} else {
			north = append(north, i)
		}
	}
	planes := []solar.RoofPlane{
		{ID: 1, FittedSlope: 35, Aspect: 178, Inliers: south, Usable: true},
		{ID: 2, FittedSlope: 35, Aspect: 3, Inliers: north, Usable: true},
	}
	b := rectBuilding(12, 8)

	out, err := Reconstruct(b, planes, pts, DefaultParams(1))
	require.NoError(t, err)
	require.Len(t, out, 2)

	for _, pl := range out {
		require.NotNil(t, pl.Geom, "plane %d", pl.ID)
		outside, err := geom.Difference(pl.Geom, b.Footprint)
		require.NoError(t, err)
		assert.InDelta(t, 0, geom.MultiArea(outside), 1e-6, "plane %d leaves the footprint", pl.ID)
		assert.InDelta(t, solar.SlopedArea(pl.RawFootprint, pl.Slope), pl.RawArea, 1e-9)
	}
	shared, err := geom.Intersection(out[0].Geom, out[1].Geom)
	require.NoError(t, err)
	assert.InDelta(t, 0, geom.MultiArea(shared), 1e-6)

	assert.Equal(t, 180.0, out[0].Aspect)
	assert.True(t, out[0].Usable)
	assert.Equal(t, 0.0, out[1].Aspect)
	assert.False(t, out[1].Usable)
	assert.Equal(t, solar.NotUsableAspect, out[1].NotUsableReason)
}

func TestReconstruct_FlatRoof(t *testing.T) {
	pts := pixelGrid(0, 0, 10, 6)
	planes := []solar.RoofPlane{{
		ID: 1, FittedSlope: 2, Slope: 2, Aspect: 12, Inliers: indexRange(0, len(pts)), Usable: true,
	}}
	p := noArchetypes()

	out, err := Reconstruct(rectBuilding(10, 6), planes, pts, p)
	require.NoError(t, err)
	pl := out[0]

	assert.True(t, pl.IsFlat)
	assert.Equal(t, p.FlatRoofDegrees, pl.Slope)
	assert.Equal(t, 2.0, pl.FittedSlope)
	assert.Equal(t, DefaultFlatRoofAspect, pl.Aspect)
	assert.Equal(t, 180.0, pl.LayoutAspect)
	assert.True(t, pl.Usable, "flat roofs pass the aspect test")
	assert.InDelta(t, solar.SlopedArea(pl.RawFootprint, p.FlatRoofDegrees), pl.RawArea, 1e-9)
}

func TestReconstruct_FlatThreshold(t *testing.T) {
	pts := pixelGrid(0, 0, 10, 6)
	planes := []solar.RoofPlane{{
		ID: 1, FittedSlope: 7, Slope: 7, Aspect: 180, Inliers: indexRange(0, len(pts)), Usable: true,
	}}

	out, err := Reconstruct(rectBuilding(10, 6), planes, pts, noArchetypes())
	require.NoError(t, err)
	assert.False(t, out[0].IsFlat)
	assert.Equal(t, 7.0, out[0].Slope)

	p := noArchetypes()
	p.FlatThresholdDegrees = 8
	out, err = Reconstruct(rectBuilding(10, 6), planes, pts, p)
	require.NoError(t, err)
	assert.True(t, out[0].IsFlat)
	assert.Equal(t, p.FlatRoofDegrees, out[0].Slope)
}

func TestReconstruct_EmptyGeometryDoesNotFailBuilding(t *testing.T) {
	pts := append(pixelGrid(0, 0, 10, 6), pixelGrid(30, 30, 34, 34)...)
	planes := []solar.RoofPlane{
		{ID: 1, FittedSlope: 30, Aspect: 180, Inliers: indexRange(60, 76), Usable: true},
		{ID: 2, FittedSlope: 30, Aspect: 180, Inliers: indexRange(0, 60), Usable: true},
		{ID: 3, FittedSlope: 30, Aspect: 180, Usable: true},
	}

	out, err := Reconstruct(rectBuilding(10, 6), planes, pts, noArchetypes())
	require.NoError(t, err)
	require.Len(t, out, 3)

	for _, i := range []int{0, 2} {
		assert.Nil(t, out[i].Geom)
		assert.False(t, out[i].Usable)
		assert.Equal(t, solar.NotUsableEmptyGeometry, out[i].NotUsableReason)
		assert.Equal(t, 0.0, out[i].RawArea)
	}
	assert.True(t, out[1].Usable)
}

func TestReconstruct_SmallAreaUnusable(t *testing.T) {
	pts := pixelGrid(0, 0, 3, 2)
	planes := []solar.RoofPlane{{ID: 1, FittedSlope: 30, Aspect: 180, Inliers: indexRange(0, 6), Usable: true}}
	p := noArchetypes()
	p.MinDistToEdgeM = 0

	out, err := Reconstruct(rectBuilding(3, 2), planes, pts, p)
	require.NoError(t, err)
	assert.False(t, out[0].Usable)
	assert.Equal(t, solar.NotUsableArea, out[0].NotUsableReason)
}

func TestArchetypes_Library(t *testing.T) {
	lib, err := Archetypes(0.99, 1.64)
	require.NoError(t, err)
	require.Len(t, lib, 2*len(archetypePatterns))
	for i := 1; i < len(lib); i++ {
		assert.GreaterOrEqual(t, lib[i-1].Area, lib[i].Area)
	}
	c := geom.Centroid(lib[0].Polygon)
	assert.InDelta(t, 0, c[0], 1e-9)
	assert.InDelta(t, 0, c[1], 1e-9)
	assert.InDelta(t, 20*0.99*1.64, lib[0].Area, 1e-9)
}

func TestBestArchetype_Idempotent(t *testing.T) {
	lib, err := Archetypes(0.99, 1.64)
	require.NoError(t, err)
	a, err := BuildArchetype([][]int{{1, 1, 1}, {1, 1, 1}}, 0.99, 1.64, false)
	require.NoError(t, err)

	const aspect = 30.0
	roof := placeArchetype(a, orb.Point{1000, 2000}, aspect)

	got, ok := bestArchetype(roof, aspect, lib, DefaultParams(1).Archetypes)
	require.True(t, ok)

	extra, err := geom.Difference(got, roof)
	require.NoError(t, err)
	missing, err := geom.Difference(roof, got)
	require.NoError(t, err)
	assert.InDelta(t, 0, geom.MultiArea(extra)+geom.MultiArea(missing), 1e-6)
}

func TestBestArchetype_NoneForTinyRoof(t *testing.T) {
	lib, err := Archetypes(0.99, 1.64)
	require.NoError(t, err)
	_, ok := bestArchetype(geom.Rect(0, 0, 1, 1), 180, lib, DefaultParams(1).Archetypes)
	assert.False(t, ok)
}
