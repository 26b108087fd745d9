package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/solar.report/internal/elevation"
)

const footprintsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"toid": "hipped"},
     "geometry": {"type": "Polygon", "coordinates": [[[20,20],[40,20],[40,36],[20,36],[20,20]]]}},
    {"type": "Feature", "properties": {"toid": "demolished"},
     "geometry": {"type": "Polygon", "coordinates": [[[4,44],[14,44],[14,54],[4,54],[4,44]]]}}
  ]
}`

const configYAML = `workers: 2
ransac:
  seed: 42
irradiation:
  engine: none
`

// writeScene writes a 60 m DEM with one hipped roof, footprints and a job
// config to dir.
func writeScene(t *testing.T, dir string) (dem, footprints, cfg string) {
	t.Helper()
	r := elevation.NewRaster(60, 60, 0, 0, 1)
	pitch := math.Tan(30 * math.Pi / 180)
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			c := r.Centre(col, row)
			z := 10.0
			if c[0] > 20 && c[0] < 40 && c[1] > 20 && c[1] < 36 {
				d := math.Min(math.Min(c[0]-20, 40-c[0]), math.Min(c[1]-20, 36-c[1]))
				z += 3 + d*pitch
			}
			r.Set(col, row, z)
		}
	}
	dem = filepath.Join(dir, "dem.asc")
	require.NoError(t, elevation.WriteASCIIFile(dem, r))

	footprints = filepath.Join(dir, "footprints.geojson")
	require.NoError(t, os.WriteFile(footprints, []byte(footprintsJSON), 0o644))

	cfg = filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(configYAML), 0o644))
	return dem, footprints, cfg
}

// execute runs the CLI with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestRunExportAndList(t *testing.T) {
	dir := t.TempDir()
	dem, footprints, cfg := writeScene(t, dir)
	dbPath := filepath.Join(dir, "solar.db")
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "run", "--db", dbPath, "--config", cfg,
		"--dem", dem, "--footprints", footprints, "--id-property", "toid",
		"--out", outDir, "--plots", "--report")
	require.NoError(t, err, out)
	require.True(t, strings.HasPrefix(out, "job "), out)
	jobID := strings.TrimSuffix(strings.Fields(out)[1], ":")
	assert.Contains(t, out, "2 buildings (1 excluded)")

	for _, name := range []string{
		jobID + "_buildings.geojson",
		jobID + "_roof_planes.geojson",
		jobID + "_panels.geojson",
		jobID + "_report.html",
		filepath.Join(jobID+"_plots", "hipped.png"),
		filepath.Join(jobID+"_plots", "demolished.png"),
	} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	out, err = execute(t, "jobs", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, jobID)
	assert.Contains(t, out, "done")

	onlyPanels := filepath.Join(dir, "panels")
	out, err = execute(t, "export", jobID, "--db", dbPath, "-o", onlyPanels, "--layer", "panels")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(onlyPanels, jobID+"_panels.geojson")+"\n", out)
	entries, err := os.ReadDir(onlyPanels)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = execute(t, "export", jobID, "--db", dbPath, "-o", onlyPanels, "--layer", "trees")
	assert.ErrorContains(t, err, "unknown layer")

	_, err = execute(t, "export", "missing", "--db", dbPath)
	assert.ErrorContains(t, err, "job not found")
}

func TestRun_RequiresInputs(t *testing.T) {
	_, err := execute(t, "run", "--db", filepath.Join(t.TempDir(), "solar.db"))
	assert.ErrorContains(t, err, "required flag")
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	dem, footprints, _ := writeScene(t, dir)
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("workers: -3\n"), 0o644))

	_, err := execute(t, "run", "--db", filepath.Join(dir, "solar.db"), "--config", bad,
		"--dem", dem, "--footprints", footprints)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "solar.db"), "config is validated before the database is opened")
}

func TestMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "solar.db")

	out, err := execute(t, "migrate", "status", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "version 0 of")
	assert.Contains(t, out, "pending migrations")

	out, err = execute(t, "migrate", "up", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	out, err = execute(t, "migrate", "down", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pending migrations")

	_, err = execute(t, "migrate", "force", "x", "--db", dbPath)
	assert.ErrorContains(t, err, "invalid version")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "solar-pv dev"), out)
}

func TestBadLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"version", "--log-level", "loud"})
	assert.ErrorContains(t, cmd.Execute(), "invalid log level")
}
