package irradiation

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/solar.report/internal/monitoring"
)

// Input file names written into a tile directory for the engine.
const (
	ElevationFile = "elevation.asc"
	SlopeFile     = "slope.asc"
	AspectFile    = "aspect.asc"
	MaskFile      = "mask.asc"
	// DefaultOutputFile is where the engine writes its pixel CSV.
	DefaultOutputFile = "pixels.csv"
)

// DefaultTimeout bounds a single engine run.
const DefaultTimeout = 30 * time.Minute

// Tile is one spatial unit of engine work. Its directory holds the input
// rasters and receives the engine output.
type Tile struct {
	JobID string
	Bound orb.Bound
	Dir   string
	// HorizonRadius (m) and HorizonSlices tell the engine how far and in
	// how many directions to trace the horizon.
	HorizonRadius int
	HorizonSlices int
}

// Engine computes per-pixel yield and horizons for a tile.
type Engine interface {
	Run(ctx context.Context, t Tile) ([]Pixel, error)
}

// TileError reports an engine failure with enough context to retry the
// tile.
type TileError struct {
	JobID string
	Bound orb.Bound
	Err   error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("job %s tile [%.1f %.1f %.1f %.1f]: %v",
		e.JobID, e.Bound.Min[0], e.Bound.Min[1], e.Bound.Max[0], e.Bound.Max[1], e.Err)
}

func (e *TileError) Unwrap() error { return e.Err }

func tileError(t Tile, err error) error {
	return &TileError{JobID: t.JobID, Bound: t.Bound, Err: err}
}

// ExecEngine runs an external program once per tile. The program runs in
// the tile directory with SOLAR_JOB_ID, SOLAR_TILE_DIR and
// SOLAR_TILE_BOUNDS (minx,miny,maxx,maxy), SOLAR_HORIZON_RADIUS and
// SOLAR_HORIZON_SLICES set, and must write a pixel CSV to OutputFile.
type ExecEngine struct {
	Command    string
	Args       []string
	Timeout    time.Duration
	OutputFile string
}

// NewExecEngine returns an engine for the given command line.
func NewExecEngine(command string, args []string, timeout time.Duration) *ExecEngine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecEngine{Command: command, Args: args, Timeout: timeout, OutputFile: DefaultOutputFile}
}

// Run executes the engine for t and reads its output. Any failure,
// including a timeout, is returned as a *TileError.
func (e *ExecEngine) Run(ctx context.Context, t Tile) ([]Pixel, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Dir = t.Dir
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = append(os.Environ(),
		"SOLAR_JOB_ID="+t.JobID,
		"SOLAR_TILE_DIR="+t.Dir,
		fmt.Sprintf("SOLAR_TILE_BOUNDS=%f,%f,%f,%f", t.Bound.Min[0], t.Bound.Min[1], t.Bound.Max[0], t.Bound.Max[1]),
		"SOLAR_HORIZON_RADIUS="+strconv.Itoa(t.HorizonRadius),
		"SOLAR_HORIZON_SLICES="+strconv.Itoa(t.HorizonSlices),
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	monitoring.Logf("irradiation: job %s running %s in %s", t.JobID, e.Command, t.Dir)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s: %w", e.Command, ctxErr)
		} else {
			err = fmt.Errorf("%s: %w: %s", e.Command, err, strings.TrimSpace(out.String()))
		}
		return nil, tileError(t, err)
	}

	name := e.OutputFile
	if name == "" {
		name = DefaultOutputFile
	}
	pixels, err := ReadPixelsFile(filepath.Join(t.Dir, name))
	if err != nil {
		return nil, tileError(t, err)
	}
	monitoring.Logf("irradiation: job %s tile done, %d pixels in %v", t.JobID, len(pixels), time.Since(start).Round(time.Millisecond))
	return pixels, nil
}

// ErrMalformedOutput is wrapped by errors reading engine output.
var ErrMalformedOutput = errors.New("malformed engine output")

// ReadPixelsFile reads an engine pixel CSV from disk.
func ReadPixelsFile(path string) ([]Pixel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open engine output: %w", err)
	}
	defer f.Close()
	return ReadPixels(f)
}

// ReadPixels parses an engine pixel CSV. The header must start with x, y,
// kwh_year and twelve monthly Wh/day columns; every later column is a
// horizon slice. Empty cells and "nan" are missing values.
func ReadPixels(in io.Reader) ([]Pixel, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedOutput, err)
	}
	const fixed = 3 + 12
	if len(header) < fixed || header[0] != "x" || header[1] != "y" || header[2] != "kwh_year" {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrMalformedOutput, header)
	}
	slices := len(header) - fixed

	var out []Pixel
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedOutput, line, err)
		}
		vals := make([]float64, len(rec))
		for i, field := range rec {
			v, err := parseValue(field)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %s: %v", ErrMalformedOutput, line, header[i], err)
			}
			vals[i] = v
		}
		if math.IsNaN(vals[0]) || math.IsNaN(vals[1]) {
			return nil, fmt.Errorf("%w: line %d: missing coordinates", ErrMalformedOutput, line)
		}
		px := Pixel{X: vals[0], Y: vals[1], KWhYear: vals[2]}
		copy(px.WhDay[:], vals[3:fixed])
		if slices > 0 {
			px.Horizon = append([]float64(nil), vals[fixed:]...)
		}
		out = append(out, px)
	}
	return out, nil
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// WritePixels writes pixels in the format ReadPixels expects.
func WritePixels(w io.Writer, pixels []Pixel, slices int) error {
	cw := csv.NewWriter(w)
	header := []string{"x", "y", "kwh_year"}
	for m := 1; m <= 12; m++ {
		header = append(header, fmt.Sprintf("wh_m%02d", m))
	}
	for s := 0; s < slices; s++ {
		header = append(header, fmt.Sprintf("horizon_%d", s*360/max(slices, 1)))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for _, px := range pixels {
		rec = rec[:0]
		rec = append(rec, formatValue(px.X), formatValue(px.Y), formatValue(px.KWhYear))
		for _, v := range px.WhDay {
			rec = append(rec, formatValue(v))
		}
		for s := 0; s < slices; s++ {
			v := math.NaN()
			if s < len(px.Horizon) {
				v = px.Horizon[s]
			}
			rec = append(rec, formatValue(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
