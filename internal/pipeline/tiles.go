package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/solar.report/internal/config"
	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/elevation"
	"github.com/banshee-data/solar.report/internal/irradiation"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
)

var errTileOutside = errors.New("tile outside elevation raster")

type tileKey struct{ ix, iy int }

// planTiles covers the usable roof planes with square tiles of side size
// aligned to origin, skipping tiles that hold no plane. Tiles are ordered
// west to east, then south to north.
func planTiles(planes []solar.RoofPlane, origin orb.Point, size float64) []orb.Bound {
	seen := map[tileKey]struct{}{}
	for _, pl := range planes {
		if !pl.Usable || len(pl.Geom) == 0 {
			continue
		}
		b := pl.Geom.Bound()
		x0 := int(math.Floor((b.Min[0] - origin[0]) / size))
		x1 := int(math.Floor((b.Max[0] - origin[0]) / size))
		y0 := int(math.Floor((b.Min[1] - origin[1]) / size))
		y1 := int(math.Floor((b.Max[1] - origin[1]) / size))
		for ix := x0; ix <= x1; ix++ {
			for iy := y0; iy <= y1; iy++ {
				seen[tileKey{ix, iy}] = struct{}{}
			}
		}
	}
	keys := make([]tileKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ix != keys[j].ix {
			return keys[i].ix < keys[j].ix
		}
		return keys[i].iy < keys[j].iy
	})
	out := make([]orb.Bound, len(keys))
	for i, k := range keys {
		lo := orb.Point{origin[0] + float64(k.ix)*size, origin[1] + float64(k.iy)*size}
		out[i] = orb.Bound{Min: lo, Max: orb.Point{lo[0] + size, lo[1] + size}}
	}
	return out
}

// writeTile writes the engine inputs for one tile into dir. The terrain
// rasters reach out by the horizon radius; the mask covers only the
// tile so neighbouring tiles never report the same pixel.
func writeTile(dir string, b orb.Bound, s surfaces, roofs []orb.Polygon, radius float64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tile dir: %w", err)
	}
	padded := b.Pad(radius)
	for name, r := range map[string]*elevation.Raster{
		irradiation.ElevationFile: s.dem,
		irradiation.SlopeFile:     s.slope,
		irradiation.AspectFile:    s.aspect,
	} {
		c := r.Crop(padded)
		if c == nil {
			return errTileOutside
		}
		if err := elevation.WriteASCIIFile(filepath.Join(dir, name), c); err != nil {
			return err
		}
	}
	c := s.dem.Crop(b)
	if c == nil {
		return errTileOutside
	}
	return elevation.WriteASCIIFile(filepath.Join(dir, irradiation.MaskFile), elevation.Mask(c, roofs))
}

// runTiles runs the engine over every tile holding a usable plane. A
// failed tile is logged and counted; the rest still run. The pixels of
// every good tile are returned in tile order with the joined tile errors.
func (r *Runner) runTiles(ctx context.Context, job *Job, eng irradiation.Engine, p Params, s surfaces, res *db.Results) (pixels []irradiation.Pixel, tiles, failed int, err error) {
	var roofs []orb.Polygon
	for _, pl := range res.RoofPlanes {
		if pl.Usable && len(pl.Geom) > 0 {
			roofs = append(roofs, pl.Geom)
		}
	}
	bounds := planTiles(res.RoofPlanes, orb.Point{s.dem.XLL, s.dem.YLL}, p.TileSizeM)
	if len(bounds) == 0 {
		return nil, 0, 0, nil
	}

	base := job.Config.GetWorkDir()
	if base == "" {
		tmp, err := os.MkdirTemp("", "solar-"+job.ID+"-")
		if err != nil {
			return nil, 0, 0, fmt.Errorf("create work dir: %w", err)
		}
		if !job.Config.GetDebugMode() {
			defer os.RemoveAll(tmp)
		}
		base = tmp
	} else {
		base = filepath.Join(base, job.ID)
	}

	var (
		mu        sync.Mutex
		errs      []error
		perTile   = make([][]irradiation.Pixel, len(bounds))
		g         errgroup.Group
		scheduled int
	)
	g.SetLimit(job.Config.GetWorkers())
	for i, b := range bounds {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		t := irradiation.Tile{
			JobID:         job.ID,
			Bound:         b,
			Dir:           filepath.Join(base, fmt.Sprintf("tile_%03d", i)),
			HorizonRadius: p.HorizonRadius,
			HorizonSlices: p.HorizonSlices,
		}
		g.Go(func() error {
			err := writeTile(t.Dir, t.Bound, s, roofs, float64(t.HorizonRadius))
			if err != nil {
				err = &irradiation.TileError{JobID: t.JobID, Bound: t.Bound, Err: err}
			} else {
				perTile[i], err = eng.Run(ctx, t)
			}
			if err != nil {
				monitoring.Logf("pipeline: %v", err)
				r.Metrics.ObserveTileFailure()
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, scheduled, len(errs), err
	}
	for _, px := range perTile {
		pixels = append(pixels, px...)
	}
	return pixels, len(bounds), len(errs), errors.Join(errs...)
}

// irradiate fills in yield with the job's engine.
func (r *Runner) irradiate(ctx context.Context, job *Job, p Params, s surfaces, out *Outcome) error {
	cfg := job.Config
	res := &out.Results
	switch cfg.GetEngine() {
	case config.EnginePVGIS:
		client := r.PVGIS
		if client == nil {
			client = irradiation.NewPVGISClient(nil, cfg.GetPVGISURL(), cfg.GetPVGISRate())
			defer client.Close()
		}
		lat, lon, _ := cfg.GetSite()
		n, err := irradiation.EstimatePlanes(ctx, client, lat, lon, res.RoofPlanes, cfg.GetPVTech(), p.Irradiation)
		out.Irradiation.Planes = n
		if err != nil {
			return fmt.Errorf("irradiation: %w", err)
		}
		return nil

	case config.EngineExec:
		eng := r.Engine
		if eng == nil {
			cmd, args := cfg.GetCommand()
			eng = irradiation.NewExecEngine(cmd, args, cfg.GetEngineTimeout())
		}
		pixels, tiles, failed, err := r.runTiles(ctx, job, eng, p, s, res)
		out.Tiles, out.TilesFailed = tiles, failed
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		out.Irradiation = irradiation.Aggregate(pixels, s.dem.Res, res.Panels, res.RoofPlanes, p.Irradiation)
		return err

	default:
		return nil
	}
}
