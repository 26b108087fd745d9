package roofdet

import (
	"errors"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/solar.report/internal/solar"
)

// Rejection names the test a candidate plane failed.
type Rejection string

const (
	RejectAlreadySampled Rejection = "ALREADY_SAMPLED"
	RejectCollinear      Rejection = "COLLINEAR"
	RejectSlope          Rejection = "SLOPE"
	RejectMinPoints      Rejection = "MIN_POINTS"
	RejectCircularMean   Rejection = "CIRCULAR_MEAN"
	RejectCircularSD     Rejection = "CIRCULAR_SD"
	RejectWorseSD        Rejection = "WORSE_SD"
	RejectMorphology     Rejection = "MORPHOLOGY"
)

// Rejections counts rejected candidates by reason.
type Rejections map[Rejection]int

// Add merges other into r.
func (r Rejections) Add(other Rejections) {
	for k, v := range other {
		r[k] += v
	}
}

var (
	// ErrNoPlane is returned by FitPlane when no candidate passed every test.
	ErrNoPlane = errors.New("roofdet: no valid plane found")

	errCollinear = errors.New("roofdet: collinear sample")
)

const (
	initialAspectWindow = 5 * math.Pi / 180
	aspectWindowStep    = 5 * math.Pi / 180
	aspectWindowEvery   = 100
	maxSampleAttempts   = 1000

	// maxCollinearResamples bounds how often a trial may be redrawn for
	// collinear samples before it is spent.
	maxCollinearResamples = 10
	collinearEpsilon      = 1e-9
)

// Fit is the plane found by one RANSAC round.
type Fit struct {
	XCoef, YCoef, Intercept float64
	SD                      float64
	// Aspect statistics of the inliers in degrees; nil for flat planes.
	AspectCircMean *float64
	AspectCircSD   *float64
	// Inliers index into the pool passed to FitPlane.
	Inliers []int
}

// plane is z = a*x + b*y + c in pool-centred coordinates.
type plane struct {
	a, b, c float64
}

func (pl plane) norm() float64 { return math.Sqrt(1 + pl.a*pl.a + pl.b*pl.b) }

type fitter struct {
	p            Params
	rng          *rand.Rand
	rej          Rejections
	totalPoints  int
	groupChecks  bool
	pool         []solar.LidarPoint
	xs, ys, zs   []float64
	mx, my, mz   float64
	originX      float64
	originY      float64
	bad          map[[3]int]struct{}
	candidateBuf []int
}

func newFitter(pool []solar.LidarPoint, totalPoints int, buildingArea float64, p Params, rng *rand.Rand, rej Rejections) *fitter {
	f := &fitter{
		p:           p,
		rng:         rng,
		rej:         rej,
		totalPoints: totalPoints,
		groupChecks: p.groupChecks(buildingArea),
		pool:        pool,
		xs:          make([]float64, len(pool)),
		ys:          make([]float64, len(pool)),
		zs:          make([]float64, len(pool)),
		originX:     math.Inf(1),
		originY:     math.Inf(1),
		bad:         make(map[[3]int]struct{}),
	}
	for _, pt := range pool {
		f.mx += pt.X
		f.my += pt.Y
		f.mz += pt.Z
		f.originX = math.Min(f.originX, pt.X)
		f.originY = math.Min(f.originY, pt.Y)
	}
	n := float64(len(pool))
	f.mx /= n
	f.my /= n
	f.mz /= n
	for i, pt := range pool {
		f.xs[i] = pt.X - f.mx
		f.ys[i] = pt.Y - f.my
		f.zs[i] = pt.Z - f.mz
	}
	return f
}

// FitPlane runs one round of the modified RANSAC over pool and returns the
// best plane whose inliers pass every rejection test. totalPoints is the
// building's original point count, used by the relative minimum-size test.
// Rejected candidates are tallied into rej.
func FitPlane(pool []solar.LidarPoint, totalPoints int, buildingArea float64, p Params, rng *rand.Rand, rej Rejections) (Fit, error) {
	if len(pool) < 3 {
		return Fit{}, ErrNoPlane
	}
	if rej == nil {
		rej = Rejections{}
	}
	f := newFitter(pool, totalPoints, buildingArea, p, rng, rej)
	return f.run(p.trialsFor(buildingArea))
}

func (f *fitter) run(maxTrials int) (Fit, error) {
	var (
		found      bool
		bestModel  plane
		bestSD     = math.Inf(1)
		bestCount  = 1
		bestMean   *float64
		bestCircSD *float64
		bestIdx    []int
	)

	resamples := 0
	for trial := 0; trial < maxTrials; {
		idx := f.sample()
		if _, seen := f.bad[idx]; seen {
			f.rej[RejectAlreadySampled]++
			trial++
			continue
		}

		model, err := f.solveExact(idx)
		if err != nil {
			f.bad[idx] = struct{}{}
			f.rej[RejectCollinear]++
			resamples++
			if resamples > maxCollinearResamples {
				trial++
				resamples = 0
			}
			continue
		}
		trial++
		resamples = 0

		slope := Slope(model.a, model.b)
		if slope > f.p.MaxSlope {
			f.bad[idx] = struct{}{}
			f.rej[RejectSlope]++
			continue
		}

		inliers, residuals := f.inliers(model)
		if len(inliers) < f.p.MinPointsPerPlane {
			f.bad[idx] = struct{}{}
			f.rej[RejectMinPoints]++
			continue
		}

		_, sd := stat.PopMeanStdDev(residuals, nil)

		var circMean, circSD *float64
		if slope > f.p.FlatRoofThresholdDegrees {
			aspects := f.inlierAspects(inliers)
			if len(aspects) > 0 {
				cm := circularMean(aspects)
				if radDiff(aspectRad(model.a, model.b), cm) > f.p.MaxAspectCircularMeanDegrees*math.Pi/180 {
					f.bad[idx] = struct{}{}
					f.rej[RejectCircularMean]++
					continue
				}
				csd := circularSD(aspects)
				if csd > f.p.MaxAspectCircularSD {
					f.bad[idx] = struct{}{}
					f.rej[RejectCircularSD]++
					continue
				}
				cmDeg := cm * 180 / math.Pi
				circMean, circSD = &cmDeg, &csd
			}
		}

		if sd > bestSD || (sd == bestSD && len(inliers) <= bestCount) {
			f.bad[idx] = struct{}{}
			f.rej[RejectWorseSD]++
			continue
		}

		if !f.morphologyOK(inliers) {
			f.bad[idx] = struct{}{}
			f.rej[RejectMorphology]++
			continue
		}

		found = true
		bestModel = model
		bestSD = sd
		bestCount = len(inliers)
		bestMean, bestCircSD = circMean, circSD
		bestIdx = inliers
	}

	if !found {
		return Fit{}, ErrNoPlane
	}

	model, inliers := f.refit(bestModel, bestIdx)
	return Fit{
		XCoef:          model.a,
		YCoef:          model.b,
		Intercept:      model.c + f.mz - model.a*f.mx - model.b*f.my,
		SD:             bestSD,
		AspectCircMean: bestMean,
		AspectCircSD:   bestCircSD,
		Inliers:        inliers,
	}, nil
}

// refit estimates the final model by least squares over the best inliers,
// recomputes inliers across the pool and keeps the largest 4-connected
// group. If the refit plane breaks the slope cap or loses too many points
// the sampled model is used instead.
func (f *fitter) refit(sampled plane, bestIdx []int) (plane, []int) {
	model, err := f.solveLeastSquares(bestIdx)
	if err == nil && Slope(model.a, model.b) <= f.p.MaxSlope {
		inliers, _ := f.inliers(model)
		inliers = f.largestGroup(inliers)
		if len(inliers) >= f.p.MinPointsPerPlane {
			return model, inliers
		}
	}
	return sampled, f.largestGroup(bestIdx)
}

// inliers returns the pool indices within the residual threshold of the
// plane and their signed perpendicular residuals.
func (f *fitter) inliers(pl plane) ([]int, []float64) {
	norm := pl.norm()
	var idx []int
	var res []float64
	for i := range f.pool {
		r := (f.zs[i] - (pl.a*f.xs[i] + pl.b*f.ys[i] + pl.c)) / norm
		if math.Abs(r) < f.p.ResidualThreshold {
			idx = append(idx, i)
			res = append(res, r)
		}
	}
	return idx, res
}

func (f *fitter) inlierAspects(inliers []int) []float64 {
	out := make([]float64, 0, len(inliers))
	for _, i := range inliers {
		if a := f.pool[i].Aspect; !math.IsNaN(a) {
			out = append(out, a)
		}
	}
	return out
}

// solveExact fits the plane through three points.
func (f *fitter) solveExact(idx [3]int) (plane, error) {
	i, j, k := idx[0], idx[1], idx[2]
	det := (f.xs[j]-f.xs[i])*(f.ys[k]-f.ys[i]) - (f.xs[k]-f.xs[i])*(f.ys[j]-f.ys[i])
	if math.Abs(det) < collinearEpsilon {
		return plane{}, errCollinear
	}
	a := mat.NewDense(3, 3, []float64{
		f.xs[i], f.ys[i], 1,
		f.xs[j], f.ys[j], 1,
		f.xs[k], f.ys[k], 1,
	})
	b := mat.NewVecDense(3, []float64{f.zs[i], f.zs[j], f.zs[k]})
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return plane{}, errCollinear
	}
	return plane{x.AtVec(0), x.AtVec(1), x.AtVec(2)}, nil
}

// solveLeastSquares fits the plane minimising vertical squared error.
func (f *fitter) solveLeastSquares(idx []int) (plane, error) {
	if len(idx) < 3 {
		return plane{}, errCollinear
	}
	a := mat.NewDense(len(idx), 3, nil)
	b := mat.NewVecDense(len(idx), nil)
	for r, i := range idx {
		a.Set(r, 0, f.xs[i])
		a.Set(r, 1, f.ys[i])
		a.Set(r, 2, 1)
		b.SetVec(r, f.zs[i])
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return plane{}, err
	}
	return plane{x.AtVec(0), x.AtVec(1), x.AtVec(2)}, nil
}

// sample draws three distinct pool indices, sorted. The first point is
// uniform; the other two are drawn from points whose aspect lies within a
// window of the first point's aspect. The window widens as attempts fail,
// and sampling falls back to uniform when no aspect is available.
func (f *fitter) sample() [3]int {
	n := len(f.pool)
	window := initialAspectWindow
	for attempt := 1; attempt <= maxSampleAttempts; attempt++ {
		seed := f.rng.Intn(n)
		seedAspect := f.pool[seed].Aspect
		if math.IsNaN(seedAspect) {
			break
		}
		cands := f.candidateBuf[:0]
		for i, pt := range f.pool {
			if i == seed || math.IsNaN(pt.Aspect) {
				continue
			}
			if radDiff(pt.Aspect, seedAspect) < window {
				cands = append(cands, i)
			}
		}
		f.candidateBuf = cands
		if attempt%aspectWindowEvery == 0 {
			window += aspectWindowStep
		}
		if len(cands) < 2 {
			continue
		}
		a := f.rng.Intn(len(cands))
		b := f.rng.Intn(len(cands) - 1)
		if b >= a {
			b++
		}
		return sortedTriple(seed, cands[a], cands[b])
	}
	return f.uniformSample()
}

func (f *fitter) uniformSample() [3]int {
	n := len(f.pool)
	i := f.rng.Intn(n)
	j := f.rng.Intn(n - 1)
	if j >= i {
		j++
	}
	k := f.rng.Intn(n)
	for k == i || k == j {
		k = f.rng.Intn(n)
	}
	return sortedTriple(i, j, k)
}

func sortedTriple(i, j, k int) [3]int {
	t := [3]int{i, j, k}
	slices.Sort(t[:])
	return t
}
