package optimization

import (
	"errors"
	"fmt"
	"math"
	"neb-pathfinder/internal/domain"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// weightEpsilon keeps the diagonal of 1/d^4 finite.
	weightEpsilon = 1e-8
)

var ErrTooFewImages = errors.New("an IDPP chain needs at least three structures")

// IDPPSolver relaxes a chain of images with the image dependent pair
// potential (Smidstrup et al., J. Chem. Phys. 140, 214106 (2014)) in an
// NEB-like manner. Endpoints never move.
//
// The lattice translation between every pair of sites is fixed when the
// solver is built and never recomputed, so the periodic copy of a neighbor
// tracked for a pair stays the same for the whole run. Large displacements
// can make that copy stop being the nearest one.
type IDPPSolver struct {
	logger       *zap.Logger
	structures   []*domain.Structure
	nimages      int
	natoms       int
	initCoords   [][]float64
	targetDists  []*mat.Dense
	weights      []*mat.Dense
	translations [][]r3.Vec
	costs        []*CostFunction
	workers      int
}

type SolverOption func(*IDPPSolver)

// WithWorkers evaluates interior images on n goroutines.
func WithWorkers(n int) SolverOption {
	return func(s *IDPPSolver) {
		s.workers = max(1, n)
	}
}

// IterationStats records one iteration of Run.
type IterationStats struct {
	Objectives []float64
	Residual   float64
	MaxForce   float64
}

// Result is the outcome of Run. A run that hits MaxIter is still returned
// with Converged set to false.
type Result struct {
	Structures      []*domain.Structure
	Converged       bool
	Iterations      int
	History         []IterationStats
	FinalObjectives []float64
}

// NewIDPPSolver builds a solver from an initial path guess, endpoints
// included.
func NewIDPPSolver(logger *zap.Logger, structures []*domain.Structure, opts ...SolverOption) (*IDPPSolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(structures) < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewImages, len(structures))
	}
	if err := checkChain(structures); err != nil {
		return nil, err
	}

	lat := structures[0].Lattice()
	natoms := structures[0].Len()
	nimages := len(structures) - 2

	s := &IDPPSolver{
		logger:     logger,
		structures: append([]*domain.Structure(nil), structures...),
		nimages:    nimages,
		natoms:     natoms,
		workers:    1,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Целевые матрицы расстояний линейной интерполяцией между концами
	d0 := structures[0].DistanceMatrix()
	dLast := structures[nimages+1].DistanceMatrix()
	for i := 1; i <= nimages; i++ {
		target, err := domain.InterpolateMatrix(d0, dLast, float64(i)/float64(nimages+1))
		if err != nil {
			return nil, err
		}
		s.targetDists = append(s.targetDists, target)
	}

	// Веса 1/d^4, d - среднее целевой и фактической матриц
	for ni := 0; ni < nimages; ni++ {
		avg, err := domain.AverageMatrix(s.targetDists[ni], structures[ni+1].DistanceMatrix())
		if err != nil {
			return nil, err
		}
		var w mat.Dense
		w.Apply(func(i, j int, v float64) float64 {
			d4 := v * v * v * v
			if i == j {
				d4 += weightEpsilon
			}
			return 1 / d4
		}, avg)
		s.weights = append(s.weights, &w)
	}

	s.initCoords = make([][]float64, nimages+2)
	for ni, st := range structures {
		row := make([]float64, 3*natoms)
		for i, c := range st.CartCoords() {
			row[3*i], row[3*i+1], row[3*i+2] = c.X, c.Y, c.Z
		}
		s.initCoords[ni] = row
	}

	s.translations = make([][]r3.Vec, nimages)
	for ni := 0; ni < nimages; ni++ {
		t := make([]r3.Vec, natoms*natoms)
		sites := structures[ni+1].Sites()
		for i := 0; i < natoms; i++ {
			for j := i + 1; j < natoms; j++ {
				_, img := lat.DistanceAndImage(sites[i].Frac, sites[j].Frac)
				cart := lat.ImageToCart(img)
				t[i*natoms+j] = cart
				t[j*natoms+i] = r3.Scale(-1, cart)
			}
		}
		s.translations[ni] = t
		s.costs = append(s.costs, NewCostFunction(logger, s.targetDists[ni], s.weights[ni], t))
	}

	logger.Debug("IDPP solver initialized",
		zap.Int("images", nimages),
		zap.Int("sites", natoms),
		zap.Int("workers", s.workers))
	return s, nil
}

// NewIDPPSolverFromEndpoints interpolates nimages images between start and
// end and builds a solver from them. Site order of end is matched to start
// within sortTol (Å); if that matching fails it is retried once without
// sorting.
func NewIDPPSolverFromEndpoints(logger *zap.Logger, start, end *domain.Structure, nimages int, sortTol float64, opts ...SolverOption) (*IDPPSolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	images, err := start.Interpolate(end, nimages, domain.InterpolateOptions{AutosortTol: sortTol, PBC: true})
	if errors.Is(err, domain.ErrStructureMismatch) {
		logger.Warn("Auto sorting is turned off because it is unable to match the end-point structures",
			zap.Float64("sort_tol", sortTol),
			zap.Error(err))
		images, err = start.Interpolate(end, nimages, domain.InterpolateOptions{PBC: true})
	}
	if err != nil {
		return nil, fmt.Errorf("interpolate endpoints: %w", err)
	}
	return NewIDPPSolver(logger, images, opts...)
}

func checkChain(structures []*domain.Structure) error {
	first := structures[0]
	species := first.Species()
	for k, st := range structures[1:] {
		if st.Len() != first.Len() {
			return fmt.Errorf("%w: image %d has %d sites, expected %d",
				domain.ErrIncompatibleStructures, k+1, st.Len(), first.Len())
		}
		if !st.Lattice().Equal(first.Lattice(), 1e-8) {
			return fmt.Errorf("%w: image %d has a different lattice", domain.ErrIncompatibleStructures, k+1)
		}
		for i, sp := range st.Species() {
			if sp != species[i] {
				return fmt.Errorf("%w: image %d site %d is %s, expected %s",
					domain.ErrIncompatibleStructures, k+1, i, sp, species[i])
			}
		}
	}
	return nil
}

func (s *IDPPSolver) NumImages() int { return s.nimages }

// TargetDistances returns the target distance matrix of interior image i
// (0-based among interior images).
func (s *IDPPSolver) TargetDistances(i int) *mat.Dense {
	return mat.DenseCopyOf(s.targetDists[i])
}

// Weights returns the weight matrix of interior image i.
func (s *IDPPSolver) Weights(i int) *mat.Dense {
	return mat.DenseCopyOf(s.weights[i])
}

// Run performs the iterative minimization. Only sites whose species is in
// opts.Species move when the list is not empty; the others keep their
// interpolated positions. Zero-valued numeric options take their defaults.
func (s *IDPPSolver) Run(opts domain.IDPPOptions) (*Result, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	indices, err := s.movableIndices(opts.Species)
	if err != nil {
		return nil, err
	}

	cur := cloneCoords(s.initCoords)
	next := cloneCoords(s.initCoords)
	oldFuncs := make([]float64, s.nimages)

	result := &Result{}
	s.logger.Info("Starting IDPP relaxation",
		zap.Int("images", s.nimages),
		zap.Int("sites", s.natoms),
		zap.Int("movable", len(indices)),
		zap.Int("max_iter", opts.MaxIter))

	for n := 0; n < opts.MaxIter; n++ {
		funcs, trueForces := s.funcsAndForces(cur)
		totForces := s.totalForces(cur, trueForces, opts.SpringConst)

		step(next, cur, totForces, indices, opts.StepSize, opts.MaxDisp)
		cur, next = next, cur

		maxForce := maxAbsForce(totForces, indices)
		var totRes float64
		for i := range funcs {
			totRes += math.Abs(oldFuncs[i] - funcs[i])
		}

		result.History = append(result.History, IterationStats{
			Objectives: funcs,
			Residual:   totRes,
			MaxForce:   maxForce,
		})
		result.Iterations = n + 1

		s.logger.Debug("IDPP iteration",
			zap.Int("iter", n),
			zap.Float64("residual", totRes),
			zap.Float64("max_force", maxForce))

		if totRes < opts.Tol && maxForce < opts.GTol {
			result.Converged = true
			break
		}
		oldFuncs = funcs
	}

	if result.Converged {
		s.logger.Info("IDPP relaxation converged", zap.Int("iterations", result.Iterations))
	} else {
		s.logger.Warn("Maximum iteration number is reached without convergence",
			zap.Int("max_iter", opts.MaxIter))
	}

	result.FinalObjectives, _ = s.funcsAndForces(cur)
	structures, err := s.buildStructures(cur)
	if err != nil {
		return nil, err
	}
	result.Structures = structures
	return result, nil
}

func (s *IDPPSolver) movableIndices(species []string) ([]int, error) {
	if len(species) == 0 {
		indices := make([]int, s.natoms)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}
	indices := s.structures[0].IndicesOf(species...)
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrSpeciesNotFound, species)
	}
	return indices, nil
}

// funcsAndForces evaluates the objective and the true force of every
// interior image of x. Images are independent, so they are spread over the
// solver's workers.
func (s *IDPPSolver) funcsAndForces(x [][]float64) ([]float64, [][]float64) {
	funcs := make([]float64, s.nimages)
	forces := make([][]float64, s.nimages)

	if s.workers <= 1 || s.nimages == 1 {
		for ni := 0; ni < s.nimages; ni++ {
			funcs[ni], forces[ni] = s.costs[ni].Evaluate(x[ni+1])
		}
		return funcs, forces
	}

	var wg sync.WaitGroup
	tasks := make(chan int, s.nimages)
	for w, nw := 0, min(s.workers, s.nimages); w < nw; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ni := range tasks {
				funcs[ni], forces[ni] = s.costs[ni].Evaluate(x[ni+1])
			}
		}()
	}
	for ni := 0; ni < s.nimages; ni++ {
		tasks <- ni
	}
	close(tasks)
	wg.Wait()

	return funcs, forces
}

// totalForces combines the true force perpendicular to the local tangent
// with the spring force along it.
func (s *IDPPSolver) totalForces(x [][]float64, trueForces [][]float64, springConst float64) [][]float64 {
	total := make([][]float64, s.nimages)
	dim := 3 * s.natoms
	forward := make([]float64, dim)
	backward := make([]float64, dim)

	for ni := 1; ni <= s.nimages; ni++ {
		floats.SubTo(forward, x[ni+1], x[ni])
		floats.SubTo(backward, x[ni], x[ni-1])

		tangent := improvedTangent(forward, backward)
		spring := springConst * (floats.Norm(forward, 2) - floats.Norm(backward, 2))

		ft := trueForces[ni-1]
		f := make([]float64, dim)
		copy(f, ft)
		floats.AddScaled(f, spring-floats.Dot(ft, tangent), tangent)
		total[ni-1] = f
	}
	return total
}

// improvedTangent returns the normalized bisector of the normalized forward
// and backward chain vectors. When one of them vanishes the other is used,
// and when the bisector itself vanishes the forward direction is used. Two
// coincident neighbors give a zero tangent.
func improvedTangent(forward, backward []float64) []float64 {
	uf, okF := unitVector(forward)
	ub, okB := unitVector(backward)
	switch {
	case okF && okB:
		sum := make([]float64, len(uf))
		floats.AddTo(sum, uf, ub)
		if t, ok := unitVector(sum); ok {
			return t
		}
		return uf
	case okF:
		return uf
	case okB:
		return ub
	default:
		return make([]float64, len(forward))
	}
}

func unitVector(v []float64) ([]float64, bool) {
	norm := floats.Norm(v, 2)
	if norm < 1e-12 {
		return nil, false
	}
	out := make([]float64, len(v))
	floats.ScaleTo(out, 1/norm, v)
	return out, true
}

// step writes next = cur + clip(stepSize·F, ±maxDisp) for the movable sites
// of every interior image. Endpoint rows and other sites are copied as is.
func step(next, cur, forces [][]float64, indices []int, stepSize, maxDisp float64) {
	for k := range cur {
		copy(next[k], cur[k])
	}
	for ni, f := range forces {
		row := next[ni+1]
		for _, i := range indices {
			for d := 0; d < 3; d++ {
				row[3*i+d] += clipDisplacement(stepSize*f[3*i+d], maxDisp)
			}
		}
	}
}

func clipDisplacement(v, maxDisp float64) float64 {
	if math.Abs(v) > maxDisp {
		return math.Copysign(maxDisp, v)
	}
	return v
}

func maxAbsForce(forces [][]float64, indices []int) float64 {
	var m float64
	for _, f := range forces {
		for _, i := range indices {
			for d := 0; d < 3; d++ {
				m = math.Max(m, math.Abs(f[3*i+d]))
			}
		}
	}
	return m
}

func (s *IDPPSolver) buildStructures(coords [][]float64) ([]*domain.Structure, error) {
	out := make([]*domain.Structure, 0, s.nimages+2)
	out = append(out, s.structures[0])

	for ni := 1; ni <= s.nimages; ni++ {
		src := s.structures[ni]
		lat := src.Lattice()
		sites := src.Sites()
		for i, site := range sites {
			cart := r3.Vec{X: coords[ni][3*i], Y: coords[ni][3*i+1], Z: coords[ni][3*i+2]}
			sites[i] = domain.NewSiteFromCart(lat, site.Species, cart, site.Properties)
		}
		st, err := domain.NewStructure(lat, sites)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", ni, err)
		}
		out = append(out, st)
	}

	out = append(out, s.structures[s.nimages+1])
	return out, nil
}

func cloneCoords(src [][]float64) [][]float64 {
	out := make([][]float64, len(src))
	for i, row := range src {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
