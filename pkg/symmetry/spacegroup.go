package symmetry

import (
	"errors"
	"fmt"
	"math"

	"neb-pathfinder/internal/domain"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var ErrNoOperations = errors.New("no symmetry operations found")

// DefaultFracTol is the fractional tolerance used when comparing mapped sites.
const DefaultFracTol = 1e-3

// Operation acts on fractional coordinates as x' = Rot·x + Trans.
type Operation struct {
	Rot   [3][3]int
	Trans r3.Vec
}

func (op Operation) Operate(f r3.Vec) r3.Vec {
	return r3.Vec{
		X: float64(op.Rot[0][0])*f.X + float64(op.Rot[0][1])*f.Y + float64(op.Rot[0][2])*f.Z + op.Trans.X,
		Y: float64(op.Rot[1][0])*f.X + float64(op.Rot[1][1])*f.Y + float64(op.Rot[1][2])*f.Z + op.Trans.Y,
		Z: float64(op.Rot[2][0])*f.X + float64(op.Rot[2][1])*f.Y + float64(op.Rot[2][2])*f.Z + op.Trans.Z,
	}
}

func (op Operation) IsIdentity() bool {
	return op.Rot == identity && isLatticeVector(op.Trans, 1e-8)
}

func (op Operation) String() string {
	return fmt.Sprintf("Rot=%v Trans=(%.4f, %.4f, %.4f)", op.Rot, op.Trans.X, op.Trans.Y, op.Trans.Z)
}

var identity = [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// SpaceGroup is the set of operations leaving a structure invariant.
type SpaceGroup struct {
	ops     []Operation
	symprec float64
	// FracTol is the per-component fractional tolerance of AreEquivalent.
	FracTol float64
}

func (g *SpaceGroup) Operations() []Operation {
	return append([]Operation(nil), g.ops...)
}

func (g *SpaceGroup) Len() int { return len(g.ops) }

func (g *SpaceGroup) Symprec() float64 { return g.symprec }

// AreEquivalent reports whether one operation maps every a[k] onto a
// periodic image of b[k] with the same species.
func (g *SpaceGroup) AreEquivalent(a, b []domain.Site) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if a[k].Species != b[k].Species {
			return false
		}
	}
	for _, op := range g.ops {
		matched := true
		for k := range a {
			if !isLatticeVector(r3.Sub(op.Operate(a[k].Frac), b[k].Frac), g.FracTol) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// FindSpaceGroup searches the operations of s. Rotations are restricted to
// integer matrices with entries in {-1, 0, 1}, which covers every point
// group operation of a reduced cell; symprec is a Cartesian tolerance in Å.
func FindSpaceGroup(s *domain.Structure, symprec float64) (*SpaceGroup, error) {
	if s == nil || s.Len() == 0 {
		return nil, domain.ErrEmptyStructure
	}
	if symprec <= 0 {
		return nil, fmt.Errorf("%w: symprec must be positive, got %g", domain.ErrInvalidOptions, symprec)
	}

	lat := s.Lattice()
	sites := s.Sites()
	refIdx := referenceSites(sites)

	var ops []Operation
	for _, rot := range latticeRotations(lat, symprec) {
		ref := sites[refIdx[0]]
		rotated := Operation{Rot: rot}.Operate(ref.Frac)
		for _, j := range refIdx {
			t := wrap(r3.Sub(sites[j].Frac, rotated))
			op := Operation{Rot: rot, Trans: t}
			if !mapsOntoItself(op, lat, sites, symprec) {
				continue
			}
			if containsOperation(ops, op, symprec/maxAbc(lat)) {
				continue
			}
			ops = append(ops, op)
		}
	}

	if len(ops) == 0 || !hasIdentity(ops) {
		return nil, ErrNoOperations
	}
	return &SpaceGroup{ops: ops, symprec: symprec, FracTol: DefaultFracTol}, nil
}

// referenceSites returns the indices of the least populated species.
func referenceSites(sites []domain.Site) []int {
	bySpecies := make(map[string][]int)
	var order []string
	for i, s := range sites {
		if _, ok := bySpecies[s.Species]; !ok {
			order = append(order, s.Species)
		}
		bySpecies[s.Species] = append(bySpecies[s.Species], i)
	}
	best := bySpecies[order[0]]
	for _, sp := range order[1:] {
		if len(bySpecies[sp]) < len(best) {
			best = bySpecies[sp]
		}
	}
	return best
}

// latticeRotations returns the integer rotations preserving the metric
// tensor G = M·Mᵀ.
func latticeRotations(lat *domain.Lattice, symprec float64) [][3][3]int {
	m := lat.Matrix()
	g := mat.NewDense(3, 3, nil)
	g.Mul(denseOf(m), denseOf(m).T())

	lengths := lat.Abc()
	var out [][3][3]int
	var rot [3][3]int
	vals := [3]int{-1, 0, 1}

	for n := 0; n < 19683; n++ {
		code := n
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				rot[i][j] = vals[code%3]
				code /= 3
			}
		}
		if det := det3(rot); det != 1 && det != -1 {
			continue
		}

		// x' = R·x, поэтому сохраняться должен Rᵀ·G·R
		r := mat.NewDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				r.Set(i, j, float64(rot[i][j]))
			}
		}
		var rg, rgr mat.Dense
		rg.Mul(r.T(), g)
		rgr.Mul(&rg, r)

		ok := true
		for i := 0; i < 3 && ok; i++ {
			for j := 0; j < 3; j++ {
				if math.Abs(rgr.At(i, j)-g.At(i, j)) > symprec*(lengths[i]+lengths[j]) {
					ok = false
					break
				}
			}
		}
		if ok {
			out = append(out, rot)
		}
	}
	return out
}

func mapsOntoItself(op Operation, lat *domain.Lattice, sites []domain.Site, symprec float64) bool {
	for _, s := range sites {
		mapped := op.Operate(s.Frac)
		found := false
		for _, t := range sites {
			if t.Species != s.Species {
				continue
			}
			if lat.Distance(mapped, t.Frac) < symprec {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsOperation(ops []Operation, op Operation, fracTol float64) bool {
	for _, o := range ops {
		if o.Rot == op.Rot && isLatticeVector(r3.Sub(o.Trans, op.Trans), fracTol) {
			return true
		}
	}
	return false
}

func hasIdentity(ops []Operation) bool {
	for _, op := range ops {
		if op.Rot == identity {
			return true
		}
	}
	return false
}

func isLatticeVector(v r3.Vec, tol float64) bool {
	return math.Abs(v.X-math.Round(v.X)) < tol &&
		math.Abs(v.Y-math.Round(v.Y)) < tol &&
		math.Abs(v.Z-math.Round(v.Z)) < tol
}

func wrap(v r3.Vec) r3.Vec {
	w := r3.Vec{X: v.X - math.Floor(v.X), Y: v.Y - math.Floor(v.Y), Z: v.Z - math.Floor(v.Z)}
	// 0.9999999 и 0 должны совпадать
	if w.X > 1-1e-10 {
		w.X = 0
	}
	if w.Y > 1-1e-10 {
		w.Y = 0
	}
	if w.Z > 1-1e-10 {
		w.Z = 0
	}
	return w
}

func maxAbc(lat *domain.Lattice) float64 {
	abc := lat.Abc()
	return math.Max(math.Max(abc[0], abc[1]), abc[2])
}

func det3(m [3][3]int) int {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

func denseOf(m [3][3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}
