package optimization

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// CostFunction is the IDPP objective of one interior image:
//
//	f(x) = 0.5 Σ_ij w_ij (d_ij - t_ij)²,  d_ij = |x_i - x_j - T_ij|
//
// where t is the interpolated target distance matrix, w the fixed weights
// and T the fixed lattice translation selecting the periodic copy of j.
// Coordinates are flattened Cartesian triples, x[3i:3i+3] for site i.
type CostFunction struct {
	logger       *zap.Logger
	natoms       int
	target       *mat.Dense
	weights      *mat.Dense
	translations []r3.Vec
}

func NewCostFunction(logger *zap.Logger, target, weights *mat.Dense, translations []r3.Vec) *CostFunction {
	if logger == nil {
		logger = zap.NewNop()
	}
	n, _ := target.Dims()
	return &CostFunction{
		logger:       logger,
		natoms:       n,
		target:       target,
		weights:      weights,
		translations: translations,
	}
}

func (c *CostFunction) vec(x []float64, i, j int) r3.Vec {
	xi := r3.Vec{X: x[3*i], Y: x[3*i+1], Z: x[3*i+2]}
	xj := r3.Vec{X: x[3*j], Y: x[3*j+1], Z: x[3*j+2]}
	return r3.Sub(r3.Sub(xi, xj), c.translations[i*c.natoms+j])
}

// Value returns the objective at x.
func (c *CostFunction) Value(x []float64) float64 {
	f, _ := c.evaluate(x, false)
	return f
}

// Gradient returns the "true force" on every site, i.e. the negative
// gradient of the objective.
func (c *CostFunction) Gradient(x []float64) []float64 {
	_, g := c.evaluate(x, true)
	return g
}

// Evaluate returns the objective and the true force in one pass.
func (c *CostFunction) Evaluate(x []float64) (float64, []float64) {
	return c.evaluate(x, true)
}

func (c *CostFunction) evaluate(x []float64, withForce bool) (float64, []float64) {
	var (
		value float64
		force []float64
	)
	if withForce {
		force = make([]float64, 3*c.natoms)
	}

	for i := 0; i < c.natoms; i++ {
		var fi r3.Vec
		for j := 0; j < c.natoms; j++ {
			v := c.vec(x, i, j)
			dist := r3.Norm(v)
			diff := dist - c.target.At(i, j)
			w := c.weights.At(i, j)
			value += w * diff * diff

			if !withForce {
				continue
			}
			// на диагонали dist = 0, знаменатель защищён единицей
			denom := dist
			if i == j {
				denom += 1
			}
			aux := -2 * diff * w / denom
			fi = r3.Add(fi, r3.Scale(aux, v))
		}
		if withForce {
			force[3*i] = fi.X
			force[3*i+1] = fi.Y
			force[3*i+2] = fi.Z
		}
	}
	value *= 0.5

	if math.IsNaN(value) {
		c.logger.Warn("IDPP objective is NaN", zap.Int("sites", c.natoms))
	}
	return value, force
}
