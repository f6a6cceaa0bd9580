package domain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Lattice is a periodic basis. Rows of the matrix are the a, b and c vectors
// in Cartesian coordinates (Å), so cart = frac · M.
type Lattice struct {
	m   *mat.Dense
	inv *mat.Dense
}

func NewLattice(vectors [3][3]float64) (*Lattice, error) {
	m := mat.NewDense(3, 3, []float64{
		vectors[0][0], vectors[0][1], vectors[0][2],
		vectors[1][0], vectors[1][1], vectors[1][2],
		vectors[2][0], vectors[2][1], vectors[2][2],
	})
	if math.Abs(mat.Det(m)) < 1e-10 {
		return nil, ErrSingularLattice
	}

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularLattice, err)
	}
	return &Lattice{m: m, inv: &inv}, nil
}

// CubicLattice returns a simple cubic lattice with edge a.
func CubicLattice(a float64) (*Lattice, error) {
	return NewLattice([3][3]float64{{a, 0, 0}, {0, a, 0}, {0, 0, a}})
}

// Matrix returns the lattice vectors as rows.
func (l *Lattice) Matrix() [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = l.m.At(i, j)
		}
	}
	return out
}

// Vector returns lattice vector i (0 = a, 1 = b, 2 = c).
func (l *Lattice) Vector(i int) r3.Vec {
	return r3.Vec{X: l.m.At(i, 0), Y: l.m.At(i, 1), Z: l.m.At(i, 2)}
}

func (l *Lattice) FracToCart(f r3.Vec) r3.Vec {
	return r3.Vec{
		X: f.X*l.m.At(0, 0) + f.Y*l.m.At(1, 0) + f.Z*l.m.At(2, 0),
		Y: f.X*l.m.At(0, 1) + f.Y*l.m.At(1, 1) + f.Z*l.m.At(2, 1),
		Z: f.X*l.m.At(0, 2) + f.Y*l.m.At(1, 2) + f.Z*l.m.At(2, 2),
	}
}

func (l *Lattice) CartToFrac(c r3.Vec) r3.Vec {
	return r3.Vec{
		X: c.X*l.inv.At(0, 0) + c.Y*l.inv.At(1, 0) + c.Z*l.inv.At(2, 0),
		Y: c.X*l.inv.At(0, 1) + c.Y*l.inv.At(1, 1) + c.Z*l.inv.At(2, 1),
		Z: c.X*l.inv.At(0, 2) + c.Y*l.inv.At(1, 2) + c.Z*l.inv.At(2, 2),
	}
}

// ImageToCart converts an integer lattice translation to Cartesian.
func (l *Lattice) ImageToCart(img [3]int) r3.Vec {
	return l.FracToCart(r3.Vec{X: float64(img[0]), Y: float64(img[1]), Z: float64(img[2])})
}

// DistanceAndImage returns the minimum-image distance between fa and fb and
// the integer translation img such that |fa - (fb + img)| is smallest.
func (l *Lattice) DistanceAndImage(fa, fb r3.Vec) (float64, [3]int) {
	d := r3.Sub(fa, fb)
	base := [3]int{int(math.Round(d.X)), int(math.Round(d.Y)), int(math.Round(d.Z))}

	best := math.Inf(1)
	var bestImg [3]int
	for i := -1; i <= 1; i++ {
		for j := -1; j <= 1; j++ {
			for k := -1; k <= 1; k++ {
				img := [3]int{base[0] + i, base[1] + j, base[2] + k}
				shifted := r3.Sub(d, r3.Vec{X: float64(img[0]), Y: float64(img[1]), Z: float64(img[2])})
				dist := r3.Norm(l.FracToCart(shifted))
				if dist < best-1e-12 {
					best = dist
					bestImg = img
				}
			}
		}
	}
	return best, bestImg
}

// Distance is the minimum-image distance between two fractional points.
func (l *Lattice) Distance(fa, fb r3.Vec) float64 {
	d, _ := l.DistanceAndImage(fa, fb)
	return d
}

func (l *Lattice) Volume() float64 {
	return math.Abs(mat.Det(l.m))
}

// Abc returns the lengths of the three lattice vectors.
func (l *Lattice) Abc() [3]float64 {
	return [3]float64{r3.Norm(l.Vector(0)), r3.Norm(l.Vector(1)), r3.Norm(l.Vector(2))}
}

// InterplanarSpacing returns the distance between lattice planes spanned by
// the two vectors other than i.
func (l *Lattice) InterplanarSpacing(i int) float64 {
	cross := r3.Cross(l.Vector((i+1)%3), l.Vector((i+2)%3))
	return l.Volume() / r3.Norm(cross)
}

func (l *Lattice) Equal(other *Lattice, tol float64) bool {
	if l == other {
		return true
	}
	if other == nil {
		return false
	}
	return mat.EqualApprox(l.m, other.m, tol)
}

func (l *Lattice) String() string {
	abc := l.Abc()
	return fmt.Sprintf("Lattice(a=%.4f, b=%.4f, c=%.4f)", abc[0], abc[1], abc[2])
}
