package symmetry

import (
	"testing"

	"neb-pathfinder/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func buildStructure(t *testing.T, abc [3]float64, species []string, frac []r3.Vec) *domain.Structure {
	t.Helper()
	lat, err := domain.NewLattice([3][3]float64{{abc[0], 0, 0}, {0, abc[1], 0}, {0, 0, abc[2]}})
	require.NoError(t, err)
	s, err := domain.NewStructureFromFrac(lat, species, frac)
	require.NoError(t, err)
	return s
}

func TestFindSpaceGroup_OperationCount(t *testing.T) {
	tests := []struct {
		name    string
		abc     [3]float64
		species []string
		frac    []r3.Vec
		want    int
	}{
		{"simple cubic", [3]float64{3, 3, 3}, []string{"Li"}, []r3.Vec{{}}, 48},
		{"tetragonal", [3]float64{3, 3, 4}, []string{"Li"}, []r3.Vec{{}}, 16},
		{"orthorhombic", [3]float64{3, 4, 5}, []string{"Li"}, []r3.Vec{{}}, 8},
		{"CsCl", [3]float64{3, 3, 3}, []string{"Li", "Cl"}, []r3.Vec{{}, {X: 0.5, Y: 0.5, Z: 0.5}}, 48},
		{"bcc", [3]float64{3, 3, 3}, []string{"Li", "Li"}, []r3.Vec{{}, {X: 0.5, Y: 0.5, Z: 0.5}}, 96},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := FindSpaceGroup(buildStructure(t, tt.abc, tt.species, tt.frac), 0.1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Len())
			assert.Equal(t, 0.1, g.Symprec())

			identities := 0
			for _, op := range g.Operations() {
				if op.IsIdentity() {
					identities++
				}
			}
			assert.Equal(t, 1, identities)
		})
	}
}

func TestFindSpaceGroup_Errors(t *testing.T) {
	_, err := FindSpaceGroup(nil, 0.1)
	require.ErrorIs(t, err, domain.ErrEmptyStructure)

	s := buildStructure(t, [3]float64{3, 3, 3}, []string{"Li"}, []r3.Vec{{}})
	_, err = FindSpaceGroup(s, 0)
	require.ErrorIs(t, err, domain.ErrInvalidOptions)
}

func TestOperation_Operate(t *testing.T) {
	op := Operation{
		Rot:   [3][3]int{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
		Trans: r3.Vec{Z: 0.5},
	}
	assert.Equal(t, r3.Vec{X: -0.2, Y: 0.1, Z: 0.8}, op.Operate(r3.Vec{X: 0.1, Y: 0.2, Z: 0.3}))
	assert.False(t, op.IsIdentity())
	assert.True(t, Operation{Rot: identity, Trans: r3.Vec{X: 1}}.IsIdentity())
}

func TestSpaceGroup_AreEquivalent(t *testing.T) {
	s := buildStructure(t, [3]float64{3, 3, 3}, []string{"Li"}, []r3.Vec{{}})
	g, err := FindSpaceGroup(s, 0.1)
	require.NoError(t, err)
	lat := s.Lattice()

	site := func(sp string, x, y, z float64) domain.Site {
		return domain.NewSite(lat, sp, r3.Vec{X: x, Y: y, Z: z}, nil)
	}

	tests := []struct {
		name string
		a, b []domain.Site
		want bool
	}{
		{
			"rotated hop",
			[]domain.Site{site("Li", 0, 0, 0), site("Li", 0.5, 0, 0)},
			[]domain.Site{site("Li", 0, 0, 0), site("Li", 0, 0.5, 0)},
			true,
		},
		{
			"translated hop",
			[]domain.Site{site("Li", 0, 0, 0), site("Li", 1, 0, 0)},
			[]domain.Site{site("Li", 1, 1, 0), site("Li", 1, 1, 1)},
			true,
		},
		{
			"different length",
			[]domain.Site{site("Li", 0, 0, 0), site("Li", 1, 0, 0)},
			[]domain.Site{site("Li", 0, 0, 0), site("Li", 1, 1, 0)},
			false,
		},
		{
			"species",
			[]domain.Site{site("Li", 0, 0, 0)},
			[]domain.Site{site("Na", 0, 0, 0)},
			false,
		},
		{
			"count",
			[]domain.Site{site("Li", 0, 0, 0)},
			[]domain.Site{site("Li", 0, 0, 0), site("Li", 1, 0, 0)},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.AreEquivalent(tt.a, tt.b))
		})
	}
}

func TestSymmetrize_Orbits(t *testing.T) {
	tests := []struct {
		name    string
		abc     [3]float64
		species []string
		frac    []r3.Vec
		orbits  [][]int
	}{
		{"CsCl", [3]float64{3, 3, 3}, []string{"Li", "Cl"}, []r3.Vec{{}, {X: 0.5, Y: 0.5, Z: 0.5}}, [][]int{{0}, {1}}},
		{"bcc", [3]float64{3, 3, 3}, []string{"Li", "Li"}, []r3.Vec{{}, {X: 0.5, Y: 0.5, Z: 0.5}}, [][]int{{0, 1}}},
		{
			"doubled cell",
			[3]float64{3, 3, 6},
			[]string{"O", "O", "Li", "Li"},
			[]r3.Vec{{X: 0.5, Y: 0.5, Z: 0.25}, {X: 0.5, Y: 0.5, Z: 0.75}, {}, {Z: 0.5}},
			[][]int{{0, 1}, {2, 3}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			symm, err := Symmetrize(buildStructure(t, tt.abc, tt.species, tt.frac), 0.1)
			require.NoError(t, err)
			assert.Equal(t, tt.orbits, symm.EquivalentIndices())

			sites := symm.EquivalentSites()
			require.Len(t, sites, len(tt.orbits))
			for i, o := range tt.orbits {
				assert.Equal(t, symm.Site(o[0]), sites[i][0])
				for _, idx := range o {
					assert.Equal(t, i, symm.OrbitOf(symm.Site(idx)))
				}
			}
		})
	}
}

func TestSymmetrizedStructure_OrbitOfImage(t *testing.T) {
	symm, err := Symmetrize(buildStructure(t, [3]float64{3, 3, 3}, []string{"Li", "Cl"}, []r3.Vec{{}, {X: 0.5, Y: 0.5, Z: 0.5}}), 0.1)
	require.NoError(t, err)
	lat := symm.Lattice()

	assert.Equal(t, 0, symm.OrbitOf(domain.NewSite(lat, "Li", r3.Vec{X: 1, Y: -1}, nil)))
	assert.Equal(t, 1, symm.OrbitOf(domain.NewSite(lat, "Cl", r3.Vec{X: -0.5, Y: 0.5, Z: 1.5}, nil)))
	assert.Equal(t, -1, symm.OrbitOf(domain.NewSite(lat, "Li", r3.Vec{X: 0.25}, nil)))
	assert.Equal(t, -1, symm.OrbitOf(domain.NewSite(lat, "Na", r3.Vec{}, nil)))
}
