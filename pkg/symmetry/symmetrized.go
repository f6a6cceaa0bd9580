package symmetry

import (
	"fmt"
	"sort"

	"neb-pathfinder/internal/domain"
)

// SymmetrizedStructure is a structure annotated with its space group and
// its partition into symmetry-equivalent site orbits.
type SymmetrizedStructure struct {
	*domain.Structure
	group  *SpaceGroup
	orbits [][]int
}

// Symmetrize finds the space group of s and groups its sites into orbits.
// Orbits are ordered by their lowest site index, which is also the
// representative returned first by EquivalentSites.
func Symmetrize(s *domain.Structure, symprec float64) (*SymmetrizedStructure, error) {
	group, err := FindSpaceGroup(s, symprec)
	if err != nil {
		return nil, fmt.Errorf("symmetrize %s: %w", s.Formula(), err)
	}

	n := s.Len()
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	lat := s.Lattice()
	sites := s.Sites()
	for _, op := range group.ops {
		for i, site := range sites {
			mapped := op.Operate(site.Frac)
			for k, other := range sites {
				if other.Species == site.Species && lat.Distance(mapped, other.Frac) < symprec {
					union(i, k)
					break
				}
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := 0; i < n; i++ {
		r := find(i)
		byRoot[r] = append(byRoot[r], i)
	}
	orbits := make([][]int, 0, len(byRoot))
	for _, members := range byRoot {
		orbits = append(orbits, members)
	}
	sort.Slice(orbits, func(a, b int) bool { return orbits[a][0] < orbits[b][0] })

	return &SymmetrizedStructure{Structure: s, group: group, orbits: orbits}, nil
}

func (s *SymmetrizedStructure) SpaceGroup() *SpaceGroup { return s.group }

// EquivalentIndices returns site indices grouped by orbit.
func (s *SymmetrizedStructure) EquivalentIndices() [][]int {
	out := make([][]int, len(s.orbits))
	for i, o := range s.orbits {
		out[i] = append([]int(nil), o...)
	}
	return out
}

// EquivalentSites returns sites grouped by orbit, representative first.
func (s *SymmetrizedStructure) EquivalentSites() [][]domain.Site {
	out := make([][]domain.Site, len(s.orbits))
	for i, o := range s.orbits {
		out[i] = make([]domain.Site, len(o))
		for k, idx := range o {
			out[i][k] = s.Site(idx)
		}
	}
	return out
}

// OrbitOf returns the index of the orbit whose representative is
// equivalent to site, or -1.
func (s *SymmetrizedStructure) OrbitOf(site domain.Site) int {
	for i, o := range s.orbits {
		if s.group.AreEquivalent([]domain.Site{site}, []domain.Site{s.Site(o[0])}) {
			return i
		}
	}
	return -1
}
