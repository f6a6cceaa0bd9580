package domain

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Site представляет атом в периодической ячейке
type Site struct {
	Species    string
	Frac       r3.Vec
	Cart       r3.Vec
	Properties map[string]any
}

// NewSite builds a site from fractional coordinates.
func NewSite(lat *Lattice, species string, frac r3.Vec, props map[string]any) Site {
	return Site{
		Species:    species,
		Frac:       frac,
		Cart:       lat.FracToCart(frac),
		Properties: maps.Clone(props),
	}
}

// NewSiteFromCart builds a site from Cartesian coordinates. Cart is kept as
// given and Frac is derived from it.
func NewSiteFromCart(lat *Lattice, species string, cart r3.Vec, props map[string]any) Site {
	return Site{
		Species:    species,
		Frac:       lat.CartToFrac(cart),
		Cart:       cart,
		Properties: maps.Clone(props),
	}
}

func (s Site) String() string {
	return fmt.Sprintf("%s [%s %s %s]", s.Species,
		formatCoord(s.Frac.X), formatCoord(s.Frac.Y), formatCoord(s.Frac.Z))
}

func formatCoord(v float64) string {
	if math.Abs(v) < 1e-12 {
		v = 0
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// Neighbor is a periodic image of a structure site near some center.
type Neighbor struct {
	Site     Site
	Index    int
	Image    [3]int
	Distance float64
}

// Structure is an immutable ordered set of sites in a lattice.
type Structure struct {
	lattice *Lattice
	sites   []Site
}

func NewStructure(lat *Lattice, sites []Site) (*Structure, error) {
	if lat == nil {
		return nil, fmt.Errorf("%w: nil lattice", ErrSingularLattice)
	}
	if len(sites) == 0 {
		return nil, ErrEmptyStructure
	}
	cp := make([]Site, len(sites))
	for i, s := range sites {
		cp[i] = s
		cp[i].Properties = maps.Clone(s.Properties)
	}
	return &Structure{lattice: lat, sites: cp}, nil
}

// NewStructureFromFrac is a convenience constructor for parallel species and
// fractional coordinate lists.
func NewStructureFromFrac(lat *Lattice, species []string, frac []r3.Vec) (*Structure, error) {
	if len(species) != len(frac) {
		return nil, fmt.Errorf("%w: %d species for %d coordinates", ErrInvalidFileFormat, len(species), len(frac))
	}
	sites := make([]Site, len(species))
	for i := range species {
		sites[i] = NewSite(lat, species[i], frac[i], nil)
	}
	return NewStructure(lat, sites)
}

func (s *Structure) Lattice() *Lattice { return s.lattice }

func (s *Structure) Len() int { return len(s.sites) }

// Site returns a copy of site i.
func (s *Structure) Site(i int) Site {
	site := s.sites[i]
	site.Properties = maps.Clone(site.Properties)
	return site
}

// Sites returns a copy of the site list.
func (s *Structure) Sites() []Site {
	out := make([]Site, len(s.sites))
	for i := range s.sites {
		out[i] = s.Site(i)
	}
	return out
}

func (s *Structure) Species() []string {
	out := make([]string, len(s.sites))
	for i, site := range s.sites {
		out[i] = site.Species
	}
	return out
}

func (s *Structure) CartCoords() []r3.Vec {
	out := make([]r3.Vec, len(s.sites))
	for i, site := range s.sites {
		out[i] = site.Cart
	}
	return out
}

// IndicesOf returns the indices of sites whose species is in species.
func (s *Structure) IndicesOf(species ...string) []int {
	var out []int
	for i, site := range s.sites {
		for _, sp := range species {
			if site.Species == sp {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// Formula lists species counts in order of first appearance, e.g. Li3Fe4P4O16.
func (s *Structure) Formula() string {
	var order []string
	counts := make(map[string]int)
	for _, site := range s.sites {
		if _, ok := counts[site.Species]; !ok {
			order = append(order, site.Species)
		}
		counts[site.Species]++
	}
	var b strings.Builder
	for _, sp := range order {
		b.WriteString(sp)
		if counts[sp] > 1 {
			b.WriteString(strconv.Itoa(counts[sp]))
		}
	}
	return b.String()
}

// SiteDistance is the periodic distance between two sites in this lattice.
func (s *Structure) SiteDistance(a, b Site) float64 {
	return s.lattice.Distance(a.Frac, b.Frac)
}

// DistanceMatrix returns the N×N minimum-image distance matrix.
func (s *Structure) DistanceMatrix() *mat.Dense {
	n := len(s.sites)
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist := s.lattice.Distance(s.sites[i].Frac, s.sites[j].Frac)
			d.Set(i, j, dist)
			d.Set(j, i, dist)
		}
	}
	return d
}

// Neighbors returns every periodic image of every site with
// 1e-8 < distance <= r from center, sorted by distance then index.
func (s *Structure) Neighbors(center Site, r float64) []Neighbor {
	var ranges [3]int
	for i := 0; i < 3; i++ {
		ranges[i] = int(math.Ceil(r/s.lattice.InterplanarSpacing(i))) + 1
	}

	var out []Neighbor
	for idx, site := range s.sites {
		// ближайший к центру образ, от него перебираем сдвиги
		d := r3.Sub(center.Frac, site.Frac)
		base := [3]int{int(math.Round(d.X)), int(math.Round(d.Y)), int(math.Round(d.Z))}
		for i := -ranges[0]; i <= ranges[0]; i++ {
			for j := -ranges[1]; j <= ranges[1]; j++ {
				for k := -ranges[2]; k <= ranges[2]; k++ {
					img := [3]int{base[0] + i, base[1] + j, base[2] + k}
					frac := r3.Add(site.Frac, r3.Vec{X: float64(img[0]), Y: float64(img[1]), Z: float64(img[2])})
					dist := r3.Norm(s.lattice.FracToCart(r3.Sub(frac, center.Frac)))
					if dist <= 1e-8 || dist > r {
						continue
					}
					out = append(out, Neighbor{
						Site:     NewSite(s.lattice, site.Species, frac, site.Properties),
						Index:    idx,
						Image:    img,
						Distance: dist,
					})
				}
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if math.Abs(out[a].Distance-out[b].Distance) > 1e-10 {
			return out[a].Distance < out[b].Distance
		}
		return out[a].Index < out[b].Index
	})
	return out
}

// InterpolateOptions controls Structure.Interpolate.
type InterpolateOptions struct {
	// AutosortTol > 0 reorders end sites to match start sites within this
	// distance (Å).
	AutosortTol float64
	// PBC wraps the fractional hop vector to the nearest periodic image.
	PBC bool
}

// Interpolate returns nimages+2 structures linearly interpolated from s to
// end, endpoints included. Species and properties come from s.
func (s *Structure) Interpolate(end *Structure, nimages int, opts InterpolateOptions) ([]*Structure, error) {
	if nimages < 0 {
		return nil, fmt.Errorf("%w: negative image count %d", ErrIncompatibleStructures, nimages)
	}
	if len(s.sites) != len(end.sites) {
		return nil, fmt.Errorf("%w: %d sites vs %d sites", ErrIncompatibleStructures, len(s.sites), len(end.sites))
	}
	if !s.lattice.Equal(end.lattice, 1e-8) {
		return nil, fmt.Errorf("%w: lattices differ", ErrIncompatibleStructures)
	}
	for i := range s.sites {
		if s.sites[i].Species != end.sites[i].Species {
			return nil, fmt.Errorf("%w: different species at site %d (%s vs %s)",
				ErrIncompatibleStructures, i, s.sites[i].Species, end.sites[i].Species)
		}
	}

	endFrac := make([]r3.Vec, len(end.sites))
	for i, site := range end.sites {
		endFrac[i] = site.Frac
	}
	if opts.AutosortTol > 0 {
		sorted, err := s.matchSites(endFrac, opts.AutosortTol)
		if err != nil {
			return nil, err
		}
		endFrac = sorted
	}

	vecs := make([]r3.Vec, len(s.sites))
	for i, site := range s.sites {
		v := r3.Sub(endFrac[i], site.Frac)
		if opts.PBC {
			// половина ячейки округляется к чётному, как в numpy
			v = r3.Sub(v, r3.Vec{X: math.RoundToEven(v.X), Y: math.RoundToEven(v.Y), Z: math.RoundToEven(v.Z)})
		}
		vecs[i] = v
	}

	out := make([]*Structure, 0, nimages+2)
	for k := 0; k <= nimages+1; k++ {
		x := float64(k) / float64(nimages+1)
		sites := make([]Site, len(s.sites))
		for i, site := range s.sites {
			sites[i] = NewSite(s.lattice, site.Species, r3.Add(site.Frac, r3.Scale(x, vecs[i])), site.Properties)
		}
		out = append(out, &Structure{lattice: s.lattice, sites: sites})
	}
	return out, nil
}

// matchSites reorders end coordinates so that end site i corresponds to
// start site i.
func (s *Structure) matchSites(endFrac []r3.Vec, tol float64) ([]r3.Vec, error) {
	n := len(s.sites)
	mapping := make([]int, n)
	claimed := make(map[int]int)
	var unmapped []int

	for i, site := range s.sites {
		match := -1
		count := 0
		for j, f := range endFrac {
			if s.lattice.Distance(site.Frac, f) < tol {
				match = j
				count++
			}
		}
		if count != 1 {
			unmapped = append(unmapped, i)
			mapping[i] = -1
			continue
		}
		if prev, ok := claimed[match]; ok {
			return nil, fmt.Errorf("%w with autosort_tol = %g: end site %d matches start sites %d and %d",
				ErrStructureMismatch, tol, match, prev, i)
		}
		claimed[match] = i
		mapping[i] = match
	}

	if len(unmapped) > 1 {
		return nil, fmt.Errorf("%w with autosort_tol = %g: unmapped indices = %v", ErrStructureMismatch, tol, unmapped)
	}
	if len(unmapped) == 1 {
		for j := 0; j < n; j++ {
			if _, ok := claimed[j]; !ok {
				mapping[unmapped[0]] = j
				break
			}
		}
	}

	sorted := make([]r3.Vec, n)
	for i, j := range mapping {
		sorted[i] = endFrac[j]
	}
	return sorted, nil
}

func (s *Structure) String() string {
	return fmt.Sprintf("%s (%d sites, %s)", s.Formula(), len(s.sites), s.lattice)
}
