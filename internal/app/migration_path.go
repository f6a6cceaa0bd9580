package app

import (
	"fmt"
	"neb-pathfinder/internal/domain"
	"neb-pathfinder/pkg/optimization"
	"neb-pathfinder/pkg/symmetry"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"
)

// MigrationPath is one hop of the migrating species from ISite to ESite.
// Two paths are the same path when a space group operation maps one
// (initial, midpoint, end) triple onto the other.
type MigrationPath struct {
	ISite  domain.Site
	ESite  domain.Site
	MSite  domain.Site
	IIndex int
	EIndex int

	logger *zap.Logger
	symm   *symmetry.SymmetrizedStructure
}

// PathKey buckets paths by the orbits of their end sites. Equal paths
// always share a key; paths sharing a key still need Equal.
type PathKey struct {
	Lo, Hi int
}

// StructureOptions controls MigrationPath.GetStructures.
type StructureOptions struct {
	NImages     int
	Mode        domain.PathMode
	IDPP        bool
	IDPPOptions domain.IDPPOptions
	Workers     int
}

func DefaultStructureOptions() StructureOptions {
	return StructureOptions{
		NImages:     5,
		Mode:        domain.Vacancy,
		IDPPOptions: domain.DefaultIDPPOptions(),
		Workers:     1,
	}
}

func NewMigrationPath(logger *zap.Logger, isite, esite domain.Site, symm *symmetry.SymmetrizedStructure) (*MigrationPath, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lat := symm.Lattice()
	mid := r3.Scale(0.5, r3.Add(isite.Frac, esite.Frac))

	p := &MigrationPath{
		ISite:  isite,
		ESite:  esite,
		MSite:  domain.NewSite(lat, esite.Species, mid, nil),
		logger: logger,
		symm:   symm,
	}

	p.IIndex = symm.OrbitOf(isite)
	if p.IIndex < 0 {
		return nil, fmt.Errorf("%w: initial site %s", ErrUnclassifiedSite, isite)
	}
	p.EIndex = symm.OrbitOf(esite)
	if p.EIndex < 0 {
		return nil, fmt.Errorf("%w: end site %s", ErrUnclassifiedSite, esite)
	}
	return p, nil
}

// Length returns the Cartesian length of the hop.
func (p *MigrationPath) Length() float64 {
	return r3.Norm(r3.Sub(p.ISite.Cart, p.ESite.Cart))
}

func (p *MigrationPath) Key() PathKey {
	return PathKey{Lo: min(p.IIndex, p.EIndex), Hi: max(p.IIndex, p.EIndex)}
}

func (p *MigrationPath) Equal(other *MigrationPath) bool {
	if other == nil || p.symm != other.symm {
		return false
	}
	return p.symm.SpaceGroup().AreEquivalent(
		[]domain.Site{p.ISite, p.MSite, p.ESite},
		[]domain.Site{other.ISite, other.MSite, other.ESite},
	)
}

func (p *MigrationPath) String() string {
	return fmt.Sprintf("Path of %.4f A from %s (index: %d) to %s (index: %d)",
		p.Length(), p.ISite, p.IIndex, p.ESite, p.EIndex)
}

// Structure returns the symmetrized structure the path belongs to.
func (p *MigrationPath) Structure() *symmetry.SymmetrizedStructure { return p.symm }

// GetStructures returns NImages+2 structures along the path. The migrating
// site is always the first site of every structure.
//
// In vacancy mode every other site of the migrating species stays in place;
// in interstitial mode they are removed. Images are interpolated without
// periodic wrapping. With IDPP the chain is relaxed and the solver result is
// returned as well, otherwise the result is nil.
func (p *MigrationPath) GetStructures(opts StructureOptions) ([]*domain.Structure, *optimization.Result, error) {
	var migrating, others []domain.Site
	for _, site := range p.symm.Sites() {
		if site.Species != p.ISite.Species {
			others = append(others, site)
			continue
		}
		if opts.Mode == domain.Vacancy &&
			p.symm.SiteDistance(p.ISite, site) > 1e-8 &&
			p.symm.SiteDistance(p.ESite, site) > 1e-8 {
			migrating = append(migrating, site)
		}
	}

	lat := p.symm.Lattice()
	startSites := append(append([]domain.Site{p.ISite}, migrating...), others...)
	endSites := append(append([]domain.Site{p.ESite}, migrating...), others...)

	start, err := domain.NewStructure(lat, startSites)
	if err != nil {
		return nil, nil, err
	}
	end, err := domain.NewStructure(lat, endSites)
	if err != nil {
		return nil, nil, err
	}

	images, err := start.Interpolate(end, opts.NImages, domain.InterpolateOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("interpolate %s: %w", p, err)
	}

	p.logger.Debug("Generated path images",
		zap.Stringer("path", p),
		zap.Stringer("mode", opts.Mode),
		zap.Int("images", len(images)),
		zap.String("formula", start.Formula()))

	if !opts.IDPP {
		return images, nil, nil
	}

	solver, err := optimization.NewIDPPSolver(p.logger, images, optimization.WithWorkers(opts.Workers))
	if err != nil {
		return nil, nil, err
	}
	result, err := solver.Run(opts.IDPPOptions)
	if err != nil {
		return nil, nil, err
	}
	return result.Structures, result, nil
}

// WritePath writes every site of every image as one structure.
func (p *MigrationPath) WritePath(w domain.StructureWriter, filename string, opts StructureOptions) error {
	images, _, err := p.GetStructures(opts)
	if err != nil {
		return err
	}
	var sites []domain.Site
	for _, st := range images {
		sites = append(sites, st.Sites()...)
	}
	combined, err := domain.NewStructure(p.symm.Lattice(), sites)
	if err != nil {
		return err
	}
	return w.WriteStructure(filename, combined)
}
