package app

import (
	"fmt"
	"neb-pathfinder/internal/domain"
	"neb-pathfinder/pkg/symmetry"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DistinctPathFinder determines symmetrically distinct paths between
// existing sites of the migrating species. It models single-atom hops and
// says nothing about correlated migration.
type DistinctPathFinder struct {
	logger           *zap.Logger
	structure        *domain.Structure
	migratingSpecies string
	maxPathLength    float64
	symprec          float64
	symm             *symmetry.SymmetrizedStructure
}

// AllPathsOptions controls WriteAllPaths.
type AllPathsOptions struct {
	StructureOptions
	// Placeholder replaces the migrating species in interior images.
	Placeholder string
}

func NewDistinctPathFinder(logger *zap.Logger, structure *domain.Structure, migratingSpecies string, maxPathLength, symprec float64) (*DistinctPathFinder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPathLength <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidPathLength, maxPathLength)
	}
	if len(structure.IndicesOf(migratingSpecies)) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSpeciesNotFound, migratingSpecies)
	}

	symm, err := symmetry.Symmetrize(structure, symprec)
	if err != nil {
		return nil, err
	}

	logger.Info("Structure symmetrized",
		zap.String("formula", structure.Formula()),
		zap.Int("operations", symm.SpaceGroup().Len()),
		zap.Int("orbits", len(symm.EquivalentIndices())))

	return &DistinctPathFinder{
		logger:           logger,
		structure:        structure,
		migratingSpecies: migratingSpecies,
		maxPathLength:    maxPathLength,
		symprec:          symprec,
		symm:             symm,
	}, nil
}

func (f *DistinctPathFinder) SymmetrizedStructure() *symmetry.SymmetrizedStructure { return f.symm }

// GetPaths returns one path per symmetry class, sorted by length. Paths of
// equal length keep the order in which they were found.
func (f *DistinctPathFinder) GetPaths() ([]*MigrationPath, error) {
	buckets := make(map[PathKey][]*MigrationPath)
	var paths []*MigrationPath

	for _, sites := range f.symm.EquivalentSites() {
		site0 := sites[0]
		if site0.Species != f.migratingSpecies {
			continue
		}
		for _, nn := range f.symm.Neighbors(site0, f.maxPathLength) {
			if nn.Site.Species != f.migratingSpecies {
				continue
			}
			path, err := NewMigrationPath(f.logger, site0, nn.Site, f.symm)
			if err != nil {
				return nil, err
			}
			key := path.Key()
			if containsPath(buckets[key], path) {
				continue
			}
			buckets[key] = append(buckets[key], path)
			paths = append(paths, path)
		}
	}

	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].Length() < paths[j].Length()
	})

	f.logger.Info("Distinct paths found",
		zap.String("species", f.migratingSpecies),
		zap.Float64("max_path_length", f.maxPathLength),
		zap.Int("paths", len(paths)))
	return paths, nil
}

func containsPath(bucket []*MigrationPath, path *MigrationPath) bool {
	for _, p := range bucket {
		if p.Equal(path) {
			return true
		}
	}
	return false
}

// WriteAllPaths writes every distinct path into one structure file for
// viewing. Per path, the file holds the migrating site at both ends and, for
// each interior image, the migrating site relabelled with the placeholder
// species. The host sites follow.
func (f *DistinctPathFinder) WriteAllPaths(w domain.StructureWriter, filename string, opts AllPathsOptions) error {
	paths, err := f.GetPaths()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return ErrNoPaths
	}
	if opts.Placeholder == "" {
		opts.Placeholder = "H"
	}

	chains, err := f.buildChains(paths, opts.StructureOptions)
	if err != nil {
		return err
	}

	lat := f.structure.Lattice()
	var sites []domain.Site
	for _, chain := range chains {
		last := len(chain) - 1
		sites = append(sites, chain[0].Site(0), chain[last].Site(0))
		for _, img := range chain[1:last] {
			sites = append(sites, domain.NewSite(lat, opts.Placeholder, img.Site(0).Frac, nil))
		}
	}
	host := chains[len(chains)-1][0].Sites()
	sites = append(sites, host[1:]...)

	combined, err := domain.NewStructure(lat, sites)
	if err != nil {
		return err
	}
	if err := w.WriteStructure(filename, combined); err != nil {
		return fmt.Errorf("write paths to %s: %w", filename, err)
	}

	f.logger.Info("Successfully written paths",
		zap.String("file", filename),
		zap.Int("paths", len(paths)),
		zap.Int("sites", combined.Len()))
	return nil
}

// buildChains generates the image chain of every path on a pool of workers.
// IDPP, when requested, only moves the migrating species.
func (f *DistinctPathFinder) buildChains(paths []*MigrationPath, opts StructureOptions) ([][]*domain.Structure, error) {
	opts.IDPPOptions.Species = []string{f.migratingSpecies}
	workers := max(1, min(opts.Workers, len(paths)))
	// параллелим по путям, а не внутри решателя
	opts.Workers = 1

	var wg sync.WaitGroup
	taskChan := make(chan domain.ChainTask, workers*2)
	resultChan := make(chan *domain.ChainResult, len(paths))

	// Запускаем воркеры
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go f.worker(i, taskChan, resultChan, &wg)
	}

	// Отправляем задачи
	go func() {
		for i, p := range paths {
			p := p
			taskChan <- domain.ChainTask{
				Index: i,
				Build: func() ([]*domain.Structure, error) {
					images, result, err := p.GetStructures(opts)
					if result != nil && !result.Converged {
						f.logger.Warn("IDPP did not converge for path", zap.Stringer("path", p))
					}
					return images, err
				},
			}
		}
		close(taskChan)
	}()

	// Собираем результаты
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	chains := make([][]*domain.Structure, len(paths))
	var errs error
	for result := range resultChan {
		if result.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("path %d: %w", result.Index, result.Err))
			continue
		}
		chains[result.Index] = result.Images
	}
	if errs != nil {
		return nil, errs
	}
	return chains, nil
}

func (f *DistinctPathFinder) worker(id int, tasks <-chan domain.ChainTask, results chan<- *domain.ChainResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for task := range tasks {
		f.logger.Debug("Building path images",
			zap.Int("worker", id),
			zap.Int("path", task.Index))

		images, err := task.Build()
		results <- &domain.ChainResult{
			Index:  task.Index,
			Images: images,
			Err:    err,
		}
	}
}
