package infrastructure

import (
	"fmt"
	"neb-pathfinder/internal/domain"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Format is a structure file format.
type Format int

const (
	FormatPOSCAR Format = iota
	FormatXYZ
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatPOSCAR:
		return "poscar"
	case FormatXYZ:
		return "xyz"
	case FormatYAML:
		return "yaml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// DetectFormat picks the format from the file name the way VASP users name
// their files: POSCAR*, CONTCAR* and *.vasp are POSCAR.
func DetectFormat(filename string) (Format, error) {
	base := strings.ToLower(filepath.Base(filename))
	switch {
	case strings.HasPrefix(base, "poscar"), strings.HasPrefix(base, "contcar"), strings.HasSuffix(base, ".vasp"):
		return FormatPOSCAR, nil
	case strings.HasSuffix(base, ".xyz"):
		return FormatXYZ, nil
	case strings.HasSuffix(base, ".yaml"), strings.HasSuffix(base, ".yml"):
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filename)
}

// structureDoc is the YAML layout of a structure.
type structureDoc struct {
	Lattice [3][3]float64 `yaml:"lattice"`
	Sites   []siteDoc     `yaml:"sites"`
}

type siteDoc struct {
	Species    string         `yaml:"species"`
	Frac       [3]float64     `yaml:"frac"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

func toDoc(s *domain.Structure) structureDoc {
	doc := structureDoc{Lattice: s.Lattice().Matrix()}
	for _, site := range s.Sites() {
		doc.Sites = append(doc.Sites, siteDoc{
			Species:    site.Species,
			Frac:       [3]float64{site.Frac.X, site.Frac.Y, site.Frac.Z},
			Properties: site.Properties,
		})
	}
	return doc
}

func fromDoc(doc structureDoc) (*domain.Structure, error) {
	lat, err := domain.NewLattice(doc.Lattice)
	if err != nil {
		return nil, err
	}
	sites := make([]domain.Site, len(doc.Sites))
	for i, sd := range doc.Sites {
		if sd.Species == "" {
			return nil, fmt.Errorf("%w: site %d has no species", domain.ErrInvalidFileFormat, i)
		}
		sites[i] = domain.NewSite(lat, sd.Species, r3.Vec{X: sd.Frac[0], Y: sd.Frac[1], Z: sd.Frac[2]}, sd.Properties)
	}
	return domain.NewStructure(lat, sites)
}
