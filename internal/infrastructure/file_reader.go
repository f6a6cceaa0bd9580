package infrastructure

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"neb-pathfinder/internal/domain"
	"os"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

type StructureFileReader struct {
	logger *zap.Logger
}

func NewStructureFileReader(logger *zap.Logger) *StructureFileReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructureFileReader{logger: logger}
}

func (r *StructureFileReader) ReadStructure(filename string) (*domain.Structure, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var s *domain.Structure
	switch format {
	case FormatPOSCAR:
		s, err = r.ReadPOSCAR(file)
	case FormatYAML:
		s, err = r.ReadYAML(file)
	default:
		return nil, fmt.Errorf("%w: reading %s is not supported", domain.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	r.logger.Info("Structure loaded",
		zap.String("file", filename),
		zap.String("formula", s.Formula()),
		zap.Int("sites", s.Len()))
	return s, nil
}

func (r *StructureFileReader) ReadYAML(in io.Reader) (*domain.Structure, error) {
	var doc structureDoc
	if err := yaml.NewDecoder(in).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFileFormat, err)
	}
	return fromDoc(doc)
}

// ReadPOSCAR parses a VASP POSCAR. Species are taken from the symbols line
// (VASP 5) or, failing that, from the comment line (VASP 4).
func (r *StructureFileReader) ReadPOSCAR(in io.Reader) (*domain.Structure, error) {
	var lines []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) < 8 {
		return nil, domain.ErrInvalidFileFormat
	}

	scaleFields := strings.Fields(lines[1])
	if len(scaleFields) == 0 {
		return nil, fmt.Errorf("%w: missing scale factor", domain.ErrInvalidFileFormat)
	}
	scale, err := strconv.ParseFloat(scaleFields[0], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: scale factor: %v", domain.ErrInvalidFileFormat, err)
	}

	var vectors [3][3]float64
	for i := 0; i < 3; i++ {
		v, err := parseFloats(lines[2+i], 3)
		if err != nil {
			return nil, fmt.Errorf("%w: lattice vector %d: %v", domain.ErrInvalidFileFormat, i+1, err)
		}
		copy(vectors[i][:], v)
	}

	// Отрицательный масштаб задаёт объём ячейки
	if scale < 0 {
		lat, err := domain.NewLattice(vectors)
		if err != nil {
			return nil, err
		}
		scale = math.Cbrt(-scale / lat.Volume())
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			vectors[i][j] *= scale
		}
	}
	lat, err := domain.NewLattice(vectors)
	if err != nil {
		return nil, err
	}

	cursor := 5
	var symbols []string
	fields := strings.Fields(lines[cursor])
	if len(fields) > 0 && !isNumber(fields[0]) {
		symbols = fields
		cursor++
	} else {
		symbols = strings.Fields(lines[0])
		r.logger.Warn("POSCAR has no symbols line, species taken from comment",
			zap.Strings("species", symbols))
	}

	countFields := strings.Fields(lines[cursor])
	if len(symbols) < len(countFields) {
		return nil, fmt.Errorf("%w: %d species for %d counts", domain.ErrInvalidFileFormat, len(symbols), len(countFields))
	}
	var species []string
	for i, f := range countFields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: site count %q", domain.ErrInvalidFileFormat, f)
		}
		for k := 0; k < n; k++ {
			species = append(species, symbols[i])
		}
	}
	cursor++

	if cursor < len(lines) && strings.HasPrefix(strings.ToLower(strings.TrimSpace(lines[cursor])), "s") {
		cursor++
	}
	if cursor >= len(lines) {
		return nil, domain.ErrInvalidFileFormat
	}
	mode := strings.ToLower(strings.TrimSpace(lines[cursor]))
	cartesian := strings.HasPrefix(mode, "c") || strings.HasPrefix(mode, "k")
	cursor++

	if len(lines) < cursor+len(species) {
		return nil, fmt.Errorf("%w: expected %d coordinate lines", domain.ErrInvalidFileFormat, len(species))
	}

	sites := make([]domain.Site, len(species))
	for i := range species {
		v, err := parseFloats(lines[cursor+i], 3)
		if err != nil {
			return nil, fmt.Errorf("%w: coordinates of site %d: %v", domain.ErrInvalidFileFormat, i+1, err)
		}
		p := r3.Vec{X: v[0], Y: v[1], Z: v[2]}
		if cartesian {
			sites[i] = domain.NewSiteFromCart(lat, species[i], r3.Scale(scale, p), nil)
		} else {
			sites[i] = domain.NewSite(lat, species[i], p, nil)
		}
	}
	return domain.NewStructure(lat, sites)
}

func parseFloats(line string, n int) ([]float64, error) {
	fields := strings.Fields(line)
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d numbers, got %q", n, line)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	return unicode.IsDigit(rune(s[0])) || s[0] == '-' || s[0] == '+' || s[0] == '.'
}
