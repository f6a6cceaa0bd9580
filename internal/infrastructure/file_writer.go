package infrastructure

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"neb-pathfinder/internal/domain"
)

type FmtFunc func(float64) string

type StructureFileWriter struct {
	logger    *zap.Logger
	formatter FmtFunc
}

// NewStructureFileWriter writes coordinates with the given number of
// decimals.
func NewStructureFileWriter(logger *zap.Logger, decimals int) *StructureFileWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if decimals <= 0 {
		decimals = 8
	}
	return &StructureFileWriter{
		logger: logger,
		formatter: func(val float64) string {
			return strconv.FormatFloat(val, 'f', decimals, 64)
		},
	}
}

func (w *StructureFileWriter) WriteStructure(filename string, s *domain.Structure) (err error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	writer := bufio.NewWriter(file)
	switch format {
	case FormatPOSCAR:
		err = w.WritePOSCAR(writer, s)
	case FormatXYZ:
		err = w.WriteXYZ(writer, s)
	case FormatYAML:
		err = w.WriteYAML(writer, s)
	}
	if err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	w.logger.Debug("Structure written",
		zap.String("file", filename),
		zap.Stringer("format", format),
		zap.Int("sites", s.Len()))
	return nil
}

// WritePOSCAR writes s in VASP 5 format with Direct coordinates. Species
// are grouped in consecutive runs, so a species may appear more than once
// on the symbols line.
func (w *StructureFileWriter) WritePOSCAR(out io.Writer, s *domain.Structure) error {
	var symbols []string
	var counts []string
	sites := s.Sites()
	for i := 0; i < len(sites); {
		j := i
		for j < len(sites) && sites[j].Species == sites[i].Species {
			j++
		}
		symbols = append(symbols, sites[i].Species)
		counts = append(counts, strconv.Itoa(j-i))
		i = j
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n1.0\n", s.Formula())
	for _, row := range s.Lattice().Matrix() {
		fmt.Fprintf(&b, "  %s %s %s\n", w.formatter(row[0]), w.formatter(row[1]), w.formatter(row[2]))
	}
	fmt.Fprintf(&b, "%s\n%s\nDirect\n", strings.Join(symbols, " "), strings.Join(counts, " "))
	for _, site := range sites {
		fmt.Fprintf(&b, "  %s %s %s %s\n",
			w.formatter(site.Frac.X), w.formatter(site.Frac.Y), w.formatter(site.Frac.Z), site.Species)
	}

	_, err := io.WriteString(out, b.String())
	return err
}

// WriteXYZ writes extended XYZ with the lattice in the comment line.
func (w *StructureFileWriter) WriteXYZ(out io.Writer, s *domain.Structure) error {
	var lattice []string
	for _, row := range s.Lattice().Matrix() {
		for _, v := range row {
			lattice = append(lattice, w.formatter(v))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d\n", s.Len())
	fmt.Fprintf(&b, "Lattice=\"%s\" Properties=species:S:1:pos:R:3 pbc=\"T T T\"\n", strings.Join(lattice, " "))
	for _, site := range s.Sites() {
		fmt.Fprintf(&b, "%s %s %s %s\n",
			site.Species, w.formatter(site.Cart.X), w.formatter(site.Cart.Y), w.formatter(site.Cart.Z))
	}

	_, err := io.WriteString(out, b.String())
	return err
}

func (w *StructureFileWriter) WriteYAML(out io.Writer, s *domain.Structure) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(toDoc(s)); err != nil {
		return err
	}
	return enc.Close()
}
