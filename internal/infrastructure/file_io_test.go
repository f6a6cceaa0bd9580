package infrastructure

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"neb-pathfinder/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/spatial/r3"
)

func sampleStructure(t *testing.T) *domain.Structure {
	t.Helper()
	lat, err := domain.NewLattice([3][3]float64{{3, 0, 0}, {0, 3, 0}, {0.5, 0, 4}})
	require.NoError(t, err)
	sites := []domain.Site{
		domain.NewSite(lat, "Li", r3.Vec{}, map[string]any{"magmom": 0.5}),
		domain.NewSite(lat, "O", r3.Vec{X: 0.5, Y: 0.5, Z: 0.25}, nil),
		domain.NewSite(lat, "Li", r3.Vec{X: 0.125, Y: 0.75, Z: 0.5}, nil),
	}
	s, err := domain.NewStructure(lat, sites)
	require.NoError(t, err)
	return s
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     Format
		wantErr  bool
	}{
		{"POSCAR", FormatPOSCAR, false},
		{"run/CONTCAR_relaxed", FormatPOSCAR, false},
		{"/tmp/LiFePO4.vasp", FormatPOSCAR, false},
		{"paths.xyz", FormatXYZ, false},
		{"structure.YAML", FormatYAML, false},
		{"structure.yml", FormatYAML, false},
		{"LiFePO4.cif", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := DetectFormat(tt.filename)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "poscar", FormatPOSCAR.String())
	assert.Equal(t, "Format(9)", Format(9).String())
}

func TestReadPOSCAR(t *testing.T) {
	const poscar = `Li2 O
2.0
1.5 0 0
0 1.5 0
0 0 2
Li O
2 1
Selective dynamics
Cartesian
0 0 0 T T T
1.5 0 0 T T T
0 1.5 2 F F F
`
	s, err := NewStructureFileReader(zaptest.NewLogger(t)).ReadPOSCAR(strings.NewReader(poscar))
	require.NoError(t, err)

	assert.Equal(t, []string{"Li", "Li", "O"}, s.Species())
	assert.Equal(t, [3]float64{3, 3, 4}, s.Lattice().Abc())
	assert.Equal(t, r3.Vec{X: 3}, s.Site(1).Cart)
	assert.InDelta(t, 1.0, s.Site(1).Frac.X, 1e-12)
	assert.InDelta(t, 1.0, s.Site(2).Frac.Y, 1e-12)
	assert.InDelta(t, 1.0, s.Site(2).Frac.Z, 1e-12)
}

func TestReadPOSCAR_SpeciesFromComment(t *testing.T) {
	const poscar = `Li O
-27
1 0 0
0 1 0
0 0 1
1 1
Direct
0 0 0
0.5 0.5 0.5
`
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := NewStructureFileReader(zap.New(core)).ReadPOSCAR(strings.NewReader(poscar))
	require.NoError(t, err)

	assert.Equal(t, []string{"Li", "O"}, s.Species())
	assert.InDelta(t, 27.0, s.Lattice().Volume(), 1e-9)
	assert.Equal(t, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, s.Site(1).Frac)
	assert.Equal(t, 1, logs.FilterMessageSnippet("no symbols line").Len())
}

func TestReadPOSCAR_Errors(t *testing.T) {
	tests := []struct {
		name   string
		poscar string
	}{
		{"truncated", "Li\n1.0\n1 0 0\n"},
		{"bad scale", "Li\nx\n1 0 0\n0 1 0\n0 0 1\nLi\n1\nDirect\n0 0 0\n"},
		{"bad lattice", "Li\n1.0\n1 0\n0 1 0\n0 0 1\nLi\n1\nDirect\n0 0 0\n"},
		{"bad count", "Li\n1.0\n1 0 0\n0 1 0\n0 0 1\nLi\none\nDirect\n0 0 0\n"},
		{"missing coordinates", "Li\n1.0\n1 0 0\n0 1 0\n0 0 1\nLi\n2\nDirect\n0 0 0\n"},
		{"more counts than species", "Li\n1.0\n1 0 0\n0 1 0\n0 0 1\nLi\n1 1\nDirect\n0 0 0\n0.5 0 0\n"},
	}
	reader := NewStructureFileReader(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reader.ReadPOSCAR(strings.NewReader(tt.poscar))
			require.ErrorIs(t, err, domain.ErrInvalidFileFormat)
		})
	}
}

func TestStructureFile_RoundTrip(t *testing.T) {
	want := sampleStructure(t)
	writer := NewStructureFileWriter(zaptest.NewLogger(t), 0)
	reader := NewStructureFileReader(zaptest.NewLogger(t))

	tests := []struct {
		name     string
		filename string
		delta    float64
	}{
		{"poscar", "POSCAR", 1e-8},
		{"vasp extension", "LiO.vasp", 1e-8},
		{"yaml", "structure.yaml", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.filename)
			require.NoError(t, writer.WriteStructure(path, want))

			got, err := reader.ReadStructure(path)
			require.NoError(t, err)
			assert.Equal(t, want.Species(), got.Species())
			assert.True(t, want.Lattice().Equal(got.Lattice(), 1e-8))
			for i := 0; i < want.Len(); i++ {
				assert.InDelta(t, want.Site(i).Frac.X, got.Site(i).Frac.X, tt.delta)
				assert.InDelta(t, want.Site(i).Frac.Y, got.Site(i).Frac.Y, tt.delta)
				assert.InDelta(t, want.Site(i).Frac.Z, got.Site(i).Frac.Z, tt.delta)
			}
		})
	}
}

func TestStructureFile_YAMLKeepsProperties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "structure.yml")
	require.NoError(t, NewStructureFileWriter(nil, 6).WriteStructure(path, sampleStructure(t)))

	got, err := NewStructureFileReader(nil).ReadStructure(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Site(0).Properties["magmom"])
	assert.Nil(t, got.Site(1).Properties)
}

func TestWritePOSCAR_GroupsRuns(t *testing.T) {
	var b strings.Builder
	require.NoError(t, NewStructureFileWriter(nil, 4).WritePOSCAR(&b, sampleStructure(t)))

	lines := strings.Split(b.String(), "\n")
	assert.Equal(t, "Li2O", lines[0])
	assert.Equal(t, "1.0", lines[1])
	assert.Equal(t, "  0.5000 0.0000 4.0000", lines[4])
	assert.Equal(t, "Li O Li", lines[5])
	assert.Equal(t, "1 1 1", lines[6])
	assert.Equal(t, "Direct", lines[7])
	assert.Equal(t, "  0.1250 0.7500 0.5000 Li", lines[10])
}

func TestWriteXYZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paths.xyz")
	require.NoError(t, NewStructureFileWriter(nil, 3).WriteStructure(path, sampleStructure(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "3", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `Lattice="3.000 0.000 0.000 0.000 3.000 0.000 0.500 0.000 4.000"`))
	assert.Equal(t, "O 1.625 1.500 1.000", lines[3])

	_, err = NewStructureFileReader(nil).ReadStructure(path)
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestWriteStructure_Errors(t *testing.T) {
	writer := NewStructureFileWriter(nil, 8)

	err := writer.WriteStructure(filepath.Join(t.TempDir(), "out.cif"), sampleStructure(t))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	err = writer.WriteStructure(filepath.Join(t.TempDir(), "missing", "POSCAR"), sampleStructure(t))
	require.Error(t, err)
}
