package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func validPathsConfig() Config {
	return Config{
		Mode:             ModePaths,
		Structure:        "POSCAR",
		MigratingSpecies: "Li",
		MaxPathLength:    4,
		NImages:          5,
		Output:           "paths.vasp",
		IDPPOptions:      DefaultIDPPOptions(),
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid paths", func(c *Config) {}, false},
		{"valid idpp", func(c *Config) {
			c.Mode = ModeIDPP
			c.Structure = ""
			c.Endpoints = []string{"start.vasp", "end.vasp"}
		}, false},
		{"unknown mode", func(c *Config) { c.Mode = "neb" }, true},
		{"missing structure", func(c *Config) { c.Structure = "" }, true},
		{"missing species", func(c *Config) { c.MigratingSpecies = "" }, true},
		{"non-positive length", func(c *Config) { c.MaxPathLength = 0 }, true},
		{"one endpoint", func(c *Config) {
			c.Mode = ModeIDPP
			c.Endpoints = []string{"start.vasp"}
		}, true},
		{"no images", func(c *Config) { c.NImages = 0 }, true},
		{"no output", func(c *Config) { c.Output = "" }, true},
		{"bad idpp options", func(c *Config) { c.IDPPOptions.StepSize = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validPathsConfig()
			tt.mutate(&c)
			err := c.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrInvalidOptions))
		})
	}
}

func TestConfig_PathMode(t *testing.T) {
	c := validPathsConfig()
	assert.Equal(t, Vacancy, c.PathMode())

	off := false
	c.VacMode = &off
	assert.Equal(t, Interstitial, c.PathMode())
	assert.Equal(t, "interstitial", c.PathMode().String())
	assert.Equal(t, "PathMode(7)", PathMode(7).String())
}

func TestIDPPOptions_WithDefaults(t *testing.T) {
	opts := IDPPOptions{MaxIter: 10, Species: []string{"Li"}}.WithDefaults()

	def := DefaultIDPPOptions()
	assert.Equal(t, 10, opts.MaxIter)
	assert.Equal(t, def.Tol, opts.Tol)
	assert.Equal(t, def.GTol, opts.GTol)
	assert.Equal(t, def.StepSize, opts.StepSize)
	assert.Equal(t, def.MaxDisp, opts.MaxDisp)
	assert.Equal(t, def.SpringConst, opts.SpringConst)
	assert.Equal(t, []string{"Li"}, opts.Species)
	require.NoError(t, opts.Validate())
}

func TestIDPPOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *IDPPOptions)
	}{
		{"max iter", func(o *IDPPOptions) { o.MaxIter = 0 }},
		{"tol", func(o *IDPPOptions) { o.Tol = -1 }},
		{"gtol", func(o *IDPPOptions) { o.GTol = -1 }},
		{"step", func(o *IDPPOptions) { o.StepSize = 0 }},
		{"disp", func(o *IDPPOptions) { o.MaxDisp = -0.1 }},
		{"spring", func(o *IDPPOptions) { o.SpringConst = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultIDPPOptions()
			tt.mutate(&o)
			require.ErrorIs(t, o.Validate(), ErrInvalidOptions)
		})
	}
}

func TestMatrixUtils(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{0, 1, 1, 0})
	b := mat.NewDense(2, 2, []float64{0, 3, 3, 0})

	mid, err := InterpolateMatrix(a, b, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, mid.At(0, 1), 1e-12)
	assert.Zero(t, mid.At(1, 1))

	avg, err := AverageMatrix(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2.0, avg.At(1, 0))

	diff, err := MaxAbsDiff(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2.0, diff)

	_, err = InterpolateMatrix(a, mat.NewDense(3, 3, nil), 0.5)
	require.ErrorIs(t, err, ErrInvalidMatrix)
	_, err = AverageMatrix(nil, b)
	require.ErrorIs(t, err, ErrInvalidMatrix)
}
