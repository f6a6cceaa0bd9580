package domain

import (
	"errors"
	"fmt"
)

// Config представляет конфигурацию приложения
type Config struct {
	LogLevel           string      `yaml:"log_level"`
	LogFile            string      `yaml:"log_file"`
	Workers            int         `yaml:"workers"`
	Mode               string      `yaml:"mode"`
	Structure          string      `yaml:"structure"`
	MigratingSpecies   string      `yaml:"migrating_species"`
	MaxPathLength      float64     `yaml:"max_path_length"`
	Symprec            float64     `yaml:"symprec"`
	NImages            int         `yaml:"nimages"`
	VacMode            *bool       `yaml:"vac_mode"`
	IDPP               bool        `yaml:"idpp"`
	PlaceholderSpecies string      `yaml:"placeholder_species"`
	Output             string      `yaml:"output"`
	Endpoints          []string    `yaml:"endpoints"`
	SortTol            float64     `yaml:"sort_tol"`
	IDPPOptions        IDPPOptions `yaml:"idpp_options"`
}

const (
	ModePaths = "paths"
	ModeIDPP  = "idpp"
)

// PathMode returns the diffusion mechanism selected by vac_mode.
func (c *Config) PathMode() PathMode {
	if c.VacMode == nil || *c.VacMode {
		return Vacancy
	}
	return Interstitial
}

// Validate checks the fields required by the selected mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePaths:
		if c.Structure == "" {
			return fmt.Errorf("%w: structure is required in %s mode", ErrInvalidConfig, c.Mode)
		}
		if c.MigratingSpecies == "" {
			return fmt.Errorf("%w: migrating_species is required in %s mode", ErrInvalidConfig, c.Mode)
		}
		if c.MaxPathLength <= 0 {
			return fmt.Errorf("%w: max_path_length must be positive", ErrInvalidConfig)
		}
	case ModeIDPP:
		if len(c.Endpoints) != 2 {
			return fmt.Errorf("%w: exactly two endpoints are required, got %d", ErrInvalidConfig, len(c.Endpoints))
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.NImages < 1 {
		return fmt.Errorf("%w: nimages must be at least 1", ErrInvalidConfig)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: output is required", ErrInvalidConfig)
	}
	return c.IDPPOptions.Validate()
}

// IDPPOptions controls the IDPP relaxation loop.
type IDPPOptions struct {
	MaxIter     int      `yaml:"max_iter"`
	Tol         float64  `yaml:"tol"`
	GTol        float64  `yaml:"gtol"`
	StepSize    float64  `yaml:"step_size"`
	MaxDisp     float64  `yaml:"max_disp"`
	SpringConst float64  `yaml:"spring_const"`
	Species     []string `yaml:"species"`
}

// DefaultIDPPOptions returns the usual relaxation settings.
func DefaultIDPPOptions() IDPPOptions {
	return IDPPOptions{
		MaxIter:     1000,
		Tol:         1e-5,
		GTol:        1e-3,
		StepSize:    0.05,
		MaxDisp:     0.05,
		SpringConst: 5.0,
	}
}

// WithDefaults fills zero-valued numeric fields from DefaultIDPPOptions.
func (o IDPPOptions) WithDefaults() IDPPOptions {
	def := DefaultIDPPOptions()
	if o.MaxIter == 0 {
		o.MaxIter = def.MaxIter
	}
	if o.Tol == 0 {
		o.Tol = def.Tol
	}
	if o.GTol == 0 {
		o.GTol = def.GTol
	}
	if o.StepSize == 0 {
		o.StepSize = def.StepSize
	}
	if o.MaxDisp == 0 {
		o.MaxDisp = def.MaxDisp
	}
	if o.SpringConst == 0 {
		o.SpringConst = def.SpringConst
	}
	return o
}

func (o IDPPOptions) Validate() error {
	switch {
	case o.MaxIter < 1:
		return fmt.Errorf("%w: max_iter must be at least 1", ErrInvalidOptions)
	case o.Tol < 0 || o.GTol < 0:
		return fmt.Errorf("%w: tolerances must not be negative", ErrInvalidOptions)
	case o.StepSize <= 0:
		return fmt.Errorf("%w: step_size must be positive", ErrInvalidOptions)
	case o.MaxDisp <= 0:
		return fmt.Errorf("%w: max_disp must be positive", ErrInvalidOptions)
	case o.SpringConst < 0:
		return fmt.Errorf("%w: spring_const must not be negative", ErrInvalidOptions)
	}
	return nil
}

// PathMode selects which sites are kept when building path endpoints.
type PathMode int

const (
	// Vacancy keeps every other site of the migrating species.
	Vacancy PathMode = iota
	// Interstitial removes every other site of the migrating species.
	Interstitial
)

func (m PathMode) String() string {
	switch m {
	case Vacancy:
		return "vacancy"
	case Interstitial:
		return "interstitial"
	default:
		return fmt.Sprintf("PathMode(%d)", int(m))
	}
}

var (
	ErrInvalidFileFormat      = errors.New("invalid file format")
	ErrUnsupportedFormat      = errors.New("unsupported structure format")
	ErrInvalidConfig          = errors.New("invalid config")
	ErrInvalidOptions         = errors.New("invalid IDPP options")
	ErrSingularLattice        = errors.New("singular lattice")
	ErrEmptyStructure         = errors.New("structure has no sites")
	ErrIncompatibleStructures = errors.New("incompatible structures")
	ErrStructureMismatch      = errors.New("unable to reliably match structures")
	ErrSpeciesNotFound        = errors.New("the given species are not in the system")
)
