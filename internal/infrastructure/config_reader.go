package infrastructure

import (
	"flag"
	"fmt"
	"neb-pathfinder/internal/domain"
	"os"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type YAMLConfigReader struct {
	logger *zap.Logger
}

func NewYAMLConfigReader(logger *zap.Logger) *YAMLConfigReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YAMLConfigReader{logger: logger}
}

// ReadConfig loads the YAML file, applies NEB_* environment overrides and
// fills defaults. Flags are applied separately with ApplyFlags.
func (r *YAMLConfigReader) ReadConfig(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config domain.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	if err := r.applyEnv(&config); err != nil {
		return nil, err
	}

	// Устанавливаем значения по умолчанию
	r.setDefaults(&config)

	return &config, nil
}

// RegisterFlags defines the command line overrides on fs.
func RegisterFlags(fs *flag.FlagSet) {
	fs.Int("workers", 0, "Number of workers")
	fs.String("log-level", "", "Log level")
	fs.String("mode", "", "Run mode: paths or idpp")
	fs.String("structure", "", "Input structure file")
	fs.String("species", "", "Migrating species")
	fs.Float64("max-path-length", 0, "Maximum path length in Angstrom")
	fs.Int("nimages", 0, "Number of interior images")
	fs.Bool("idpp", false, "Relax images with IDPP")
	fs.String("output", "", "Output structure file")
}

// ApplyFlags copies flags explicitly set on fs into config.
func (r *YAMLConfigReader) ApplyFlags(config *domain.Config, fs *flag.FlagSet) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		value := f.Value.String()
		switch f.Name {
		case "workers":
			config.Workers, err = strconv.Atoi(value)
		case "log-level":
			config.LogLevel = value
		case "mode":
			config.Mode = value
		case "structure":
			config.Structure = value
		case "species":
			config.MigratingSpecies = value
		case "max-path-length":
			config.MaxPathLength, err = strconv.ParseFloat(value, 64)
		case "nimages":
			config.NImages, err = strconv.Atoi(value)
		case "idpp":
			config.IDPP, err = strconv.ParseBool(value)
		case "output":
			config.Output = value
		}
		if err != nil {
			err = fmt.Errorf("%w: flag -%s: %v", domain.ErrInvalidConfig, f.Name, err)
		}
	})
	return err
}

func (r *YAMLConfigReader) applyEnv(config *domain.Config) error {
	if v := os.Getenv("NEB_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("NEB_OUTPUT"); v != "" {
		config.Output = v
	}
	if v := os.Getenv("NEB_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: NEB_WORKERS=%q", domain.ErrInvalidConfig, v)
		}
		config.Workers = n
	}
	return nil
}

func (r *YAMLConfigReader) setDefaults(config *domain.Config) {
	if config.Workers == 0 {
		config.Workers = max(1, runtime.NumCPU()-1)
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Mode == "" {
		config.Mode = domain.ModePaths
	}
	config.Mode = strings.ToLower(config.Mode)
	if config.MaxPathLength == 0 {
		config.MaxPathLength = 5
	}
	if config.Symprec == 0 {
		config.Symprec = 0.1
	}
	if config.NImages == 0 {
		config.NImages = 5
	}
	if config.PlaceholderSpecies == "" {
		config.PlaceholderSpecies = "H"
	}
	if config.SortTol == 0 {
		config.SortTol = 1.0
	}
	config.IDPPOptions = config.IDPPOptions.WithDefaults()

	r.logger.Debug("Config defaults applied",
		zap.String("mode", config.Mode),
		zap.Int("workers", config.Workers))
}
