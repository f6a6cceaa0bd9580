package main

import (
	"flag"
	"neb-pathfinder/internal/app"
	"neb-pathfinder/internal/domain"
	"neb-pathfinder/internal/infrastructure"
	"neb-pathfinder/pkg/optimization"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	infrastructure.RegisterFlags(flag.CommandLine)
	flag.Parse()

	// .env необязателен
	_ = godotenv.Load()

	// Инициализация логгера
	logger := initLogger("info")
	defer logger.Sync()

	// Чтение конфигурации
	configReader := infrastructure.NewYAMLConfigReader(logger)
	config, err := configReader.ReadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to read config", zap.Error(err))
	}
	if err := configReader.ApplyFlags(config, flag.CommandLine); err != nil {
		logger.Fatal("Failed to apply flags", zap.Error(err))
	}
	if err := config.Validate(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	// Обновляем уровень логирования
	if config.LogFile != "" {
		logger = initLogger(config.LogLevel, config.LogFile)
	} else {
		logger = initLogger(config.LogLevel)
	}

	reader := infrastructure.NewStructureFileReader(logger)
	writer := infrastructure.NewStructureFileWriter(logger, 8)

	switch config.Mode {
	case domain.ModePaths:
		err = runPaths(logger, config, reader, writer)
	case domain.ModeIDPP:
		err = runIDPP(logger, config, reader, writer)
	}
	if err != nil {
		logger.Fatal("Run failed", zap.String("mode", config.Mode), zap.Error(err))
	}

	logger.Info("Completed successfully", zap.String("output", config.Output))
}

func runPaths(logger *zap.Logger, config *domain.Config, reader domain.StructureReader, writer domain.StructureWriter) error {
	structure, err := reader.ReadStructure(config.Structure)
	if err != nil {
		return err
	}

	finder, err := app.NewDistinctPathFinder(logger, structure, config.MigratingSpecies, config.MaxPathLength, config.Symprec)
	if err != nil {
		return err
	}

	paths, err := finder.GetPaths()
	if err != nil {
		return err
	}
	for i, p := range paths {
		logger.Info("Migration path", zap.Int("n", i), zap.Stringer("path", p))
	}

	return finder.WriteAllPaths(writer, config.Output, app.AllPathsOptions{
		StructureOptions: app.StructureOptions{
			NImages:     config.NImages,
			Mode:        config.PathMode(),
			IDPP:        config.IDPP,
			IDPPOptions: config.IDPPOptions,
			Workers:     config.Workers,
		},
		Placeholder: config.PlaceholderSpecies,
	})
}

func runIDPP(logger *zap.Logger, config *domain.Config, reader domain.StructureReader, writer domain.StructureWriter) error {
	start, err := reader.ReadStructure(config.Endpoints[0])
	if err != nil {
		return err
	}
	end, err := reader.ReadStructure(config.Endpoints[1])
	if err != nil {
		return err
	}

	solver, err := optimization.NewIDPPSolverFromEndpoints(logger, start, end, config.NImages, config.SortTol,
		optimization.WithWorkers(config.Workers))
	if err != nil {
		return err
	}
	result, err := solver.Run(config.IDPPOptions)
	if err != nil {
		return err
	}

	var sites []domain.Site
	for _, st := range result.Structures {
		sites = append(sites, st.Sites()...)
	}
	combined, err := domain.NewStructure(start.Lattice(), sites)
	if err != nil {
		return err
	}

	logger.Info("IDPP path computed",
		zap.Int("images", len(result.Structures)),
		zap.Int("iterations", result.Iterations),
		zap.Bool("converged", result.Converged))
	return writer.WriteStructure(config.Output, combined)
}

// initLogger initializes the logger with the specified level and log file name.
func initLogger(level string, logfileName ...string) *zap.Logger {
	config := zap.NewProductionConfig()

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	outputPath := []string{"stderr"}
	if len(logfileName) > 0 {
		outputPath = logfileName
	}

	config.OutputPaths = outputPath
	config.ErrorOutputPaths = outputPath
	config.EncoderConfig.TimeKey = "t"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	config.DisableCaller = false

	logger, _ := config.Build()
	return logger
}
