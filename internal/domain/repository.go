package domain

// StructureReader интерфейс для чтения структур
type StructureReader interface {
	ReadStructure(filename string) (*Structure, error)
}

// StructureWriter интерфейс для записи структур
type StructureWriter interface {
	WriteStructure(filename string, s *Structure) error
}

// ConfigReader интерфейс для чтения конфигурации
type ConfigReader interface {
	ReadConfig(path string) (*Config, error)
}
