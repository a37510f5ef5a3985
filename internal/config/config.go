package config

// Config represents the top-level configuration structure for agenthistory.
type Config struct {
	Storage     Storage     `yaml:"storage"`
	Host        Host        `yaml:"host"`
	History     History     `yaml:"history"`
	Maintenance Maintenance `yaml:"maintenance"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

// Storage locates the per-node index files.
type Storage struct {
	Dir string `yaml:"dir"` // created on first use
}

// Host configures the local mirror of the host's runs and step graphs.
type Host struct {
	Driver string `yaml:"driver"` // "bbolt" or "json"
	Path   string `yaml:"path"`
}

// History holds the query defaults for node history pages.
type History struct {
	EntriesPerPage    int    `yaml:"entries_per_page"`
	DefaultSortColumn string `yaml:"default_sort_column"` // "startTime" or "build"
	DefaultSortOrder  string `yaml:"default_sort_order"`  // "asc" or "desc"
	MaxPageSize       int    `yaml:"max_page_size"`
}

// Maintenance schedules index upkeep.
type Maintenance struct {
	PruneSchedule   string `yaml:"prune_schedule"` // empty disables pruning
	BackfillOnStart bool   `yaml:"backfill_on_start"`
}

// Server configures the HTTP API.
type Server struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stderr", "stdout", "discard" or a file path
}
