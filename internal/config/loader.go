package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/caevv/agenthistory/internal/logging"
	"github.com/caevv/agenthistory/internal/query"
	"github.com/caevv/agenthistory/internal/scheduler"
	"github.com/caevv/agenthistory/internal/store"
)

// LoadConfig loads and validates an agenthistory configuration from a YAML
// file. ${VAR} references are expanded from the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./agent_build_history"
	}

	if cfg.Host.Driver == "" {
		cfg.Host.Driver = "bbolt"
	}
	if cfg.Host.Path == "" {
		cfg.Host.Path = "./.agenthistory.db"
	}

	if cfg.History.EntriesPerPage == 0 {
		cfg.History.EntriesPerPage = 20
	}
	if cfg.History.DefaultSortColumn == "" {
		cfg.History.DefaultSortColumn = string(query.ColumnStartTime)
	}
	if cfg.History.DefaultSortOrder == "" {
		cfg.History.DefaultSortOrder = string(query.OrderDesc)
	}
	if cfg.History.MaxPageSize == 0 {
		cfg.History.MaxPageSize = 200
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

// validate checks the configuration for errors and inconsistencies.
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Storage.Dir) == "" {
		return fmt.Errorf("storage.dir is required")
	}

	if !store.IsSupportedDriver(cfg.Host.Driver) {
		return fmt.Errorf("invalid host driver: %s (supported: %v)", cfg.Host.Driver, store.SupportedDrivers)
	}
	if cfg.Host.Path == "" {
		return fmt.Errorf("host.path is required")
	}

	h := cfg.History
	if h.EntriesPerPage < 0 {
		return fmt.Errorf("history.entries_per_page must be positive")
	}
	if h.MaxPageSize < 0 {
		return fmt.Errorf("history.max_page_size must be positive")
	}
	if h.EntriesPerPage > h.MaxPageSize {
		return fmt.Errorf("history.entries_per_page (%d) exceeds history.max_page_size (%d)", h.EntriesPerPage, h.MaxPageSize)
	}
	if _, err := query.ParseColumn(h.DefaultSortColumn, query.ColumnStartTime); err != nil {
		return fmt.Errorf("history.default_sort_column: %w", err)
	}
	if _, err := query.ParseOrder(h.DefaultSortOrder, query.OrderDesc); err != nil {
		return fmt.Errorf("history.default_sort_order: %w", err)
	}

	if cfg.Maintenance.PruneSchedule != "" {
		if err := scheduler.ValidateSchedule(cfg.Maintenance.PruneSchedule); err != nil {
			return fmt.Errorf("maintenance.prune_schedule: %w", err)
		}
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be 'json' or 'text')", cfg.Logging.Format)
	}

	return nil
}

// QueryParams builds history query parameters from raw request values,
// filling blanks from the configured defaults. A page size of zero takes
// entries_per_page and sizes above max_page_size are capped.
func (h History) QueryParams(page, pageSize int, sort, order, status string) (query.Params, error) {
	if pageSize == 0 {
		pageSize = h.EntriesPerPage
	}
	if h.MaxPageSize > 0 && pageSize > h.MaxPageSize {
		pageSize = h.MaxPageSize
	}

	col, err := query.ParseColumn(sort, query.Column(h.DefaultSortColumn))
	if err != nil {
		return query.Params{}, err
	}
	ord, err := query.ParseOrder(order, query.Order(h.DefaultSortOrder))
	if err != nil {
		return query.Params{}, err
	}
	filter, err := query.ParseStatus(status)
	if err != nil {
		return query.Params{}, err
	}

	p := query.Params{Page: page, PageSize: pageSize, Sort: col, Order: ord, Status: filter}
	if err := p.Validate(); err != nil {
		return query.Params{}, err
	}
	return p, nil
}
