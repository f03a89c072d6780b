package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration for cmd/lifesim.
type Config struct {
	World      WorldConfig   `yaml:"world_size" toml:"world_size"`
	Simulation Simulation    `yaml:"simulation" toml:"simulation"`
	Engine     EngineConfig  `yaml:"engine" toml:"engine"`
	Storage    StorageConfig `yaml:"storage" toml:"storage"`
	API        APIConfig     `yaml:"api" toml:"api"`
	Logging    LoggingConfig `yaml:"logging" toml:"logging"`
}

// WorldConfig sets the grid size and seed of the first run.
type WorldConfig struct {
	Width  int   `yaml:"width" toml:"width"`
	Height int   `yaml:"height" toml:"height"`
	Seed   int64 `yaml:"seed" toml:"seed"` // 0 = random
}

// EngineConfig drives the tick loop.
type EngineConfig struct {
	Interval    time.Duration `yaml:"interval" toml:"interval"`         // Base tick interval
	Speed       float64       `yaml:"speed" toml:"speed"`               // 0 = start paused
	ReportEvery uint64        `yaml:"report_every" toml:"report_every"` // Ticks between census reports
	History     int           `yaml:"history" toml:"history"`           // Reports kept in memory
}

// StorageConfig locates the run journal. Empty path disables it.
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// APIConfig configures the HTTP observation API. Port 0 disables it.
type APIConfig struct {
	Port      int    `yaml:"port" toml:"port"`
	AdminKey  string `yaml:"admin_key" toml:"admin_key"`
	AdminRate int    `yaml:"admin_rate" toml:"admin_rate"` // Admin requests per client per minute, 0 = unlimited
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "text", "json" or "auto"
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		World: WorldConfig{
			Width:  100,
			Height: 100,
			Seed:   0,
		},
		Simulation: DefaultSimulation(),
		Engine: EngineConfig{
			Interval:    50 * time.Millisecond,
			Speed:       1,
			ReportEvery: 100,
			History:     256,
		},
		Storage: StorageConfig{
			Path: "data/lifesim.db",
		},
		API: APIConfig{
			Port:      8080,
			AdminRate: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file over Default().
// LIFESIM_ADMIN_KEY, when set, overrides api.admin_key.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q", path, filepath.Ext(path))
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the process settings and the simulation tunables.
func (c *Config) Validate() error {
	if c.World.Width < 1 || c.World.Height < 1 {
		return fmt.Errorf("world_size must be at least 1x1, got %dx%d", c.World.Width, c.World.Height)
	}
	if c.API.Port < 0 || c.API.AdminRate < 0 {
		return fmt.Errorf("api.port and api.admin_rate must be >= 0")
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be > 0")
	}
	return c.Simulation.Validate()
}

func (c *Config) applyEnv() {
	if key := os.Getenv("LIFESIM_ADMIN_KEY"); key != "" {
		c.API.AdminKey = key
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
