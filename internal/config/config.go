package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Ledger        LedgerConfig   `toml:"ledger"`
	Planning      PlanningConfig `toml:"planning"`
	Notifications NotifyConfig   `toml:"notifications"`
}

type LedgerConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Company string `toml:"company"`
}

type PlanningConfig struct {
	// FanOut bounds concurrent ledger requests per week fill and per batch
	// phase.
	FanOut       int `toml:"fan_out"`
	PaletteSize  int `toml:"palette_size"`
	DefaultWeeks int `toml:"default_weeks"`
}

type NotifyConfig struct {
	Enabled bool `toml:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		Planning: PlanningConfig{
			FanOut:       5,
			PaletteSize:  10,
			DefaultWeeks: 4,
		},
		Notifications: NotifyConfig{
			Enabled: true,
		},
	}
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "planr"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLANR_API_KEY"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := os.Getenv("PLANR_BASE_URL"); v != "" {
		cfg.Ledger.BaseURL = v
	}
	if v := os.Getenv("PLANR_COMPANY"); v != "" {
		cfg.Ledger.Company = v
	}
}

func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}
