package internal

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"tokgate/internal/api"
	"tokgate/internal/extractor"
	"tokgate/internal/limiter"
)

// TokgateConfig is the struct used to contain the various user config
// supplied by file or environment.
type TokgateConfig struct {
	Rest      api.RestConfig   `yaml:"api"`
	Limiter   limiter.Config   `yaml:"rate_limit"`
	Extractor extractor.Config `yaml:"extractor"`
}

// LoadFromFile loads a YAML configuration file into a TokgateConfig, with
// environment variables taking precedence over file values.
func (config *TokgateConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from '%s': %w", configPath, err)
	}

	return nil
}

// LoadFromEnv populates the config purely from the environment, falling
// back to defaults for anything unset. Used when no config file is given.
func (config *TokgateConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return nil
}
