package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// FromEnv builds a Config from AUTHSESSION_* environment variables, for
// deployments without a config file. Values are used verbatim; the $env
// reference syntax only applies to config files.
func FromEnv() (Config, error) {
	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	config.Version = ConfigVersion
	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Usage returns a description of every supported environment variable.
func Usage() (string, error) {
	var config Config
	return cleanenv.GetDescription(&config, nil)
}
