package main

import (
	"log/slog"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/config"
)

// appConfig wraps the core config.Config with the CLI's own ambient
// concerns (log level) that have no business living in the core package.
type appConfig struct {
	*config.Config
	logLevel slog.Level
}

func loadConfig() (*appConfig, error) {
	configPath := config.GetEnvStr("CONFIG_PATH", "")

	core, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	return &appConfig{
		Config:   core,
		logLevel: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}, nil
}
