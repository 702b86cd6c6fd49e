package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinesPath string // hcl files
	StartFrom     string // job name or "~" trigger seeding the root event
	PipelineID    int64  // pipeline of the root event; 0 picks the first loaded

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	WorkerCount     int
	NotifyURL       string // socket.io endpoint; empty disables notifications
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinesPath == "" {
		return nil, errors.New("PipelinesPath is a required configuration field and cannot be empty")
	}
	if cfg.StartFrom == "" {
		cfg.StartFrom = "~commit"
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 10
	}
	return &cfg, nil
}
