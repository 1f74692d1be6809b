package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the defaults of a named deployment profile.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch name {
	case "development":
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
		cfg.Platform.DispatchMode = "sync"

	case "testing":
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Platform.Workers = 0
		cfg.Platform.DispatchMode = "sync"
		cfg.Analytics.Enabled = false

	case "staging":
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true

	case "production":
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Storage.SQL.Migrate = true
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 600
		cfg.Security.RateLimit.BurstSize = 50
		cfg.Server.CORSOrigin = ""
		cfg.Platform.Workers = 32
		cfg.Platform.QueueSize = 8192
		cfg.Platform.TicketTTL = 5 * time.Minute

	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	return cfg, nil
}
