package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"steamkit/adapters/sqlx"
	"steamkit/engine"
)

func oneOf(field, value string, allowed ...string) string {
	if slices.Contains(allowed, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}

func joinErrs(errs []string) error {
	var out []string
	for _, e := range errs {
		if e != "" {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return errors.New(strings.Join(out, "; "))
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	errs := []string{oneOf("adapter", s.Adapter, "memory", "redis", "sql", "file")}

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates SQL storage configuration
func (s *SQLConfig) Validate() error {
	errs := []string{oneOf("driver", s.Driver, string(sqlx.DriverPostgres), string(sqlx.DriverPgx), string(sqlx.DriverMySQL))}
	if s.DSN == "" {
		errs = append(errs, "dsn cannot be empty")
	}
	return joinErrs(errs)
}

// Validate validates the platform runtime settings
func (p *PlatformConfig) Validate() error {
	var errs []string

	if p.Workers < 0 {
		errs = append(errs, "workers cannot be negative")
	}
	if _, ok := engine.ParseDispatchMode(p.DispatchMode); !ok {
		errs = append(errs, "dispatch_mode must be one of: sync, async")
	}
	if p.DispatchMode == "async" && p.QueueSize <= 0 {
		errs = append(errs, "queue_size must be positive in async mode")
	}
	if p.TicketTTL < 0 {
		errs = append(errs, "ticket_ttl cannot be negative")
	}
	if p.TicketSecret != "" && len(p.TicketSecret) < 16 {
		errs = append(errs, "ticket_secret must be at least 16 bytes")
	}

	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	return joinErrs([]string{
		oneOf("level", l.Level, "debug", "info", "warn", "error"),
		oneOf("format", l.Format, "json", "console"),
		oneOf("output", l.Output, "stdout", "stderr"),
	})
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	var errs []string

	if m.Enabled {
		if m.Address == "" {
			errs = append(errs, "address cannot be empty when metrics are enabled")
		}
		if !strings.HasPrefix(m.Path, "/") {
			errs = append(errs, "path must start with / when metrics are enabled")
		}
	}

	return joinErrs(errs)
}

// Validate validates analytics configuration
func (a *AnalyticsConfig) Validate() error {
	var errs []string

	if a.Enabled {
		if a.AggregationInterval <= 0 {
			errs = append(errs, "aggregation_interval must be positive when analytics is enabled")
		}
		if a.ExportInterval <= 0 {
			errs = append(errs, "export_interval must be positive when analytics is enabled")
		}
	}
	endpoints := append([]string{}, a.Webhooks...)
	if a.ExportEndpoint != "" {
		endpoints = append(endpoints, a.ExportEndpoint)
	}
	for _, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("invalid endpoint %q", raw))
		}
	}

	return joinErrs(errs)
}
