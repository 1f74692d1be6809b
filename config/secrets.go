package config

import (
	"context"
	"fmt"
	"os"
)

// SecretStore resolves secrets such as DSNs and ticket keys.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, defaultValue string) string
}

// EnvironmentSecretStore reads secrets from the process environment.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("secret %s not set", key)
	}
	return v, nil
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	if v, err := s.Get(ctx, key); err == nil {
		return v
	}
	return defaultValue
}

// ResolveSecrets fills empty secret fields from store.
func (c *Config) ResolveSecrets(ctx context.Context, store SecretStore) {
	if c.Platform.TicketSecret == "" {
		c.Platform.TicketSecret = store.GetWithDefault(ctx, "STEAMKIT_TICKET_SECRET", "")
	}
	if c.Storage.Redis.Password == "" {
		c.Storage.Redis.Password = store.GetWithDefault(ctx, "STEAMKIT_REDIS_PASSWORD", "")
	}
	if c.Storage.Adapter == "sql" {
		c.Storage.SQL.DSN = store.GetWithDefault(ctx, "STEAMKIT_SQL_DSN", c.Storage.SQL.DSN)
	}
}
