package secrets

import (
	"context"
)

// Secret keys read by the service
const (
	KeyUpstreamAPIKey = "upstream_api_key"
	KeyRedisPassword  = "redis_password"
	KeyDBPassword     = "db_password"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Static is a fixed in-memory Manager
type Static map[string]string

// GetSecret returns the stored value or ErrSecretNotFound
func (s Static) GetSecret(_ context.Context, key string) (string, error) {
	if v, ok := s[key]; ok && v != "" {
		return v, nil
	}
	return "", ErrSecretNotFound
}

// GetSecretWithDefault returns the stored value or defaultValue
func (s Static) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	if v, err := s.GetSecret(ctx, key); err == nil {
		return v
	}
	return defaultValue
}
