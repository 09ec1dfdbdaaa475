package secrets

import (
	"context"
	"testing"

	"chat-relay/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledVaultFallsBackToEnvironment(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", "sk-env")

	m, err := NewVaultManager(VaultConfig{Enabled: false}, logger.Nop())
	require.NoError(t, err)
	defer m.Close()

	v, err := m.GetSecret(context.Background(), KeyUpstreamAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", v)

	v, err = m.GetSecret(context.Background(), "upstream-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", v)
}

func TestMissingSecretUsesDefault(t *testing.T) {
	t.Setenv("NOT_CONFIGURED_ANYWHERE", "")

	m, err := NewVaultManager(VaultConfig{Enabled: false}, logger.Nop())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.GetSecret(context.Background(), "not_configured_anywhere")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "not_configured_anywhere", "fallback"))
}

func TestEnabledVaultRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestStaticManager(t *testing.T) {
	s := Static{KeyUpstreamAPIKey: "sk-static"}

	v, err := s.GetSecret(context.Background(), KeyUpstreamAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-static", v)
	assert.Equal(t, "d", s.GetSecretWithDefault(context.Background(), KeyRedisPassword, "d"))
}
