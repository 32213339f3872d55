package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("AUTHSESSION_PROVIDER", "identidadv2")
	t.Setenv("AUTHSESSION_CLIENT_ID", "portal")
	t.Setenv("AUTHSESSION_REALM", "selsa")
	t.Setenv("AUTHSESSION_REDIRECT_URI", "https://portal.example.com/")
	t.Setenv("AUTHSESSION_SCOPES", "openid email")
	t.Setenv("AUTHSESSION_ACCESS_TYPE", "offline")
	t.Setenv("AUTHSESSION_IDLE_ENABLED", "true")
	t.Setenv("AUTHSESSION_IDLE_TIMEOUT", "90s")
	t.Setenv("AUTHSESSION_IDLE_REDIRECT_URL", "/expired")
	t.Setenv("AUTHSESSION_IDLE_RESET_ON", "mousemove,scroll")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ConfigVersion, cfg.Version)
	assert.Equal(t, ProviderIdentidadV2, cfg.Provider.Provider)
	assert.Equal(t, []string{"openid", "email"}, cfg.Provider.Scopes)
	assert.Equal(t, AccessTypeOffline, cfg.Provider.AccessType)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, DefaultNamespace, cfg.Storage.Namespace)
	assert.True(t, cfg.Idle.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Idle.Timeout)
	assert.Equal(t, []string{"mousemove", "scroll"}, cfg.Idle.ResetOn)
}

func TestFromEnvValidation(t *testing.T) {
	t.Setenv("AUTHSESSION_PROVIDER", "identidadv1")
	t.Setenv("AUTHSESSION_CLIENT_ID", "portal")
	t.Setenv("AUTHSESSION_REDIRECT_URI", "https://portal.example.com/")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "identidadv1 requires clientId, clientSecret and realm")
}

func TestUsage(t *testing.T) {
	usage, err := Usage()
	require.NoError(t, err)
	assert.Contains(t, usage, "AUTHSESSION_PROVIDER")
	assert.Contains(t, usage, "AUTHSESSION_IDLE_TIMEOUT")
}
