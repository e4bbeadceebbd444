package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"WIKI_BACKEND", "WIKI_DSN", "WIKI_JWT_KEY", "WIKI_MEILI_URL", "WIKI_CAS_RETRIES", "WIKI_DEV", "WIKI_TOKEN_TTL"} {
		t.Setenv(k, "")
	}
	c, err := Load([]string{"read", "n1", "home"})
	require.NoError(t, err)
	require.Equal(t, BackendPostgres, c.Backend)
	require.Equal(t, 16, c.CASRetries)
	require.Equal(t, time.Hour, c.TokenTTL)
	require.Empty(t, c.MeiliURL)
	require.False(t, c.Dev)
	require.Equal(t, []string{"read", "n1", "home"}, c.Args)
}

func TestLoad_EnvAndFlags(t *testing.T) {
	t.Setenv("WIKI_BACKEND", "redis")
	t.Setenv("WIKI_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("WIKI_CAS_RETRIES", "4")
	t.Setenv("WIKI_DEV", "true")
	t.Setenv("WIKI_JWT_KEY", "from-env")

	c, err := Load([]string{"-jwt-key", "from-flag", "toc", "n1"})
	require.NoError(t, err)
	require.Equal(t, BackendRedis, c.Backend)
	require.Equal(t, "redis://cache:6379/1", c.RedisURL)
	require.Equal(t, 4, c.CASRetries)
	require.True(t, c.Dev)
	require.Equal(t, "from-flag", c.JWTKey)
	require.Equal(t, []string{"toc", "n1"}, c.Args)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("WIKI_BACKEND", "")
	_, err := Load([]string{"-backend", "sqlite"})
	require.ErrorContains(t, err, "unknown backend")

	_, err = Load([]string{"-backend", "memory", "-cas-retries", "0"})
	require.Error(t, err)

	_, err = Load([]string{"-backend", "postgres", "-dsn", ""})
	require.Error(t, err)

	_, err = Load([]string{"-no-such-flag"})
	require.Error(t, err)
}
