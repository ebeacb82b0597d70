package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var c Config
	applyDefaults(&c)

	require.Equal(t, "dna:registry:bootstrap", c.Bootstrap.RegistryKey)
	require.Equal(t, 20, c.Bootstrap.SeedCount)
	require.Equal(t, int64(900), c.Bootstrap.MaxAgeSeconds)
	require.Equal(t, "~/.dna/bootstrap.db", c.Bootstrap.CachePath)
	require.Equal(t, "~/.dna", c.Identity.DataDir)
	require.Equal(t, 30, c.Feed.TopicTTLDays)
	require.Equal(t, 7, c.Feed.GroupTTLDays)
	require.Equal(t, 365, c.Feed.IdentityTTLDays)
	require.Equal(t, "info", c.Logging.Level)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{}
	c.Bootstrap.RegistryKey = "custom:registry"
	c.Bootstrap.SeedCount = 5
	c.Logging.Level = "debug"

	applyDefaults(&c)

	require.Equal(t, "custom:registry", c.Bootstrap.RegistryKey)
	require.Equal(t, 5, c.Bootstrap.SeedCount)
	require.Equal(t, "debug", c.Logging.Level)
	// Untouched fields still pick up their defaults.
	require.Equal(t, int64(900), c.Bootstrap.MaxAgeSeconds)
}

func TestLoadFailsCleanlyWithNoConfigFileOnDisk(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadFromEnvFailsCleanlyWithNoConfigFileOnDisk(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DNA_ENV", "prod")
	_, err := LoadFromEnv()
	require.Error(t, err)
}
