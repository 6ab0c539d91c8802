package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnvOverlay(t *testing.T) {
	t.Setenv("NERVUSDB_DEBUG_NATIVE", "1")
	t.Setenv("NERVUSDB_MAX_INTERMEDIATE_ROWS", "42")
	c := LoadFromEnv()
	require.True(t, c.DebugNative)
	require.Equal(t, 42, c.MaxIntermediateRows)
	require.True(t, Debug())
}

func TestLoadFileOverlay(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "nervusdb-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("soft_timeout_ms: 500\nmax_collection_items: 7\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, err := LoadFile(f.Name())
	require.NoError(t, err)
	require.Equal(t, 500, c.SoftTimeoutMs)
	require.Equal(t, 7, c.MaxCollectionItems)
	require.Equal(t, Default().PageCachePages, c.PageCachePages)
}

func TestValidateRejectsNonPositive(t *testing.T) {
	c := Default()
	c.SoftTimeoutMs = 0
	require.Error(t, c.Validate())
}
