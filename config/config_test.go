package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "no-such-xdg"))

	cfg, sources, err := Load(dir, "", Config{})
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Empty(t, sources.Global)
	require.Empty(t, sources.Project)
}

func TestProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "no-such-xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{
  // project override
  "block_size": 8192,
}`), 0o644))

	cfg, sources, err := Load(dir, "", Config{})
	require.NoError(t, err)
	require.Equal(t, 8192, cfg.BlockSize)
	require.Equal(t, Default().DataDir, cfg.DataDir)
	require.NotEmpty(t, sources.Project)
}

func TestCLIOverrideWinsOverProjectConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "no-such-xdg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"block_size": 8192}`), 0o644))

	cfg, _, err := Load(dir, "", Config{BlockSize: 2048})
	require.NoError(t, err)
	require.Equal(t, 2048, cfg.BlockSize)
}

func TestExplicitConfigPathMustExist(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir, filepath.Join(dir, "missing.json"), Config{})
	require.Error(t, err)
}
