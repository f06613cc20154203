package urftcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urft.toml")
	contents := `
[Protocol]
  WindowSize = 4

[Logging]
  Debug = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Protocol.WindowSize)
	require.True(t, cfg.Logging.Debug)
	// Untouched fields keep their defaults.
	require.Equal(t, 1000, cfg.Protocol.TimeoutMs)
	require.Equal(t, 1450, cfg.Protocol.PayloadSize)
	require.False(t, cfg.Metrics.Enable)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urft.toml")
	require.NoError(t, os.WriteFile(path, []byte("[Protocol]\n  PayloadSize = 9999\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}
