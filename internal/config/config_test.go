package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, DefaultGamePort, cfg.Server.GamePort)
	require.Equal(t, 30, cfg.App.Timers.TurnTimeoutSec)
	require.FileExists(t, filepath.Join(dir, DefaultConfigFile))
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"server": {"game_port": 9999}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, 9999, cfg.Server.GamePort, "file value wins")
	require.Equal(t, 5, cfg.App.Timers.MatchmakingBatchSec, "untouched values keep defaults")
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{nope"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidateDefaultsPass(t *testing.T) {
	result := Validate(DefaultConfig())
	require.True(t, result.IsValid(), "errors: %v", result.Errors)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.GamePort = 0
	cfg.Server.APIPort = 99999
	cfg.App.Timers.TurnTimeoutSec = 1
	cfg.App.Logging.Level = "verbose"

	result := Validate(cfg)
	require.False(t, result.IsValid())
	require.Len(t, result.Errors, 4)
}

func TestValidatePortCollision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIPort = cfg.Server.GamePort

	result := Validate(cfg)
	require.False(t, result.IsValid())
}
