package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "moltagent", cfg.Agent.Name)
	assert.Equal(t, 1800, cfg.Agent.HeartbeatMinSec)
	assert.Equal(t, 3600, cfg.Agent.HeartbeatMaxSec)
	assert.Equal(t, 15, cfg.Agent.ConsolidationIntervalMin)
	assert.Equal(t, 1800, cfg.Limits.PostCooldownSec)
	assert.Equal(t, 20, cfg.Limits.CommentCooldownSec)
	assert.Equal(t, 50, cfg.Limits.MaxCommentsPerDay)
	assert.Equal(t, "https://www.moltbook.com/api/v1", cfg.Moltbook.BaseURL)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Limits.MaxCommentsPerDay)
}

func TestLoadConfig_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"agent":{"name":"crabwise","heartbeat_min_sec":60},"limits":{"max_comments_per_day":10}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("MOLTAGENT_LIMITS_MAX_COMMENTS_PER_DAY", "7")
	t.Setenv("MOLTAGENT_CHANNELS_DISCORD_OWNER_ID", "4242")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "crabwise", cfg.Agent.Name)
	assert.Equal(t, 60, cfg.Agent.HeartbeatMinSec)
	assert.Equal(t, 3600, cfg.Agent.HeartbeatMaxSec, "unset fields keep defaults")
	assert.Equal(t, 7, cfg.Limits.MaxCommentsPerDay, "env wins over file")
	assert.Equal(t, "4242", cfg.Channels.Discord.OwnerID)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Agent.Name = "roundtrip"
	require.NoError(t, SaveConfig(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.Agent.Name)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".moltagent"), ExpandHome("~/.moltagent"))
	assert.Equal(t, "/var/lib/moltagent", ExpandHome("/var/lib/moltagent"))
}
