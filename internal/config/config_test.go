// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGCHAT_HOME", dir)
	for _, env := range []string{
		"RIGCHAT_SYNC_SERVER", "RIGCHAT_DB_PATH", "RIGCHAT_LOG_LEVEL", "RIGCHAT_LOG_FILE",
		"RIGCHAT_SYSTEM_PROMPT", "RIGCHAT_MODEL", "RIGCHAT_OPENAI_API_KEY", "RIGCHAT_OPENAI_BASE_URL",
		"RIGCHAT_OFFLINE",
	} {
		t.Setenv(env, "")
	}
	return dir
}

// =============================================================================
// DEFAULTS & LOADING
// =============================================================================

func TestDefault_Valid(t *testing.T) {
	dir := isolate(t)
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Sync.IncrementalInterval())
	assert.Equal(t, 2*time.Second, cfg.Sync.AutoSyncDebounce())
	assert.Equal(t, 3*time.Second, cfg.Sync.ThreadDebounce())
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.InitialThreadDelay())
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.InitialMessageDelay())
	assert.Equal(t, 5*time.Minute, cfg.Sync.TokenRefreshMargin())
	assert.Equal(t, time.Hour, cfg.Models.CacheTTL())
	assert.Equal(t, filepath.Join(dir, "rigchat.db"), cfg.Storage.DBPath)
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Sync.IncrementalIntervalSecs)
}

func TestLoad_TOMLRoundTrip(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	cfg.Sync.ServerURL = "https://sync.example.com/"
	cfg.General.SystemPrompt = "Be brief."
	require.NoError(t, Save(cfg))

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com", loaded.Sync.ServerURL, "trailing slash trimmed")
	assert.Equal(t, "Be brief.", loaded.General.SystemPrompt)
}

func TestLoad_JSONFallback(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"logging":{"level":"debug"}}`), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3000, cfg.Sync.ThreadDebounceMs)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("RIGCHAT_SYNC_SERVER", "http://localhost:8080")
	t.Setenv("RIGCHAT_OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Sync.ServerURL)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sync]\nserver_url = \"ftp://nope\"\n"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.server_url")
}

func TestApplyEnvOverrides_Offline(t *testing.T) {
	isolate(t)
	cfg := Default()
	assert.False(t, cfg.General.Offline)

	t.Setenv("RIGCHAT_OFFLINE", "not-a-bool")
	cfg.ApplyEnvOverrides()
	assert.False(t, cfg.General.Offline)

	t.Setenv("RIGCHAT_OFFLINE", "1")
	cfg.ApplyEnvOverrides()
	assert.True(t, cfg.General.Offline)
}

func TestMigrate_AddsScheme(t *testing.T) {
	cfg := &Config{Sync: SyncConfig{ServerURL: "sync.example.com"}}
	cfg.Migrate()
	assert.Equal(t, "https://sync.example.com", cfg.Sync.ServerURL)
	assert.Equal(t, CurrentVersion, cfg.Version)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_CollectsAllErrors(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Sync.IncrementalIntervalSecs = 0
	cfg.Logging.Level = "loud"
	cfg.General.TitleGenerationModel = "no-colon"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 3)
}

// =============================================================================
// GET / SET
// =============================================================================

func TestGetSet_DotNotation(t *testing.T) {
	isolate(t)
	cfg := Default()

	require.NoError(t, cfg.Set("sync.server_url", "https://a.example"))
	require.NoError(t, cfg.Set("sync.thread_debounce_ms", "1500"))
	require.NoError(t, cfg.Set("general.title_generation_enabled", "false"))

	v, err := cfg.Get("sync.server_url")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", v)
	assert.Equal(t, 1500, cfg.Sync.ThreadDebounceMs)
	assert.False(t, cfg.General.TitleGenerationEnabled)

	_, err = cfg.Get("sync.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("sync.thread_debounce_ms", "abc"))
}

func TestGetAllKeys(t *testing.T) {
	keys := GetAllKeys()
	assert.Contains(t, keys, "sync.server_url")
	assert.Contains(t, keys, "models.cache_ttl_mins")
	assert.Contains(t, keys, "version")
}

func TestRedacted(t *testing.T) {
	cfg := &Config{Provider: ProviderConfig{APIKey: "sk-proj-abcdefghijkl"}}
	assert.Equal(t, "sk-p...ijkl", cfg.Redacted().Provider.APIKey)
	assert.Equal(t, "sk-proj-abcdefghijkl", cfg.Provider.APIKey)
	assert.NotContains(t, cfg.String(), "abcdefgh")
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	got := make(chan *Config, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, nil, func(c *Config) { got <- c })
	require.NoError(t, err)
	require.NoError(t, w.Watch())
	defer w.Close()

	cfg := Default()
	cfg.General.SystemPrompt = "reloaded"
	require.NoError(t, SaveTOML(cfg, path))

	select {
	case c := <-got:
		assert.Equal(t, "reloaded", c.General.SystemPrompt)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}
