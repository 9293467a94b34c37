// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigchat/internal/util"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = "1"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	General  GeneralConfig  `toml:"general" json:"general"`
	Provider ProviderConfig `toml:"provider" json:"provider"`
	Sync     SyncConfig     `toml:"sync" json:"sync"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Logging  LoggingConfig  `toml:"logging" json:"logging"`
	Models   ModelsConfig   `toml:"models" json:"models"`
}

// GeneralConfig holds chat behaviour defaults. These seed the synced
// advanced settings on first run.
type GeneralConfig struct {
	SystemPrompt           string `toml:"system_prompt" json:"system_prompt"`
	TitleGenerationEnabled bool   `toml:"title_generation_enabled" json:"title_generation_enabled"`
	// "instanceId:modelId"; empty uses the known provider default
	TitleGenerationModel string `toml:"title_generation_model" json:"title_generation_model"`
	// Offline limits providers and sync to localhost and disables web search.
	Offline bool `toml:"offline" json:"offline"`
}

// ProviderConfig describes the bootstrap provider instance and the
// default selection for new chats.
type ProviderConfig struct {
	DefaultInstance string `toml:"default_instance" json:"default_instance"`
	DefaultModel    string `toml:"default_model" json:"default_model"`
	APIKey          string `toml:"api_key" json:"api_key"`
	BaseURL         string `toml:"base_url" json:"base_url"`
	TimeoutSecs     int    `toml:"timeout_secs" json:"timeout_secs"`
}

// SyncConfig contains the sync server location and timing knobs.
type SyncConfig struct {
	ServerURL               string `toml:"server_url" json:"server_url"`
	IncrementalIntervalSecs int    `toml:"incremental_interval_secs" json:"incremental_interval_secs"`
	AutoSyncDebounceMs      int    `toml:"auto_sync_debounce_ms" json:"auto_sync_debounce_ms"`
	ThreadDebounceMs        int    `toml:"thread_debounce_ms" json:"thread_debounce_ms"`
	InitialThreadDelayMs    int    `toml:"initial_thread_delay_ms" json:"initial_thread_delay_ms"`
	InitialMessageDelayMs   int    `toml:"initial_message_delay_ms" json:"initial_message_delay_ms"`
	TokenRefreshMarginSecs  int    `toml:"token_refresh_margin_secs" json:"token_refresh_margin_secs"`
	RequestTimeoutSecs      int    `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	DBPath string `toml:"db_path" json:"db_path"`
}

// LoggingConfig controls the stderr level and the optional JSON log file.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file" json:"file"`
}

// ModelsConfig controls the provider model list cache.
type ModelsConfig struct {
	CacheTTLMins        int `toml:"cache_ttl_mins" json:"cache_ttl_mins"`
	RefreshIntervalMins int `toml:"refresh_interval_mins" json:"refresh_interval_mins"`
}

// IncrementalInterval is the changes-since polling period.
func (s SyncConfig) IncrementalInterval() time.Duration {
	return time.Duration(s.IncrementalIntervalSecs) * time.Second
}

// AutoSyncDebounce is the settings push debounce window.
func (s SyncConfig) AutoSyncDebounce() time.Duration {
	return time.Duration(s.AutoSyncDebounceMs) * time.Millisecond
}

// ThreadDebounce is the thread and message push debounce window.
func (s SyncConfig) ThreadDebounce() time.Duration {
	return time.Duration(s.ThreadDebounceMs) * time.Millisecond
}

// InitialThreadDelay is the pause between thread pushes during initial sync.
func (s SyncConfig) InitialThreadDelay() time.Duration {
	return time.Duration(s.InitialThreadDelayMs) * time.Millisecond
}

// InitialMessageDelay is the pause between message pushes during initial sync.
func (s SyncConfig) InitialMessageDelay() time.Duration {
	return time.Duration(s.InitialMessageDelayMs) * time.Millisecond
}

// TokenRefreshMargin is how close to expiry an access token gets refreshed.
func (s SyncConfig) TokenRefreshMargin() time.Duration {
	return time.Duration(s.TokenRefreshMarginSecs) * time.Second
}

// RequestTimeout bounds a single sync HTTP request.
func (s SyncConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// CacheTTL is how long a cached model list stays fresh.
func (m ModelsConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLMins) * time.Minute
}

// RefreshInterval is the background model list refresh period.
func (m ModelsConfig) RefreshInterval() time.Duration {
	return time.Duration(m.RefreshIntervalMins) * time.Minute
}

// Timeout bounds a provider request that is not a stream.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	dbPath := ""
	if dir, err := ConfigDir(); err == nil {
		dbPath = filepath.Join(dir, "rigchat.db")
	}

	return &Config{
		Version: CurrentVersion,
		General: GeneralConfig{
			TitleGenerationEnabled: true,
		},
		Provider: ProviderConfig{
			DefaultInstance: "default",
			TimeoutSecs:     120,
		},
		Sync: SyncConfig{
			IncrementalIntervalSecs: 30,
			AutoSyncDebounceMs:      2000,
			ThreadDebounceMs:        3000,
			InitialThreadDelayMs:    500,
			InitialMessageDelayMs:   200,
			TokenRefreshMarginSecs:  300,
			RequestTimeoutSecs:      30,
		},
		Storage: StorageConfig{
			DBPath: dbPath,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
		Models: ModelsConfig{
			CacheTTLMins:        60,
			RefreshIntervalMins: 30,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory. RIGCHAT_HOME
// overrides the default ~/.rigchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// SECURITY: Config files hold provider API keys; keep them 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.rigchat/config.toml, then config.json, then falls back to
// defaults. Environment overrides are applied last. A file that fails to
// parse is reported alongside the default config.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
				cfg = Default()
			} else {
				return finish(cfg)
			}
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
				cfg = Default()
			} else {
				return finish(cfg)
			}
		}
	}

	cfg, err := finish(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.Migrate()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with a short header.
// SECURITY: Written 0600 (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# rigchat configuration file\n")
	b.WriteString("# Generated by rigchat - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON.
// SECURITY: Written 0600 (owner read/write only).
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	for field, raw := range map[string]string{
		"sync.server_url":   c.Sync.ServerURL,
		"provider.base_url": c.Provider.BaseURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid URL '%s'", raw)})
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unsupported scheme '%s', must be http or https", u.Scheme)})
		}
	}

	positive := []struct {
		field string
		value int
	}{
		{"sync.incremental_interval_secs", c.Sync.IncrementalIntervalSecs},
		{"sync.auto_sync_debounce_ms", c.Sync.AutoSyncDebounceMs},
		{"sync.thread_debounce_ms", c.Sync.ThreadDebounceMs},
		{"sync.token_refresh_margin_secs", c.Sync.TokenRefreshMarginSecs},
		{"sync.request_timeout_secs", c.Sync.RequestTimeoutSecs},
		{"provider.timeout_secs", c.Provider.TimeoutSecs},
		{"models.cache_ttl_mins", c.Models.CacheTTLMins},
		{"models.refresh_interval_mins", c.Models.RefreshIntervalMins},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Message: fmt.Sprintf("must be positive, got %d", p.value)})
		}
	}

	// Zero delays are allowed (no throttling), negative ones are not
	if c.Sync.InitialThreadDelayMs < 0 {
		errs = append(errs, ValidationError{Field: "sync.initial_thread_delay_ms", Message: "cannot be negative"})
	}
	if c.Sync.InitialMessageDelayMs < 0 {
		errs = append(errs, ValidationError{Field: "sync.initial_message_delay_ms", Message: "cannot be negative"})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	if c.General.TitleGenerationModel != "" && !strings.Contains(c.General.TitleGenerationModel, ":") {
		errs = append(errs, ValidationError{
			Field:   "general.title_generation_model",
			Message: "must be in the form instanceId:modelId",
		})
	}

	if c.Storage.DBPath == "" {
		errs = append(errs, ValidationError{Field: "storage.db_path", Message: "must be set"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero-value fields from Default().
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Provider.DefaultInstance == "" {
		c.Provider.DefaultInstance = d.Provider.DefaultInstance
	}
	if c.Provider.TimeoutSecs == 0 {
		c.Provider.TimeoutSecs = d.Provider.TimeoutSecs
	}
	if c.Sync.IncrementalIntervalSecs == 0 {
		c.Sync.IncrementalIntervalSecs = d.Sync.IncrementalIntervalSecs
	}
	if c.Sync.AutoSyncDebounceMs == 0 {
		c.Sync.AutoSyncDebounceMs = d.Sync.AutoSyncDebounceMs
	}
	if c.Sync.ThreadDebounceMs == 0 {
		c.Sync.ThreadDebounceMs = d.Sync.ThreadDebounceMs
	}
	if c.Sync.TokenRefreshMarginSecs == 0 {
		c.Sync.TokenRefreshMarginSecs = d.Sync.TokenRefreshMarginSecs
	}
	if c.Sync.RequestTimeoutSecs == 0 {
		c.Sync.RequestTimeoutSecs = d.Sync.RequestTimeoutSecs
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = d.Storage.DBPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Models.CacheTTLMins == 0 {
		c.Models.CacheTTLMins = d.Models.CacheTTLMins
	}
	if c.Models.RefreshIntervalMins == 0 {
		c.Models.RefreshIntervalMins = d.Models.RefreshIntervalMins
	}
}

// Migrate upgrades older config layouts in place.
func (c *Config) Migrate() {
	if c.Version == "" || c.Version == "0" {
		// Pre-versioned files stored the server URL without a scheme
		if c.Sync.ServerURL != "" && !strings.Contains(c.Sync.ServerURL, "://") {
			c.Sync.ServerURL = "https://" + c.Sync.ServerURL
		}
		c.Version = CurrentVersion
	}
	c.Sync.ServerURL = strings.TrimRight(c.Sync.ServerURL, "/")
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGCHAT_SYNC_SERVER: overrides sync.server_url
//   - RIGCHAT_DB_PATH: overrides storage.db_path
//   - RIGCHAT_LOG_LEVEL: overrides logging.level
//   - RIGCHAT_LOG_FILE: overrides logging.file
//   - RIGCHAT_SYSTEM_PROMPT: overrides general.system_prompt
//   - RIGCHAT_MODEL: overrides provider.default_model
//   - RIGCHAT_OPENAI_API_KEY: overrides provider.api_key
//   - RIGCHAT_OPENAI_BASE_URL: overrides provider.base_url
//   - RIGCHAT_OFFLINE: overrides general.offline (any strconv.ParseBool value)
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"RIGCHAT_SYNC_SERVER", &c.Sync.ServerURL},
		{"RIGCHAT_DB_PATH", &c.Storage.DBPath},
		{"RIGCHAT_LOG_LEVEL", &c.Logging.Level},
		{"RIGCHAT_LOG_FILE", &c.Logging.File},
		{"RIGCHAT_SYSTEM_PROMPT", &c.General.SystemPrompt},
		{"RIGCHAT_MODEL", &c.Provider.DefaultModel},
		{"RIGCHAT_OPENAI_API_KEY", &c.Provider.APIKey},
		{"RIGCHAT_OPENAI_BASE_URL", &c.Provider.BaseURL},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
	if v := os.Getenv("RIGCHAT_OFFLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.General.Offline = b
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "sync.server_url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := strings.Split(f.Tag.Get("toml"), ",")[0]
			if name == "" {
				continue
			}
			if prefix != "" {
				name = prefix + "." + name
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, name)
				continue
			}
			keys = append(keys, name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// Redacted returns a copy safe to print: the provider API key is masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if k := cp.Provider.APIKey; k != "" {
		if len(k) > 8 {
			cp.Provider.APIKey = k[:4] + "..." + k[len(k)-4:]
		} else {
			cp.Provider.APIKey = "****"
		}
	}
	return &cp
}

// String renders the redacted config as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("config encode error: %v", err)
	}
	return b.String()
}
