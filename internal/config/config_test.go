package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("BANKDESK_DATA_DIR", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.LLM.APIKey = "gm-test-round-trip"
	original.LLM.Temperature = 0.5
	original.Pipeline.AcceptanceThreshold = 0.75
	original.Session.IdleTTL = "1h"
	original.Storage.Backend = "sqlite"
	original.Storage.Redis.Password = "redis-secret"
	original.HTTP.AllowedOrigins = []string{"http://localhost:9999"}
	original.Telegram.Token = "bot-token-456"

	// Save
	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file does not exist after Save: %v", err)
	}

	// Reload
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Compare key fields
	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.LLM.APIKey != original.LLM.APIKey {
		t.Errorf("LLM.APIKey mismatch: %v != %v", loaded.LLM.APIKey, original.LLM.APIKey)
	}
	if loaded.LLM.Temperature != original.LLM.Temperature {
		t.Errorf("LLM.Temperature mismatch: %v != %v", loaded.LLM.Temperature, original.LLM.Temperature)
	}
	if loaded.Pipeline.AcceptanceThreshold != original.Pipeline.AcceptanceThreshold {
		t.Errorf("Pipeline.AcceptanceThreshold mismatch: %v != %v", loaded.Pipeline.AcceptanceThreshold, original.Pipeline.AcceptanceThreshold)
	}
	if loaded.Session.IdleTTL != original.Session.IdleTTL {
		t.Errorf("Session.IdleTTL mismatch: %v != %v", loaded.Session.IdleTTL, original.Session.IdleTTL)
	}
	if loaded.Storage.Backend != original.Storage.Backend {
		t.Errorf("Storage.Backend mismatch: %v != %v", loaded.Storage.Backend, original.Storage.Backend)
	}
	if loaded.Storage.Redis.Password != original.Storage.Redis.Password {
		t.Errorf("Storage.Redis.Password mismatch: %v != %v", loaded.Storage.Redis.Password, original.Storage.Redis.Password)
	}
	if len(loaded.HTTP.AllowedOrigins) != 1 || loaded.HTTP.AllowedOrigins[0] != "http://localhost:9999" {
		t.Errorf("HTTP.AllowedOrigins mismatch: %v", loaded.HTTP.AllowedOrigins)
	}
	if loaded.Telegram.Token != original.Telegram.Token {
		t.Errorf("Telegram.Token mismatch: %v != %v", loaded.Telegram.Token, original.Telegram.Token)
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults were not written: %v", err)
	}

	if cfg.LLM.Provider != "gemini" || cfg.LLM.Model != "gemini-2.5-flash-lite" {
		t.Errorf("unexpected llm defaults: %s / %s", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.3 || cfg.LLM.MaxTokens != 2048 {
		t.Errorf("unexpected generation defaults: %v / %v", cfg.LLM.Temperature, cfg.LLM.MaxTokens)
	}
	if cfg.Pipeline.AcceptanceThreshold != 0.6 || cfg.Pipeline.MaxAttempts != 2 {
		t.Errorf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Session.MaxConcurrent != 4 || cfg.Session.IdleTTL != "24h" || cfg.Session.SweepSchedule != "@every 5m" {
		t.Errorf("unexpected session defaults: %+v", cfg.Session)
	}
	if len(cfg.HTTP.AllowedOrigins) != 3 {
		t.Errorf("expected 3 default origins, got %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"log_level": "warn", "session": {"idle_ttl": "2h"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Session.IdleTTL != "2h" {
		t.Errorf("file values not applied: %s / %s", cfg.LogLevel, cfg.Session.IdleTTL)
	}
	if cfg.Session.MaxConcurrent != 4 {
		t.Errorf("expected default max_concurrent kept, got %d", cfg.Session.MaxConcurrent)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("GEMINI_API_KEY", "gm-from-env")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-from-env")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("BANKDESK_DATA_DIR", "/var/lib/bankdesk")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "gm-from-env" {
		t.Errorf("expected gemini key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Telegram.Token != "tg-from-env" || cfg.Storage.Redis.Addr != "redis:6380" || cfg.DataDir != "/var/lib/bankdesk" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	if err := SetValue(path, "llm.provider", "openai"); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" || cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("openai env overrides not applied: %q %q", cfg.LLM.APIKey, cfg.LLM.BaseURL)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Minute},
		{"90s", 90 * time.Second},
		{"24h", 24 * time.Hour},
		{"soon", time.Minute},
		{"-5m", time.Minute},
	}
	for _, tt := range tests {
		if got := Duration(tt.in, time.Minute); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify no temp file left behind
	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	// Verify the file is valid JSON
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/test"
	cfg.Pipeline.AcceptanceThreshold = 0.7

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}

	pipeline, ok := m["pipeline"].(map[string]any)
	if !ok {
		t.Fatalf("expected pipeline to be map, got %T", m["pipeline"])
	}
	if pipeline["acceptance_threshold"] != 0.7 {
		t.Errorf("expected pipeline.acceptance_threshold=0.7, got %v", pipeline["acceptance_threshold"])
	}
	// JSON numbers are float64
	if pipeline["max_attempts"] != float64(2) {
		t.Errorf("expected pipeline.max_attempts=2, got %v", pipeline["max_attempts"])
	}
	storage := m["storage"].(map[string]any)
	if redis := storage["redis"].(map[string]any); redis["prefix"] != "bankdesk" {
		t.Errorf("expected storage.redis.prefix=bankdesk, got %v", redis["prefix"])
	}
}

func writeDefaults(t *testing.T) string {
	t.Helper()
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())
	return path
}

func TestGetValue_DomainKeys(t *testing.T) {
	path := writeDefaults(t)

	tests := []struct {
		key  string
		want any
	}{
		{"pipeline.acceptance_threshold", 0.6},
		{"pipeline.turn_timeout", "2m"},
		{"session.max_concurrent", float64(4)},
		{"session.sweep_schedule", "@every 5m"},
		{"storage.backend", "file"},
		{"storage.redis.addr", "localhost:6379"},
	}
	for _, tt := range tests {
		v, err := GetValue(path, tt.key)
		if err != nil {
			t.Fatalf("GetValue(%s) failed: %v", tt.key, err)
		}
		if v != tt.want {
			t.Errorf("GetValue(%s) = %v (%T), want %v", tt.key, v, v, tt.want)
		}
	}
}

func TestGetValue_KeyMissingFromFileFallsBackToDefault(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"log_level": "warn"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	v, err := GetValue(path, "session.idle_ttl")
	if err != nil {
		t.Fatal(err)
	}
	if v != "24h" {
		t.Errorf("expected default session.idle_ttl=24h, got %v", v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := writeDefaults(t)

	_, err := GetValue(path, "pipeline.threshold")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: pipeline.threshold"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue_TypedByDefault(t *testing.T) {
	path := writeDefaults(t)

	tests := []struct {
		key   string
		value string
		want  any
	}{
		{"pipeline.acceptance_threshold", "0.75", 0.75},
		{"pipeline.max_attempts", "3", float64(3)},
		{"pipeline.turn_timeout", "90s", "90s"},
		{"session.max_concurrent", "16", float64(16)},
		{"session.sweep_schedule", "*/10 * * * *", "*/10 * * * *"},
		{"storage.backend", "redis", "redis"},
		{"storage.redis.db", "2", float64(2)},
		{"http.enabled", "false", false},
		// numeric-looking secrets stay strings
		{"telegram.token", "123456", "123456"},
		{"storage.redis.password", "0042", "0042"},
	}
	for _, tt := range tests {
		if err := SetValue(path, tt.key, tt.value); err != nil {
			t.Fatalf("SetValue(%s, %s) failed: %v", tt.key, tt.value, err)
		}
		v, err := GetValue(path, tt.key)
		if err != nil {
			t.Fatalf("GetValue(%s) failed: %v", tt.key, err)
		}
		if v != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.key, v, v, tt.want)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after edits failed: %v", err)
	}
	if cfg.Telegram.Token != "123456" || cfg.Storage.Backend != "redis" || cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("edits not visible after load: %+v", cfg)
	}
}

func TestSetValue_OriginsList(t *testing.T) {
	path := writeDefaults(t)

	if err := SetValue(path, "http.allowed_origins", "https://bank.example, http://localhost:5173"); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[0] != "https://bank.example" {
		t.Errorf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}

	if err := SetValue(path, "http.allowed_origins", `["https://only.example"]`); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 || cfg.HTTP.AllowedOrigins[0] != "https://only.example" {
		t.Errorf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestSetValue_Rejected(t *testing.T) {
	path := writeDefaults(t)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key   string
		value string
	}{
		{"pipeline.acceptance_threshold", "1.5"},
		{"pipeline.acceptance_threshold", "high"},
		{"pipeline.max_attempts", "0"},
		{"pipeline.max_attempts", "1.5"},
		{"pipeline.turn_timeout", "soon"},
		{"session.max_concurrent", "-1"},
		{"session.idle_ttl", "-5m"},
		{"session.sweep_schedule", "every so often"},
		{"storage.backend", "postgres"},
		{"llm.provider", "clippy"},
		{"log_level", "loud"},
		{"http.enabled", "maybe"},
		{"llm.max_tokens", "2.5"},
		{"custom.setting", "value"},
	}
	for _, tt := range tests {
		if err := SetValue(path, tt.key, tt.value); err == nil {
			t.Errorf("SetValue(%s, %q) accepted", tt.key, tt.value)
		}
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("rejected values changed the config file")
	}
}

func TestSetValue_PartialFileGainsKey(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"log_level": "info"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := SetValue(path, "storage.redis.prefix", "desk"); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Redis.Prefix != "desk" || cfg.Storage.Redis.Addr != "localhost:6379" {
		t.Errorf("unexpected redis config %+v", cfg.Storage.Redis)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	err := SetValue(path, "log_level", "debug")
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	// Load writes the defaults when the file is missing
	path := tempConfigPath(t)

	v, err := GetValue(path, "storage.backend")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "file" {
		t.Errorf("expected default storage.backend=file, got %v", v)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := tempConfigPath(t)
	body := `{"pipeline": {"acceptance_threshold": 2}, "storage": {"backend": "mongo"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	for _, key := range []string{"pipeline.acceptance_threshold", "storage.backend"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error does not name %s: %v", key, err)
		}
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.json")

	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}
