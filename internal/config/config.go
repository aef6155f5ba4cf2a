// Package config loads and edits the bankdesk JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LLMConfig selects and tunes the completion service.
type LLMConfig struct {
	Provider         string  `json:"provider"`
	BaseURL          string  `json:"base_url"`
	APIKey           string  `json:"api_key"`
	Model            string  `json:"model"`
	MaxTokens        int     `json:"max_tokens"`
	Temperature      float32 `json:"temperature"`
	TopP             float32 `json:"top_p"`
	TopK             float32 `json:"top_k"`
	MaxContextTokens int     `json:"max_context_tokens"`
	OutputReserve    int     `json:"output_reserve"`
	SystemPromptPath string  `json:"system_prompt_path"`
}

// PipelineConfig tunes the per-turn conversation process.
type PipelineConfig struct {
	AcceptanceThreshold float64 `json:"acceptance_threshold"`
	MaxAttempts         int     `json:"max_attempts"`
	TurnTimeout         string  `json:"turn_timeout"`
}

// SessionConfig bounds turn concurrency and session lifetime.
type SessionConfig struct {
	MaxConcurrent int    `json:"max_concurrent"`
	IdleTTL       string `json:"idle_ttl"`
	SweepSchedule string `json:"sweep_schedule"`
}

// RedisConfig locates the Redis session backend.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// StorageConfig selects the session store backend: file, sqlite or redis.
type StorageConfig struct {
	Backend    string      `json:"backend"`
	SQLitePath string      `json:"sqlite_path"`
	Redis      RedisConfig `json:"redis"`
}

// HTTPConfig configures the JSON API server.
type HTTPConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// TelegramConfig configures the Telegram channel. An empty token disables it.
type TelegramConfig struct {
	Token string `json:"token"`
}

type Config struct {
	DataDir  string         `json:"data_dir"`
	LogLevel string         `json:"log_level"`
	LLM      LLMConfig      `json:"llm"`
	Pipeline PipelineConfig `json:"pipeline"`
	Session  SessionConfig  `json:"session"`
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http"`
	Telegram TelegramConfig `json:"telegram"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".bankdesk"),
		LogLevel: "info",
	}
	cfg.LLM.Provider = "gemini"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gemini-2.5-flash-lite"
	cfg.LLM.MaxTokens = 2048
	cfg.LLM.Temperature = 0.3
	cfg.LLM.TopP = 0.95
	cfg.LLM.TopK = 40
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.Pipeline.AcceptanceThreshold = 0.6
	cfg.Pipeline.MaxAttempts = 2
	cfg.Pipeline.TurnTimeout = "2m"
	cfg.Session.MaxConcurrent = 4
	cfg.Session.IdleTTL = "24h"
	cfg.Session.SweepSchedule = "@every 5m"
	cfg.Storage.Backend = "file"
	cfg.Storage.Redis.Addr = "localhost:6379"
	cfg.Storage.Redis.Prefix = "bankdesk"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Addr = ":8000"
	cfg.HTTP.AllowedOrigins = []string{
		"https://bank-ai-react-assistant.vercel.app",
		"http://localhost:5173",
		"http://localhost:3000",
	}
	return cfg
}

// Load reads the config at path over the defaults, writing the defaults
// there when the file does not exist. Environment variables take
// precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment.
func applyEnv(cfg *Config) {
	switch cfg.LLM.Provider {
	case "gemini":
		if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
	case "openai":
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Storage.Redis.Addr = addr
	}
	if dir := os.Getenv("BANKDESK_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeRaw(path, data)
}

func writeRaw(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored under a dot-separated key in the
// config file, creating the file with defaults if needed.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	if v, ok := flatten(m)[key]; ok {
		return v, nil
	}
	if v, ok := knownKeys()[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown config key: %s", key)
}

// SetValue stores value under a dot-separated key in an existing config
// file. The text is read as the type of the key's default and checked
// before anything is written.
func SetValue(path, key, value string) error {
	def, ok := knownKeys()[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	parsed, err := decodeValue(key, value, def)
	if err != nil {
		return err
	}
	if err := Check(key, parsed); err != nil {
		return err
	}

	m, err := readRaw(path)
	if err != nil {
		return err
	}
	setPath(m, key, parsed)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, Default()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeRaw(path, data)
}

// Duration parses a duration setting, falling back when it is empty or
// invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
