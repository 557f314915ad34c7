package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for shopbot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Meta     MetaConfig     `json:"meta"`
	Telegram TelegramConfig `json:"telegram"`
	Provider ProviderConfig `json:"provider"`
	Store    StoreConfig    `json:"store"`
	Dispatch DispatchConfig `json:"dispatch"`
	Payment  PaymentConfig  `json:"payment"`
}

type GeneralConfig struct {
	LogLevel   string `json:"logLevel"`             // debug | info | warn | error
	ProfileDir string `json:"profileDir,omitempty"` // capability prompt overrides (YAML)
}

type ServerConfig struct {
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
	// DebounceMs is the per-customer coalescing window before routing.
	// 0 routes every message immediately.
	DebounceMs int `json:"debounceMs"`
}

// MetaConfig holds the Messenger platform settings. Page access tokens live
// on the page rows, not here.
type MetaConfig struct {
	VerifyToken string `json:"verifyToken"`
	AppSecret   string `json:"appSecret,omitempty"`
	GraphAPI    string `json:"graphApi,omitempty"` // default https://graph.facebook.com/v21.0
}

type TelegramConfig struct {
	Enabled bool `json:"enabled"`
}

type ProviderConfig struct {
	APIKey      string  `json:"apiKey"`
	APIBase     string  `json:"apiBase,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	TimeoutSec  int     `json:"timeoutSeconds,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type DispatchConfig struct {
	BufferSize int `json:"bufferSize"`
	Workers    int `json:"workers"`
	TimeoutSec int `json:"timeoutSeconds"` // per-dispatch budget for one capability
}

type PaymentConfig struct {
	StripeKey string `json:"stripeKey,omitempty"`
	APIBase   string `json:"apiBase,omitempty"` // default https://api.stripe.com
}

// DefaultConfigDir returns ~/.shopbot.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shopbot"
	}
	return filepath.Join(home, ".shopbot")
}

// DefaultConfigPath returns ~/.shopbot/config.json.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Defaults returns a config with sane values for local development.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Port:        8080,
			WebhookPath: "/webhook",
			DebounceMs:  0,
		},
		Meta: MetaConfig{
			GraphAPI: "https://graph.facebook.com/v21.0",
		},
		Provider: ProviderConfig{
			APIBase:     "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-2.0-flash",
			Temperature: 0.4,
			MaxTokens:   2048,
			TimeoutSec:  60,
		},
		Store: StoreConfig{
			DBPath: filepath.Join(DefaultConfigDir(), "shopbot.db"),
		},
		Dispatch: DispatchConfig{
			BufferSize: 100,
			Workers:    8,
			TimeoutSec: 90,
		},
		Payment: PaymentConfig{
			APIBase: "https://api.stripe.com",
		},
	}
}

// Load reads a config file, substitutes ${VAR} / ${VAR:-default} from the
// environment and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = expandPath(cfg.Store.DBPath)
	cfg.General.ProfileDir = expandPath(cfg.General.ProfileDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment value. ${VAR:-default}
// falls back to the default when VAR is unset or empty; a plain ${VAR} with
// no value is left untouched so validation can point at it.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if len(groups) >= 3 && groups[2] != "" {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Validate checks ranges and required fields.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.Server.DebounceMs < 0 {
		errs = append(errs, "server.debounceMs must be >= 0")
	}

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Provider.APIBase == "" {
		errs = append(errs, "provider.apiBase is required")
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 2 {
		errs = append(errs, "provider.temperature must be between 0 and 2")
	}
	if cfg.Provider.TimeoutSec < 1 {
		errs = append(errs, "provider.timeoutSeconds must be >= 1")
	}

	if cfg.Dispatch.BufferSize < 1 {
		errs = append(errs, "dispatch.bufferSize must be >= 1")
	}
	if cfg.Dispatch.Workers < 1 || cfg.Dispatch.Workers > 256 {
		errs = append(errs, "dispatch.workers must be between 1 and 256")
	}
	if cfg.Dispatch.TimeoutSec < 1 {
		errs = append(errs, "dispatch.timeoutSeconds must be >= 1")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
