// Package config loads and validates the gateway configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"clanker/internal/provider"
)

// Config is the root configuration for the gateway.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Agent    AgentConfig    `json:"agent"`
	Channels ChannelsConfig `json:"channels"`
	History  HistoryConfig  `json:"history"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig configures the HTTP/WebSocket surface and routing internals.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	QueueSize      int      `json:"queueSize"`      // inbound queue capacity
	Workers        int      `json:"workers"`        // router worker count
	HubBuffer      int      `json:"hubBuffer"`      // per-subscriber broadcast buffer
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// AgentConfig selects and configures the completion provider.
type AgentConfig struct {
	Provider    string `json:"provider"` // anthropic | openai | grok | groq | zai | placeholder
	Model       string `json:"model,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
	APIKeyEnv   string `json:"apiKeyEnv,omitempty"` // env var holding the key, preferred over apiKey
	BaseURL     string `json:"baseUrl,omitempty"`
	MaxTokens   int    `json:"maxTokens,omitempty"`
	MaxAttempts int    `json:"maxAttempts,omitempty"` // completion retry budget
}

// ResolveAPIKey returns the API key, preferring the env var when configured.
func (a AgentConfig) ResolveAPIKey() string {
	if a.APIKeyEnv != "" {
		if v := os.Getenv(a.APIKeyEnv); v != "" {
			return v
		}
	}
	return a.APIKey
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token,omitempty"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty"`
	ParseMode string         `json:"parseMode,omitempty"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to a specific guild
}

// HistoryConfig configures conversation persistence.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	Window        int    `json:"window"`        // stored messages handed to the agent
	RetentionDays int    `json:"retentionDays"` // messages older than this are pruned
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug | info | warn | error
	Format string `json:"format"` // text | json
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.clanker).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clanker"
	}
	return filepath.Join(home, ".clanker")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets a handful of CLANKER_* variables override the file,
// so containers can run without editing config.json.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLANKER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CLANKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CLANKER_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("CLANKER_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("CLANKER_DISCORD_BOT_TOKEN"); v != "" {
		cfg.Channels.Discord.Enabled = true
		cfg.Channels.Discord.Token = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.QueueSize < 1 {
		errs = append(errs, "server.queueSize must be >= 1")
	}
	if cfg.Server.Workers < 1 || cfg.Server.Workers > 64 {
		errs = append(errs, "server.workers must be between 1 and 64")
	}

	if cfg.Agent.Provider != "placeholder" && !provider.IsSupported(cfg.Agent.Provider) {
		errs = append(errs, fmt.Sprintf("agent.provider must be one of: %s, placeholder",
			strings.Join(provider.Supported(), ", ")))
	}
	if provider.IsSupported(cfg.Agent.Provider) && cfg.Agent.ResolveAPIKey() == "" {
		errs = append(errs, fmt.Sprintf("agent: no API key for provider %s (set agent.apiKey, agent.apiKeyEnv, or CLANKER_API_KEY)", cfg.Agent.Provider))
	}
	if cfg.Agent.MaxAttempts < 1 || cfg.Agent.MaxAttempts > 10 {
		errs = append(errs, "agent.maxAttempts must be between 1 and 10")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram: token is required when enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord: token is required when enabled")
	}

	if cfg.History.Enabled {
		if cfg.History.Window < 0 {
			errs = append(errs, "history.window must be >= 0")
		}
		if cfg.History.RetentionDays < 1 {
			errs = append(errs, "history.retentionDays must be >= 1")
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be one of: text, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
