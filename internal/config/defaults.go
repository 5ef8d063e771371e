package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      18789,
			QueueSize: 256,
			Workers:   4,
			HubBuffer: 64,
		},
		Agent: AgentConfig{
			Provider:    "anthropic",
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			MaxTokens:   4096,
			MaxAttempts: 3,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.clanker/history.db",
			Window:        20,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
