package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"clanker/internal/bus"
	"clanker/internal/channel"
	"clanker/internal/config"
	"clanker/internal/domain"
	"clanker/internal/hub"
	"clanker/internal/memory"
	"clanker/internal/provider"
	"clanker/internal/router"
	"clanker/internal/server"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Pick up a local .env before anything reads the environment.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "clanker",
		Short: "Clanker: multi-channel AI chat gateway",
		Long:  "Clanker routes messages from Telegram, Discord, and WebSocket clients to an AI completion provider and routes the replies back.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.clanker/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and provider status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			agent := provider.New(agentSettings(cfg), logger)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("provider",
				"name", agent.Provider(),
				"model", agent.Model(),
				"healthy", agent.Healthy(ctx),
			)
			logger.Info("channels",
				"telegram", cfg.Channels.Telegram.Enabled,
				"discord", cfg.Channels.Discord.Enabled,
			)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. agent.provider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. agent.provider groq)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (channels + router + HTTP server)",
		Long:  "Starts all enabled channel adapters, the message router, and the HTTP/WebSocket surface. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func agentSettings(cfg *config.Config) provider.Settings {
	return provider.Settings{
		Provider:  cfg.Agent.Provider,
		Model:     cfg.Agent.Model,
		APIKey:    cfg.Agent.ResolveAPIKey(),
		BaseURL:   cfg.Agent.BaseURL,
		MaxTokens: cfg.Agent.MaxTokens,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Inbound queue (closed during graceful shutdown below).
	messageBus := bus.New(cfg.Server.QueueSize, logger)

	// Broadcast hub for WebSocket observers.
	broadcast := hub.New(cfg.Server.HubBuffer, logger)

	// Conversation history.
	var history domain.HistoryStore
	if cfg.History.Enabled {
		store, err := memory.NewSQLiteStore(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer store.Close()
		history = store
		go pruneLoop(ctx, store, cfg.History.RetentionDays)
	}

	agent := provider.New(agentSettings(cfg), logger)
	if !agent.Healthy(ctx) {
		logger.Warn("agent unhealthy at startup", "provider", agent.Provider())
	} else {
		logger.Info("agent ready", "provider", agent.Provider(), "model", agent.Model())
	}

	// Channel adapters.
	var channels []domain.Channel
	if cfg.Channels.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
		logger.Info("telegram channel enabled")
	}
	if cfg.Channels.Discord.Enabled {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
		logger.Info("discord channel enabled")
	}

	// Router.
	rt := router.New(router.Config{
		Source:        messageBus,
		Hub:           broadcast,
		Agent:         agent,
		Channels:      channels,
		History:       history,
		Logger:        logger,
		Workers:       cfg.Server.Workers,
		MaxAttempts:   cfg.Agent.MaxAttempts,
		HistoryWindow: cfg.History.Window,
	})
	// The router gets its own context so draining keeps working after the
	// shutdown signal; it is cancelled only if the grace period expires.
	rtCtx, rtCancel := context.WithCancel(context.Background())
	defer rtCancel()
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		rt.Run(rtCtx)
	}()

	// Supervise each adapter: restart crashed listeners with backoff.
	var listeners sync.WaitGroup
	for _, ch := range channels {
		listeners.Add(1)
		go func(ch domain.Channel) {
			defer listeners.Done()
			superviseListener(ctx, ch, messageBus)
		}(ch)
	}

	// HTTP/WebSocket surface.
	srv := server.New(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Version:        version,
		Sink:           messageBus,
		Hub:            broadcast,
		Agent:          agent,
		Channels:       channels,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Run(ctx, shutdownTimeout)
	}()

	logger.Info("gateway started", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	// Block until shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down gateway...")

	// Drain policy: stop intake first (adapters + HTTP), close the queue,
	// then wait for the router to finish every buffered message.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		listeners.Wait()
		<-serverDone
		messageBus.Close()
		<-routerDone
		broadcast.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		rtCancel()
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// superviseListener keeps an adapter's listen loop alive, restarting it with
// backoff after transient failures until ctx is cancelled.
func superviseListener(ctx context.Context, ch domain.Channel, sink domain.Publisher) {
	backoff := time.Second
	for {
		err := ch.Listen(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if ce, ok := domain.AsChannelError(err); ok && !ce.Transient() {
				logger.Error("channel failed permanently, not restarting", "channel", ch.Kind(), "err", err)
				return
			}
			logger.Error("channel listener crashed, restarting", "channel", ch.Kind(), "err", err, "backoff", backoff)
		} else {
			logger.Warn("channel listener exited, restarting", "channel", ch.Kind(), "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// pruneLoop removes expired conversation history once a day.
func pruneLoop(ctx context.Context, store domain.HistoryStore, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			if _, err := store.Prune(ctx, cutoff); err != nil {
				logger.Warn("history prune failed", "err", err)
			}
		}
	}
}
