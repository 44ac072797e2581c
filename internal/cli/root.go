// Package cli provides the command-line interface for the fund alert service.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fundwatch/internal/config"
	"fundwatch/internal/feed"
	"fundwatch/internal/logging"
	"fundwatch/internal/security"
	"fundwatch/internal/store"
	"fundwatch/internal/stream"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-01-15"
)

// App holds the application dependencies shared by commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command. Configuration is loaded once the
// command line has been parsed, so --config is honoured.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{Logger: zerolog.Nop()})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fundwatch",
		Short: "Fund threshold alerts with real-time push delivery",
		Long: `fundwatch watches mutual fund estimates during the trading session and
notifies users when their rise, fall or target NAV thresholds are reached.

Run 'fundwatch serve' to start the HTTP push server and the alert scheduler.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil {
				dir, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = cfg
				app.Logger = logging.NewLoggerWithConfig(cfg.Log)
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/fundwatch)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newCheckCmd(app))
	rootCmd.AddCommand(newQuoteCmd(app))
	rootCmd.AddCommand(newSendMessageCmd(app))
	rootCmd.AddCommand(newAlertsCmd(app))
	rootCmd.AddCommand(newMessagesCmd(app))

	return rootCmd
}

// openStore opens the configured database, creating its directory.
func (app *App) openStore() (*store.SQLiteStore, error) {
	path := app.Config.Store.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return store.NewSQLiteStore(path)
}

// newReconciler builds both feed clients and the reconciler over them.
func (app *App) newReconciler() (*feed.Reconciler, *feed.QuoteClient, *feed.ConfirmationClient) {
	quotes := feed.NewQuoteClient(app.Config.Feeds, app.Logger)
	confirmations := feed.NewConfirmationClient(app.Config.Feeds, app.Logger)
	return feed.NewReconciler(quotes, confirmations, app.Logger), quotes, confirmations
}

// newRelay connects to the configured Redis relay, or returns nil when the
// relay is disabled.
func (app *App) newRelay(cmd *cobra.Command) (*stream.RedisRelay, func() error, error) {
	if !app.Config.RelayEnabled() {
		return nil, func() error { return nil }, nil
	}
	client := stream.NewRedisClient(app.Config.Redis)
	relay := stream.NewRedisRelay(client, app.Config.Redis.Channel, app.Logger)
	if err := relay.Ping(cmd.Context()); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", app.Config.Redis.Addr, err)
	}
	return relay, client.Close, nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("fundwatch v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	out.Auth.JWTSecret = security.MaskCredential(out.Auth.JWTSecret)
	out.Auth.AdminKey = security.MaskCredential(out.Auth.AdminKey)
	out.Chat.APIKey = security.MaskCredential(out.Chat.APIKey)
	out.Redis.Password = security.MaskCredential(out.Redis.Password)
	return out
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	output.Printf("  Database:        %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("Scheduler")
	output.Printf("  Interval:        %s\n", cfg.Scheduler.Interval)
	output.Printf("  Fetch Pause:     %s\n", cfg.Scheduler.FetchPause)
	output.Printf("  Cooldown:        %s\n", cfg.Scheduler.Cooldown)
	output.Printf("  Window:          %s-%s %s\n", cfg.Scheduler.WindowStart, cfg.Scheduler.WindowEnd, cfg.Scheduler.Timezone)
	output.Printf("  Workers:         %d\n", cfg.Scheduler.Workers)
	output.Println()

	output.Bold("Push")
	output.Printf("  Keep-alive:      %s\n", cfg.Push.KeepAlive)
	output.Printf("  Buffer:          %d frames\n", cfg.Push.BufferSize)
	if cfg.RelayEnabled() {
		output.Printf("  Redis Relay:     %s (%s)\n", cfg.Redis.Addr, cfg.Redis.Channel)
	} else {
		output.Printf("  Redis Relay:     disabled\n")
	}
	output.Println()

	output.Bold("Integrations")
	output.Printf("  Chat Model:      %s\n", cfg.Chat.Model)
	output.Printf("  Chat Enabled:    %v\n", cfg.Chat.APIKey != "")
	output.Printf("  Admin Key Set:   %v\n", cfg.Auth.AdminKey != "")
	output.Printf("  JWT Secret Set:  %v\n", cfg.Auth.JWTSecret != "")
	if cfg.Audit.Enabled {
		output.Printf("  Audit Log:       %s\n", cfg.Audit.Path)
	} else {
		output.Printf("  Audit Log:       disabled\n")
	}

	return nil
}
