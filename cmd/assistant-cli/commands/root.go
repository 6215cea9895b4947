package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/bootstrap"
	"github.com/noah-isme/sma-adp-assistant/pkg/config"
	"github.com/noah-isme/sma-adp-assistant/pkg/logger"
)

var (
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "assistant-cli",
	Short: "School records assistant",
	Long: `Ask questions about the student database in natural language.

Configuration is read from the environment and an optional .env file,
the same way the API server reads it.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT cancels the turn in flight.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	rootCmd.AddCommand(chatCmd, askCmd, seedCmd)
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	cfg.Log.Level = logLevel
	cfg.Log.Format = "console"
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}

func openApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, logr, err := loadConfig()
	if err != nil {
		return nil, err
	}
	app, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		return nil, err
	}
	app.Chat.Start()
	return app, nil
}
