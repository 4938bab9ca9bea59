package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"doppa/internal/config"
	"doppa/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logrus.Fatalf("Command failed: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "doppa",
		Short:         "Conflate OSM and FKB building footprints into one dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	flags.String("db-url", "", "PostgreSQL connection url for the release catalog")
	flags.String("redis-url", "", "Redis connection url for the feature store")
	flags.String("output-dir", "datasets/output", "Root directory for written partitions")
	bindFlags(root, map[string]string{
		"LOG_LEVEL":  "log-level",
		"LOG_FORMAT": "log-format",
		"DB_URL":     "db-url",
		"REDIS_URL":  "redis-url",
		"OUTPUT_DIR": "output-dir",
	})

	root.AddCommand(newConflateCommand(), newServeCommand(), newReleaseCommand())
	return root
}

// bindFlags maps config keys onto the named persistent or local flags
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			logrus.Fatalf("Failed to bind flag %s: %v", name, err)
		}
	}
}

// loadConfiguration reads the config and sets up logging from it
func loadConfiguration() (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return cfg, err
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	return cfg, nil
}
