package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"faceattend/internal/app"
	"faceattend/internal/config"
	"faceattend/internal/logger"
)

var cfg config.App

var rootCmd = &cobra.Command{
	Use:   "faceattend-admin",
	Short: "Administrative commands for faceattend",
	Long: `faceattend-admin runs maintenance tasks against the configured backends:
database migrations, embedding cache management, token issuance and
attendance reports. Configuration is read from the environment and .env.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	cfg = config.Load()
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogFile); err != nil {
		log.Warnf("logger init failed: %v", err)
	}
}

// openApp opens the backends without migrating; commands decide that themselves.
func openApp(ctx context.Context) (*app.App, error) {
	c := cfg
	c.MigrateOnStart = false
	return app.Open(ctx, c, log.StandardLogger())
}
