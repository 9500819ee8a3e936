package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "propertyescrow/docs"
	"propertyescrow/pkg/config"
	"propertyescrow/pkg/logging"
)

// @title           Property Escrow API
// @version         1.0
// @description     Escrow for tokenized property sales between a seller authority, buyer, inspector and loan provider

// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization

var rootCmd = &cobra.Command{
	Use:           "propertyescrow",
	Short:         "Property escrow service",
	Long:          "Runs the property escrow HTTP API and its operator tooling. Configuration is read from the environment and an optional .env file.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadRuntime reads configuration and builds the logger shared by every
// subcommand.
func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, dotenv, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	if !dotenv {
		logger.Debug("no .env file found, using environment variables")
	}
	return cfg, logger, nil
}
