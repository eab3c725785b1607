package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/rasnes/covid-duckdb-etl/config"
	"github.com/rasnes/covid-duckdb-etl/logger"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "etl",
	Short:         "Daily COVID-19 statistics batch job",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.base.yaml", "base config file")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTablesCmd())
	rootCmd.AddCommand(newStatusCmd())
}

func isRunningOnGitHubActions() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

func initializeConfigAndLogger() (*config.Config, *slog.Logger, error) {
	log := logger.NewLogger(config.LogConfig{})
	if !isRunningOnGitHubActions() {
		// .env is optional; MOTHERDUCK_TOKEN and COVID_ overrides may come from it
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Error(fmt.Sprintf("Error loading .env file: %v", err))
			return nil, nil, err
		}
	}

	// 1. Open the base configuration file, if there is one
	var baseConfig io.Reader
	baseConfigFile, err := os.Open(configFile)
	switch {
	case err == nil:
		defer baseConfigFile.Close()
		baseConfig = baseConfigFile
	case errors.Is(err, fs.ErrNotExist):
		log.Warn(fmt.Sprintf("Base config file %s not found, using defaults", configFile))
	default:
		log.Error(fmt.Sprintf("Error opening base config file: %v", err))
		return nil, nil, err
	}

	// 2. Prepare environment-specific config reader (if needed)
	env := os.Getenv("APP_ENV")
	var envConfig io.Reader
	envConfigFilename := filepath.Join(filepath.Dir(configFile), fmt.Sprintf("config.%s.yaml", env))
	if _, err := os.Stat(envConfigFilename); env != "" && err == nil {
		envConfigFile, err := os.Open(envConfigFilename)
		if err != nil {
			log.Error(fmt.Sprintf("Error opening environment config file: %v", err))
			return nil, nil, err
		}
		defer envConfigFile.Close()
		envConfig = envConfigFile
	}

	// 3. Create the config
	cfg, err := config.NewConfig(baseConfig, envConfig, env)
	if err != nil {
		log.Error(fmt.Sprintf("Error reading config: %v", err))
		return nil, nil, err
	}

	return cfg, logger.NewLogger(cfg.Log), nil
}
