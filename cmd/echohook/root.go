// Package main implements the echohook CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/config"
	"github.com/rsclarke/echohook/internal/logging"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "echohook",
	Short: "Webhook inspection service",
	Long: `echohook captures HTTP requests sent to webhook bins and stores them
for later inspection through a token-authenticated API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (env ECHOHOOK_CONFIG)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// loadConfig resolves settings from file and environment, then applies any
// flags the user set explicitly on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"listen":       &cfg.Listen,
		"backend":      &cfg.Backend,
		"db":           &cfg.DBPath,
		"redis-url":    &cfg.RedisURL,
		"redis-prefix": &cfg.RedisPrefix,
		"postgres-dsn": &cfg.PostgresDSN,
		"admin-key":    &cfg.AdminKey,
		"public-url":   &cfg.PublicURL,
		"acme-domain":  &cfg.ACME.Domain,
		"acme-email":   &cfg.ACME.Email,
		"tls-cert":     &cfg.TLS.CertFile,
		"tls-key":      &cfg.TLS.KeyFile,
	} {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	for name, dst := range map[string]*bool{
		"rate-limit":   &cfg.RateLimit,
		"acme-staging": &cfg.ACME.Staging,
	} {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}
	if flags.Lookup("default-quota") != nil && flags.Changed("default-quota") {
		cfg.DefaultQuota, _ = flags.GetInt("default-quota")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// addStoreFlags registers the flags that select and locate the storage
// backend.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("backend", "", "storage backend: memory, sqlite, redis or postgres (env ECHOHOOK_BACKEND)")
	cmd.Flags().String("db", "", "sqlite database path (env ECHOHOOK_DB)")
	cmd.Flags().String("redis-url", "", "redis connection URL (env ECHOHOOK_REDIS_URL)")
	cmd.Flags().String("redis-prefix", "", "redis key namespace (env ECHOHOOK_REDIS_PREFIX)")
	cmd.Flags().String("postgres-dsn", "", "postgres connection string (env ECHOHOOK_POSTGRES_DSN)")
}
