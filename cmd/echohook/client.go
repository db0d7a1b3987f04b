package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rsclarke/echohook/internal/client"
)

const defaultAPIURL = "http://localhost:8080"

type clientConfig struct {
	apiKey   string
	apiURL   string
	adminKey string
}

// addClientFlags registers connection flags on cmd and its subcommands.
func addClientFlags(cmd *cobra.Command, cfg *clientConfig) {
	cmd.PersistentFlags().StringVar(&cfg.apiKey, "api-key", os.Getenv("ECHOHOOK_API_KEY"), "API token for authentication")
	cmd.PersistentFlags().StringVar(&cfg.apiURL, "api-url", getEnv("ECHOHOOK_API_URL", defaultAPIURL), "API server URL")
}

func addAdminFlags(cmd *cobra.Command, cfg *clientConfig) {
	cmd.PersistentFlags().StringVar(&cfg.adminKey, "admin-key", os.Getenv("ECHOHOOK_ADMIN_KEY"), "admin key for issuing tokens")
	cmd.PersistentFlags().StringVar(&cfg.apiURL, "api-url", getEnv("ECHOHOOK_API_URL", defaultAPIURL), "API server URL")
}

// newClient builds a client for commands that need a bearer token.
func (cfg *clientConfig) newClient() (*client.Client, error) {
	if cfg.apiURL == "" {
		return nil, fmt.Errorf("API URL required (use --api-url flag or ECHOHOOK_API_URL env var)")
	}
	if cfg.apiKey == "" {
		return nil, fmt.Errorf("API key required (use --api-key flag or ECHOHOOK_API_KEY env var)")
	}
	return client.NewClient(cfg.apiURL, cfg.apiKey), nil
}

// newAdminClient builds a client for token issuance.
func (cfg *clientConfig) newAdminClient() (*client.Client, error) {
	if cfg.apiURL == "" {
		return nil, fmt.Errorf("API URL required (use --api-url flag or ECHOHOOK_API_URL env var)")
	}
	if cfg.adminKey == "" {
		return nil, fmt.Errorf("admin key required (use --admin-key flag or ECHOHOOK_ADMIN_KEY env var)")
	}
	c := client.NewClient(cfg.apiURL, "")
	c.AdminKey = cfg.adminKey
	return c, nil
}
