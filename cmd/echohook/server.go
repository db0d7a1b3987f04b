package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/caddyserver/certmagic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/acme"
	"github.com/rsclarke/echohook/internal/capture"
	"github.com/rsclarke/echohook/internal/kv"
	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/ratelimit"
	"github.com/rsclarke/echohook/internal/server"
	"github.com/rsclarke/echohook/internal/store"
	"github.com/rsclarke/echohook/internal/tokens"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API and capture listener",
	Long: `Start the echohook server. The management API and the public
/webhook/{binId} capture endpoint share one listener.

TLS Modes:
  --tls-cert + --tls-key  → static certificate
  --acme-domain           → automatic Let's Encrypt certificate (HTTP-01/TLS-ALPN)
  (neither)               → plain HTTP, for use behind a TLS-terminating proxy

Notes:
  ACME needs the domain to resolve to this host and ports 80/443 reachable.
  With the sqlite backend certificates are stored in the same database.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	addStoreFlags(serverCmd)
	serverCmd.Flags().String("listen", "", "address to listen on (env ECHOHOOK_LISTEN, default :8080)")
	serverCmd.Flags().String("admin-key", "", "secret required to issue tokens (env ECHOHOOK_ADMIN_KEY)")
	serverCmd.Flags().Int("default-quota", 0, "daily request quota for new tokens (env ECHOHOOK_DEFAULT_QUOTA)")
	serverCmd.Flags().String("public-url", "", "base URL advertised in capture URLs (env ECHOHOOK_PUBLIC_URL)")
	serverCmd.Flags().Bool("rate-limit", false, "enable per-IP rate limiting (env ECHOHOOK_RATE_LIMIT)")
	serverCmd.Flags().String("tls-cert", "", "path to TLS certificate file")
	serverCmd.Flags().String("tls-key", "", "path to TLS key file")
	serverCmd.Flags().String("acme-domain", "", "domain to obtain a certificate for via ACME")
	serverCmd.Flags().String("acme-email", "", "email for Let's Encrypt notifications")
	serverCmd.Flags().Bool("acme-staging", false, "use Let's Encrypt staging CA")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	repo := store.New(st, logger.Named("store"))
	apiSrv := &server.APIServer{
		Repo:      repo,
		Tokens:    tokens.NewManager(st, logger.Named("tokens"), cfg.DefaultQuota),
		Capture:   capture.New(repo, logger.Named("capture"), cfg.MaxBody),
		AdminKey:  cfg.AdminKey,
		PublicURL: cfg.PublicURL,
		Backend:   cfg.Backend,
		Logger:    logger.Named("api"),
	}
	if cfg.RateLimit {
		apiSrv.Limiter = ratelimit.New(rateCounter(st), logger.Named("ratelimit"))
	}
	if cfg.AdminKey == "" {
		logger.Warn("no admin key configured; token issuance is disabled")
	}

	srvCfg := server.DefaultServerConfig(cfg.Listen, apiSrv.Handler(), logger.Named("http"))

	switch {
	case cfg.TLS.CertFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		srvCfg.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	case cfg.ACME.Domain != "":
		storage, err := certStorage(st)
		if err != nil {
			return err
		}
		manager := acme.NewManager(cfg.ACME.Domain, cfg.ACME.Email, cfg.ACME.Staging, storage, logger.Named("certmagic"))

		logger.Info("starting acme certificate acquisition", logging.Domain(cfg.ACME.Domain), zap.Bool("staging", cfg.ACME.Staging))
		if err := manager.Manage(ctx); err != nil {
			return fmt.Errorf("ACME certificate acquisition: %w", err)
		}
		logger.Info("acme certificate obtained", logging.Domain(cfg.ACME.Domain))

		srvCfg.Handler = manager.HTTPChallengeHandler(srvCfg.Handler)
		srvCfg.TLSConfig = manager.TLSConfig()
	}

	srv := server.NewManagedServer("api", srvCfg)
	if err := srv.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case err := <-srv.Done():
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	return nil
}

// certStorage keeps certificates next to the data when the store is SQLite.
// Other backends fall back to certmagic's file storage.
func certStorage(st kv.Store) (certmagic.Storage, error) {
	if s, ok := st.(*kv.SQLite); ok {
		return acme.SQLiteStorage(s.DB())
	}
	return nil, nil
}
