// Package acme handles automatic TLS certificate management via ACME.
package acme

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/caddyserver/certmagic"
	certmagicsqlite "github.com/rsclarke/certmagic-sqlite"
	"go.uber.org/zap"
)

// Manager obtains and renews a certificate for a single domain using the
// HTTP-01 and TLS-ALPN-01 challenges.
type Manager struct {
	Domain  string
	Email   string
	Staging bool
	Logger  *zap.Logger

	config *certmagic.Config
	issuer *certmagic.ACMEIssuer
}

// SetLogger configures the global certmagic loggers.
// Call this before starting any HTTP servers that handle ACME challenges.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	certmagic.Default.Logger = logger
	certmagic.DefaultACME.Logger = logger
}

// SQLiteStorage keeps certificates in db alongside the key-value table.
func SQLiteStorage(db *sql.DB) (certmagic.Storage, error) {
	hostname, _ := os.Hostname()
	storage, err := certmagicsqlite.NewWithDB(db, certmagicsqlite.WithOwnerID(hostname))
	if err != nil {
		return nil, fmt.Errorf("create certmagic storage: %w", err)
	}
	return storage, nil
}

// FileStorage keeps certificates under dir.
func FileStorage(dir string) certmagic.Storage {
	return &certmagic.FileStorage{Path: dir}
}

// NewManager creates a manager for domain. storage may be nil, in which case
// certmagic's default file storage is used.
func NewManager(domain, email string, staging bool, storage certmagic.Storage, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	SetLogger(logger)

	cfg := certmagic.NewDefault()
	if storage != nil {
		cfg.Storage = storage
	}
	cfg.Logger = logger

	caURL := certmagic.LetsEncryptProductionCA
	if staging {
		caURL = certmagic.LetsEncryptStagingCA
	}

	issuer := certmagic.NewACMEIssuer(cfg, certmagic.ACMEIssuer{
		CA:     caURL,
		Email:  email,
		Agreed: true,
		Logger: logger,
	})
	cfg.Issuers = []certmagic.Issuer{issuer}

	return &Manager{
		Domain:  domain,
		Email:   email,
		Staging: staging,
		Logger:  logger,
		config:  cfg,
		issuer:  issuer,
	}
}

// Manage obtains the certificate, blocking until it is available, and keeps
// it renewed in the background.
func (m *Manager) Manage(ctx context.Context) error {
	if m.Domain == "" {
		return fmt.Errorf("acme domain is required")
	}
	if err := m.config.ManageSync(ctx, []string{m.Domain}); err != nil {
		return fmt.Errorf("manage certificate for %s: %w", m.Domain, err)
	}
	return nil
}

// HTTPChallengeHandler answers HTTP-01 challenges and passes every other
// request to next.
func (m *Manager) HTTPChallengeHandler(next http.Handler) http.Handler {
	return m.issuer.HTTPChallengeHandler(next)
}

// TLSConfig returns a TLS configuration serving the managed certificate.
// It also answers TLS-ALPN-01 challenges.
func (m *Manager) TLSConfig() *tls.Config {
	cfg := m.config.TLSConfig()
	cfg.NextProtos = []string{"h2", "http/1.1", "acme-tls/1"}
	return cfg
}
