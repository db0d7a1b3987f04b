// Package config resolves echohook's settings from defaults, an optional
// YAML file, a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Listen       string `yaml:"listen"`
	Backend      string `yaml:"backend"`
	DBPath       string `yaml:"db"`
	RedisURL     string `yaml:"redis_url"`
	RedisPrefix  string `yaml:"redis_prefix"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	AdminKey     string `yaml:"admin_key"`
	DefaultQuota int    `yaml:"default_quota"`
	RateLimit    bool   `yaml:"rate_limit"`
	PublicURL    string `yaml:"public_url"`
	MaxBody      int64  `yaml:"max_body"`

	ACME    ACMEConfig    `yaml:"acme"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LoggingConfig `yaml:"logging"`
}

// ACMEConfig enables automatic certificates for Domain.
type ACMEConfig struct {
	Domain  string `yaml:"domain"`
	Email   string `yaml:"email"`
	Staging bool   `yaml:"staging"`
}

// TLSConfig points at a static certificate pair.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Default() *Config {
	return &Config{
		Listen:       ":8080",
		Backend:      BackendSQLite,
		DBPath:       "echohook.db",
		RedisPrefix:  "echohook:",
		DefaultQuota: 1000,
		MaxBody:      10 << 20,
		Logging:      LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config. path names a YAML file; when empty ECHOHOOK_CONFIG
// is consulted, and with neither no file is read. Variables from ./.env are
// loaded first without overriding the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("ECHOHOOK_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("ECHOHOOK_LISTEN", &c.Listen)
	str("ECHOHOOK_BACKEND", &c.Backend)
	str("ECHOHOOK_DB", &c.DBPath)
	str("ECHOHOOK_REDIS_URL", &c.RedisURL)
	str("ECHOHOOK_REDIS_PREFIX", &c.RedisPrefix)
	str("DATABASE_URL", &c.PostgresDSN)
	str("ECHOHOOK_POSTGRES_DSN", &c.PostgresDSN)
	str("ECHOHOOK_ADMIN_KEY", &c.AdminKey)
	str("ECHOHOOK_PUBLIC_URL", &c.PublicURL)
	str("ECHOHOOK_ACME_DOMAIN", &c.ACME.Domain)
	str("ECHOHOOK_ACME_EMAIL", &c.ACME.Email)
	str("ECHOHOOK_TLS_CERT", &c.TLS.CertFile)
	str("ECHOHOOK_TLS_KEY", &c.TLS.KeyFile)
	str("ECHOHOOK_LOG_LEVEL", &c.Logging.Level)
	str("ECHOHOOK_LOG_FORMAT", &c.Logging.Format)
	str("ECHOHOOK_LOG_OUTPUT", &c.Logging.Output)

	if v, ok := os.LookupEnv("ECHOHOOK_DEFAULT_QUOTA"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ECHOHOOK_DEFAULT_QUOTA: %w", err)
		}
		c.DefaultQuota = n
	}
	if v, ok := os.LookupEnv("ECHOHOOK_MAX_BODY"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ECHOHOOK_MAX_BODY: %w", err)
		}
		c.MaxBody = n
	}
	for key, dst := range map[string]*bool{
		"ECHOHOOK_RATE_LIMIT":   &c.RateLimit,
		"ECHOHOOK_ACME_STAGING": &c.ACME.Staging,
	} {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the settings are coherent.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("db path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis url is required for the redis backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (want memory, sqlite, redis or postgres)", c.Backend)
	}

	if c.DefaultQuota <= 0 {
		return fmt.Errorf("default quota must be positive, got %d", c.DefaultQuota)
	}
	if c.MaxBody <= 0 {
		return fmt.Errorf("max body must be positive, got %d", c.MaxBody)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert and key must be set together")
	}
	if c.ACME.Domain != "" && c.TLS.CertFile != "" {
		return fmt.Errorf("acme and static tls certificates are mutually exclusive")
	}
	return nil
}
