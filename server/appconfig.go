package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/legit-games/oauth2/store"
	"github.com/legit-games/oauth2/utils/cipher"
)

// AppConfig defines application configuration loaded from files and environment.
type AppConfig struct {
	Env         string         `koanf:"env"`
	LogLevel    string         `koanf:"log_level"`
	HTTP        HTTPConfig     `koanf:"http"`
	Database    DatabaseConfig `koanf:"database"`
	Valkey      ValkeyConfig   `koanf:"valkey"`
	Crypto      CryptoConfig   `koanf:"crypto"`
	Tokens      TokensConfig   `koanf:"tokens"`
	TenantsFile string         `koanf:"tenants_file"`
	Sweeper     SweeperConfig  `koanf:"sweeper"`
	Events      EventsConfig   `koanf:"events"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
	// ClientCertHeader names the header a TLS terminating proxy forwards the
	// client certificate in.
	ClientCertHeader string `koanf:"client_cert_header"`
	// InternalToken guards the CIBA decision and direct-authorize routes.
	// The routes are not registered when it is empty.
	InternalToken string `koanf:"internal_token"`
}

type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type ValkeyConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// CryptoConfig holds the token-at-rest keys: either base64 AES-256 and HMAC
// keys, or one master secret both are derived from.
type CryptoConfig struct {
	EncryptionKey string `koanf:"encryption_key"`
	HMACKey       string `koanf:"hmac_key"`
	MasterSecret  string `koanf:"master_secret"`
}

// TokensConfig selects where token bundles are kept: "database" or "buntdb".
// The buntdb store keeps bundles in File, or in memory when File is empty,
// and does not join database transactions.
type TokensConfig struct {
	Backend string `koanf:"backend"`
	File    string `koanf:"file"`
}

type SweeperConfig struct {
	Interval time.Duration `koanf:"interval"`
}

type EventsConfig struct {
	Stream string `koanf:"stream"`
}

// ErrCryptoKeysNotSet is returned when neither a master secret nor both keys are configured.
var ErrCryptoKeysNotSet = errors.New("crypto keys not set")

// LoadConfig loads the AppConfig. Loading order:
// 1) <CONFIG_DIR>/config.yaml (optional)
// 2) <CONFIG_DIR>/config.<APP_ENV>.yaml (optional), APP_ENV defaults to "local"
// 3) Environment variables with prefix IDP_ mapped using __ as nested separator, e.g. IDP_DATABASE__DSN
func LoadConfig() (*AppConfig, error) {
	k := koanf.New(".")
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}
	envName := os.Getenv("APP_ENV")
	if envName == "" {
		envName = "local"
	}
	for _, name := range []string{"config.yaml", "config." + envName + ".yaml"} {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	err := k.Load(env.Provider("IDP_", "__", func(s string) string {
		// IDP_DATABASE__DSN -> database__dsn -> database.dsn
		return strings.ToLower(strings.TrimPrefix(s, "IDP_"))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	c := AppConfig{
		Env:         envName,
		LogLevel:    "info",
		HTTP:        HTTPConfig{Addr: ":8080"},
		Database:    DatabaseConfig{Driver: "postgres"},
		Valkey:      ValkeyConfig{Addr: "localhost:6379", Prefix: store.DefaultKeyPrefix},
		Tokens:      TokensConfig{Backend: "database"},
		TenantsFile: filepath.Join(configDir, "tenants.yaml"),
		Sweeper:     SweeperConfig{Interval: 10 * time.Minute},
		Events:      EventsConfig{Stream: "idp:security_events"},
	}
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &c, nil
}

// Protector builds the token-at-rest protector from the configured keys.
func (c CryptoConfig) Protector() (*cipher.Protector, error) {
	if c.MasterSecret != "" {
		return cipher.NewProtectorFromSecret([]byte(c.MasterSecret))
	}
	if c.EncryptionKey == "" || c.HMACKey == "" {
		return nil, ErrCryptoKeysNotSet
	}
	enc, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	mac, err := base64.StdEncoding.DecodeString(c.HMACKey)
	if err != nil {
		return nil, fmt.Errorf("decode hmac key: %w", err)
	}
	return cipher.NewProtector(enc, mac)
}

// DatabaseOptions maps the database section to store options.
func (c DatabaseConfig) DatabaseOptions() store.DatabaseOptions {
	return store.DatabaseOptions{
		Driver:          c.Driver,
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}
