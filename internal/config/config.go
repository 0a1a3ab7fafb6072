package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`

	// MasterKey is a Fernet key (base64url, 32 bytes). When empty the key is
	// generated once and persisted in the settings table.
	MasterKey string `envconfig:"MASTER_KEY" default:""`

	// OwnerHeader names the request header carrying the authenticated user id.
	// It must be set by a trusted upstream; the service does not authenticate.
	OwnerHeader string `envconfig:"OWNER_HEADER" default:"X-User-ID"`

	// TrustedSources lists the IPs and CIDR ranges allowed to call the API,
	// normally the authenticating proxy. The server refuses to start with an
	// empty list; use "0.0.0.0/0,::/0" to trust every peer.
	TrustedSources []string `envconfig:"TRUSTED_SOURCES" default:"127.0.0.1/32,::1/128"`

	// TLS. With TLSSelfSigned a server certificate is generated on first
	// start and kept in the settings table, its key sealed under MasterKey.
	// TLSCertFile and TLSKeyFile take precedence when both are set.
	TLSSelfSigned bool     `envconfig:"TLS_SELF_SIGNED" default:"false"`
	TLSHosts      []string `envconfig:"TLS_HOSTS" default:"localhost"`
	TLSCertFile   string   `envconfig:"TLS_CERT_FILE" default:""`
	TLSKeyFile    string   `envconfig:"TLS_KEY_FILE" default:""`

	KeygenPath    string        `envconfig:"KEYGEN_PATH" default:"ssh-keygen"`
	KeygenTimeout time.Duration `envconfig:"KEYGEN_TIMEOUT" default:"60s"`

	// Per-owner request limits; 0 disables a limit.
	KeygenRateLimit       int           `envconfig:"KEYGEN_RATE_LIMIT" default:"10"`
	ValidateRateLimit     int           `envconfig:"VALIDATE_RATE_LIMIT" default:"60"`
	PassphraseMaxFailures int           `envconfig:"PASSPHRASE_MAX_FAILURES" default:"5"`
	PassphraseBlock       time.Duration `envconfig:"PASSPHRASE_BLOCK" default:"5m"`

	LogPath   string `envconfig:"LOG_PATH" default:""`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
}

// Load reads KEYVAULT_* environment variables.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process("KEYVAULT", &s); err != nil {
		return Settings{}, fmt.Errorf("load config: %w", err)
	}
	return s, nil
}

// ResolvedDatabasePath returns DatabasePath, falling back to a file under DataPath.
func (s Settings) ResolvedDatabasePath() string {
	if s.DatabasePath != "" {
		return s.DatabasePath
	}
	return filepath.Join(s.DataPath, "keyvault.db")
}

// TLSEnabled reports whether the server should listen with TLS.
func (s Settings) TLSEnabled() bool {
	return s.TLSSelfSigned || (s.TLSCertFile != "" && s.TLSKeyFile != "")
}

// ResolvedLogPath returns LogPath, falling back to a file under DataPath.
func (s Settings) ResolvedLogPath() string {
	if s.LogPath != "" {
		return s.LogPath
	}
	return filepath.Join(s.DataPath, "keyvault.log")
}
