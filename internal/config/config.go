// Package config implements TOML configuration loading, validation, and
// override resolution for dropsync.
package config

import "time"

// Config is the top-level configuration structure, one sub-struct per TOML
// section. Secrets never come from the file; see Secrets.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Dropbox  DropboxConfig  `toml:"dropbox"`
	Vault    VaultConfig    `toml:"vault"`
	Sync     SyncConfig     `toml:"sync"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`

	Secrets Secrets `toml:"-"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Listen          string `toml:"listen"`
	PublicURL       string `toml:"public_url"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	StateTTL        string `toml:"state_ttl"`
}

// DatabaseConfig selects the store driver. For sqlite the DSN is a file path.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// DropboxConfig holds the app registration and listing behavior.
type DropboxConfig struct {
	AppKey            string  `toml:"app_key"`
	RedirectURL       string  `toml:"redirect_url"`
	RootPath          string  `toml:"root_path"`
	APIURL            string  `toml:"api_url"`
	AuthURL           string  `toml:"auth_url"`
	TokenURL          string  `toml:"token_url"`
	PageLimit         int     `toml:"page_limit"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// VaultConfig controls token refresh timing.
type VaultConfig struct {
	RefreshSkew string `toml:"refresh_skew"`
}

// SyncConfig controls orchestrator runs.
type SyncConfig struct {
	MaxFilesPerRun int    `toml:"max_files_per_run"`
	Recursive      bool   `toml:"recursive"`
	LeaseTTL       string `toml:"lease_ttl"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls the outbound HTTP client.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Secrets are read from the environment (or a .env file) only.
type Secrets struct {
	EncryptionKey string
	LegacyKey     string
	DropboxSecret string
	StateSecret   string
}

// CLIOverrides holds values from command-line flags. Pointer fields
// distinguish "not specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string
	Listen     *string
	DSN        *string
}

// RefreshSkew returns the parsed vault.refresh_skew.
func (c *Config) RefreshSkew() time.Duration {
	return durationOr(c.Vault.RefreshSkew, defaultRefreshSkew)
}

// LeaseTTL returns the parsed sync.lease_ttl.
func (c *Config) LeaseTTL() time.Duration {
	return durationOr(c.Sync.LeaseTTL, defaultLeaseTTL)
}

// StateTTL returns how long an OAuth state token stays valid.
func (c *Config) StateTTL() time.Duration {
	return durationOr(c.Server.StateTTL, defaultStateTTL)
}

// ShutdownTimeout returns the graceful shutdown budget for serve.
func (c *Config) ShutdownTimeout() time.Duration {
	return durationOr(c.Server.ShutdownTimeout, defaultShutdownTimeout)
}

// ConnectTimeout returns the dial timeout for outbound requests.
func (c *Config) ConnectTimeout() time.Duration {
	return durationOr(c.Network.ConnectTimeout, defaultConnectTimeout)
}

// DataTimeout returns the overall timeout for a single outbound request.
func (c *Config) DataTimeout() time.Duration {
	return durationOr(c.Network.DataTimeout, defaultDataTimeout)
}

// durationOr parses value, falling back when it is empty or invalid.
// Validate has already rejected invalid values for loaded configs.
func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return d
}
