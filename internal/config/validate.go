package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minPageLimit       = 1
	maxPageLimit       = 2000
	minMaxFilesPerRun  = 1
	minLogRetention    = 1
	minLeaseTTL        = 30 * time.Second
	minShutdownTimeout = 1 * time.Second
	minStateTTL        = 1 * time.Minute
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	minEncryptionKey   = 16
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateDropbox(&cfg.Dropbox)...)
	errs = append(errs, validateDurationNonNeg("refresh_skew", cfg.Vault.RefreshSkew)...)
	errs = append(errs, validateSync(&cfg.Sync, &cfg.Dropbox)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints on the final merged config, after
// environment and CLI overrides.
func ValidateResolved(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDatabase(&cfg.Database)...)

	if cfg.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
			errs = append(errs, fmt.Errorf("listen: %w", err))
		}
	}

	return errors.Join(errs...)
}

// RequireVault reports whether the token encryption key is usable.
func (c *Config) RequireVault() error {
	if len(c.Secrets.EncryptionKey) < minEncryptionKey {
		return fmt.Errorf("%s: must be set to at least %d characters", EnvEncryptionKey, minEncryptionKey)
	}

	return nil
}

// RequireOAuth reports whether everything needed to refresh or exchange
// Dropbox tokens is present.
func (c *Config) RequireOAuth() error {
	var errs []error

	if err := c.RequireVault(); err != nil {
		errs = append(errs, err)
	}

	if c.Dropbox.AppKey == "" {
		errs = append(errs, errors.New("app_key: must be set in [dropbox]"))
	}

	if c.Secrets.DropboxSecret == "" {
		errs = append(errs, fmt.Errorf("%s: must be set", EnvDropboxSecret))
	}

	return errors.Join(errs...)
}

// RequireServer adds the connect flow's needs to RequireOAuth.
func (c *Config) RequireServer() error {
	errs := []error{c.RequireOAuth()}

	if c.Secrets.StateSecret == "" {
		errs = append(errs, fmt.Errorf("%s: must be set", EnvStateSecret))
	}

	if c.Dropbox.RedirectURL == "" {
		errs = append(errs, errors.New("redirect_url: must be set in [dropbox]"))
	}

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.PublicURL != "" {
		errs = append(errs, validateURL("public_url", s.PublicURL)...)
	}

	errs = append(errs, validateDurationMin("shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)
	errs = append(errs, validateDurationMin("state_ttl", s.StateTTL, minStateTTL)...)

	return errs
}

var validDrivers = map[string]bool{
	"sqlite": true,
	"pgx":    true,
}

func validateDatabase(d *DatabaseConfig) []error {
	var errs []error

	if !validDrivers[d.Driver] {
		errs = append(errs, fmt.Errorf("driver: must be one of sqlite, pgx; got %q", d.Driver))
	}

	if d.DSN == "" {
		errs = append(errs, errors.New("dsn: must not be empty"))
	}

	return errs
}

func validateDropbox(d *DropboxConfig) []error {
	var errs []error

	if !strings.HasPrefix(d.RootPath, "/") {
		errs = append(errs, fmt.Errorf("root_path: must start with /, got %q", d.RootPath))
	}

	if d.PageLimit < minPageLimit || d.PageLimit > maxPageLimit {
		errs = append(errs, fmt.Errorf("page_limit: must be between %d and %d, got %d",
			minPageLimit, maxPageLimit, d.PageLimit))
	}

	if d.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second: must be >= 0, got %g", d.RequestsPerSecond))
	}

	for field, value := range map[string]string{
		"redirect_url": d.RedirectURL,
		"api_url":      d.APIURL,
		"auth_url":     d.AuthURL,
		"token_url":    d.TokenURL,
	} {
		if value != "" {
			errs = append(errs, validateURL(field, value)...)
		}
	}

	return errs
}

func validateSync(s *SyncConfig, d *DropboxConfig) []error {
	var errs []error

	if s.MaxFilesPerRun < minMaxFilesPerRun {
		errs = append(errs, fmt.Errorf("max_files_per_run: must be >= %d, got %d",
			minMaxFilesPerRun, s.MaxFilesPerRun))
	}

	// A first page larger than the cap would be truncated on every run and
	// its cursor never adopted.
	if s.MaxFilesPerRun >= minMaxFilesPerRun && d.PageLimit > s.MaxFilesPerRun {
		errs = append(errs, fmt.Errorf("page_limit: must not exceed max_files_per_run (%d), got %d",
			s.MaxFilesPerRun, d.PageLimit))
	}

	errs = append(errs, validateDurationMin("lease_ttl", s.LeaseTTL, minLeaseTTL)...)

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute URL, got %q", field, value)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}
