package config

import (
	"path/filepath"
	"time"
)

// Default values for configuration options.
const (
	defaultListen           = "127.0.0.1:8080"
	defaultShutdownTimeout  = 30 * time.Second
	defaultStateTTL         = 10 * time.Minute
	defaultDriver           = "sqlite"
	defaultDBFile           = "dropsync.db"
	defaultRootPath         = "/"
	defaultPageLimit        = 2000
	defaultRequestsPerSec   = 10.0
	defaultRefreshSkew      = 5 * time.Minute
	defaultMaxFilesPerRun   = 5000
	defaultLeaseTTL         = 10 * time.Minute
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
	defaultConnectTimeout   = 10 * time.Second
	defaultDataTimeout      = 60 * time.Second
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          defaultListen,
			ShutdownTimeout: defaultShutdownTimeout.String(),
			StateTTL:        defaultStateTTL.String(),
		},
		Database: DatabaseConfig{
			Driver: defaultDriver,
			DSN:    defaultDSN(),
		},
		Dropbox: DropboxConfig{
			RootPath:          defaultRootPath,
			PageLimit:         defaultPageLimit,
			RequestsPerSecond: defaultRequestsPerSec,
		},
		Vault: VaultConfig{
			RefreshSkew: defaultRefreshSkew.String(),
		},
		Sync: SyncConfig{
			MaxFilesPerRun: defaultMaxFilesPerRun,
			Recursive:      true,
			LeaseTTL:       defaultLeaseTTL.String(),
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout.String(),
			DataTimeout:    defaultDataTimeout.String(),
		},
	}
}

// defaultDSN places the SQLite database in the platform data directory.
func defaultDSN() string {
	dir := DefaultDataDir()
	if dir == "" {
		return defaultDBFile
	}

	return filepath.Join(dir, defaultDBFile)
}
