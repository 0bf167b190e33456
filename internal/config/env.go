package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides and secrets.
const (
	EnvConfig        = "DROPSYNC_CONFIG"
	EnvEncryptionKey = "DROPSYNC_ENCRYPTION_KEY"
	EnvLegacyKey     = "DROPSYNC_LEGACY_KEY"
	EnvDropboxSecret = "DROPSYNC_DROPBOX_APP_SECRET"
	EnvStateSecret   = "DROPSYNC_STATE_SECRET"
	EnvDatabaseDSN   = "DROPSYNC_DATABASE_DSN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // DROPSYNC_CONFIG: override config file path
	DSN        string // DROPSYNC_DATABASE_DSN: database connection string
	Secrets    Secrets
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("loading %s: %w", path, err)
	}

	return nil
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DSN:        os.Getenv(EnvDatabaseDSN),
		Secrets: Secrets{
			EncryptionKey: os.Getenv(EnvEncryptionKey),
			LegacyKey:     os.Getenv(EnvLegacyKey),
			DropboxSecret: os.Getenv(EnvDropboxSecret),
			StateSecret:   os.Getenv(EnvStateSecret),
		},
	}
}
