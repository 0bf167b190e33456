package config

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[sync]\nmax_file_per_run = 10\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "max_file_per_run" in [sync]`)
	assert.Contains(t, err.Error(), `did you mean "max_files_per_run"`)
}

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[dropbx]\napp_key = \"k\"\nroot_path = \"/x\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "dropbx"`)
	assert.Contains(t, err.Error(), `did you mean "dropbox"`)
	assert.NotContains(t, err.Error(), "app_key", "fields of an unknown section are not reported")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[logging]\ncompletely_unrelated_key = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_SecretInFile(t *testing.T) {
	path := writeTestConfig(t, "[dropbox]\napp_secret = \"s\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvDropboxSecret)

	path = writeTestConfig(t, "encryption_key = \"k\"\n")

	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvEncryptionKey)
}

func TestKnownKeysDecode(t *testing.T) {
	// Every listed key must map onto a struct field, or it would be
	// reported as unknown.
	for section, keys := range knownKeys {
		for _, key := range keys {
			value := `"x"`

			switch key {
			case "page_limit", "max_files_per_run", "log_retention_days":
				value = "1"
			case "requests_per_second":
				value = "1.5"
			case "recursive":
				value = "true"
			}

			md, err := decodeForTest("[" + section + "]\n" + key + " = " + value + "\n")
			require.NoError(t, err, "%s.%s", section, key)
			assert.Empty(t, md, "%s.%s", section, key)
		}
	}
}

func decodeForTest(content string) ([]toml.Key, error) {
	md, err := toml.Decode(content, DefaultConfig())
	if err != nil {
		return nil, err
	}

	return md.Undecoded(), nil
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"page_limt", "page_limit", 1},
		{"lease_tl", "lease_ttl", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	known := []string{"log_file", "log_format", "log_level"}
	assert.Equal(t, "log_level", closestMatch("log_levl", known))
	assert.Empty(t, closestMatch("completely_unrelated", known))
}
