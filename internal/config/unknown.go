package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each section.
var knownKeys = map[string][]string{
	"server":   {"listen", "public_url", "shutdown_timeout", "state_ttl"},
	"database": {"driver", "dsn"},
	"dropbox": {
		"app_key", "redirect_url", "root_path", "api_url", "auth_url", "token_url",
		"page_limit", "requests_per_second",
	},
	"vault":   {"refresh_skew"},
	"sync":    {"max_files_per_run", "recursive", "lease_ttl"},
	"logging": {"log_level", "log_file", "log_format", "log_retention_days"},
	"network": {"connect_timeout", "data_timeout", "user_agent"},
}

// knownSections is the sorted section list. Sorted for deterministic
// suggestions when two candidates have the same edit distance.
var knownSections = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// secretKeys may only come from the environment; naming them in the file
// gets a pointed error instead of a suggestion.
var secretKeys = map[string]string{
	"app_secret":     EnvDropboxSecret,
	"encryption_key": EnvEncryptionKey,
	"legacy_key":     EnvLegacyKey,
	"state_secret":   EnvStateSecret,
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		if err := buildKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError describes one undecoded key.
func buildKeyError(key toml.Key) error {
	if len(key) == 1 {
		if env, ok := secretKeys[key[0]]; ok {
			return fmt.Errorf("config key %q is a secret; set %s instead", key[0], env)
		}

		return unknownWithSuggestion(fmt.Sprintf("unknown config section %q", key[0]), key[0], knownSections)
	}

	if len(key) > 2 {
		// Deeper keys are covered by their undecoded parent.
		return nil
	}

	section, field := key[0], key[1]

	known, ok := knownKeys[section]
	if !ok {
		// The section itself is reported once; skip its fields.
		return nil
	}

	if env, ok := secretKeys[field]; ok {
		return fmt.Errorf("config key %q in [%s] is a secret; set %s instead", field, section, env)
	}

	sorted := append([]string(nil), known...)
	sort.Strings(sorted)

	return unknownWithSuggestion(fmt.Sprintf("unknown config key %q in [%s]", field, section), field, sorted)
}

func unknownWithSuggestion(msg, name string, candidates []string) error {
	if suggestion := closestMatch(name, candidates); suggestion != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, suggestion)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
