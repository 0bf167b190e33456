// Package tokenfile reads Dropbox credentials handed over as a JSON file.
// Operators use it to import connections issued outside the connect flow,
// for example when migrating from another deployment.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/oauth2"
)

// groupOtherPerms are the permission bits that must be clear on a file
// holding credentials.
const groupOtherPerms = 0o077

// Sentinel errors for malformed files.
var (
	ErrMissingToken = errors.New("tokenfile: missing token field")
	ErrMissingOrg   = errors.New("tokenfile: missing meta.org_id")
)

// Meta scopes the imported connection.
type Meta struct {
	OrgID     string `json:"org_id"`
	ProjectID string `json:"project_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	SyncPath  string `json:"sync_path,omitempty"`
}

// File is the import format: an OAuth token plus its scope.
//
//	{"token": {"access_token": "...", "refresh_token": "...", "expiry": "..."},
//	 "meta": {"org_id": "...", "project_id": "..."}}
type File struct {
	Token *oauth2.Token `json:"token"`
	Meta  Meta          `json:"meta"`
}

// Load reads and validates a token file. "-" reads standard input.
func Load(path string) (*File, error) {
	if path == "-" {
		return Decode(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tokenfile: opening %s: %w", path, err)
	}
	defer f.Close()

	tf, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}

	return tf, nil
}

// Decode parses and validates a token file from r.
func Decode(r io.Reader) (*File, error) {
	var tf File

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding: %w", err)
	}

	if tf.Token == nil || (tf.Token.AccessToken == "" && tf.Token.RefreshToken == "") {
		return nil, ErrMissingToken
	}

	if tf.Meta.OrgID == "" {
		return nil, ErrMissingOrg
	}

	return &tf, nil
}

// Exposed reports whether the file at path is readable by group or others.
func Exposed(path string) (bool, error) {
	if path == "-" {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("tokenfile: stat %s: %w", path, err)
	}

	return info.Mode().Perm()&groupOtherPerms != 0, nil
}
