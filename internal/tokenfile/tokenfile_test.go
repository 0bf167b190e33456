package tokenfile

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))

	return path
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeFile(t, `{
		"token": {"access_token": "access-123", "refresh_token": "refresh-456",
		          "token_type": "bearer", "expiry": "2099-01-01T00:00:00Z"},
		"meta": {"org_id": "org-1", "project_id": "proj-1", "account_id": "dbid:x", "sync_path": "/Studio/Acme"}
	}`, 0o600)

	tf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-123", tf.Token.AccessToken)
	assert.Equal(t, "refresh-456", tf.Token.RefreshToken)
	assert.True(t, tf.Token.Expiry.Equal(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, Meta{OrgID: "org-1", ProjectID: "proj-1", AccountID: "dbid:x", SyncPath: "/Studio/Acme"}, tf.Meta)
}

func TestLoad_RefreshOnly(t *testing.T) {
	path := writeFile(t, `{"token": {"refresh_token": "r"}, "meta": {"org_id": "org-1"}}`, 0o600)

	tf, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, tf.Token.AccessToken)
	assert.True(t, tf.Token.Expiry.IsZero())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
		substr  string
	}{
		{"bare token", `{"access_token":"old"}`, nil, "unknown field"},
		{"no token", `{"meta":{"org_id":"o"}}`, ErrMissingToken, ""},
		{"empty token", `{"token":{},"meta":{"org_id":"o"}}`, ErrMissingToken, ""},
		{"no org", `{"token":{"access_token":"a"}}`, ErrMissingOrg, ""},
		{"not json", `{{`, nil, "decoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content, 0o600))
			require.Error(t, err)

			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
			}

			if tt.substr != "" {
				assert.Contains(t, err.Error(), tt.substr)
			}
		})
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecode(t *testing.T) {
	tf, err := Decode(strings.NewReader(`{"token":{"access_token":"a"},"meta":{"org_id":"o"}}`))
	require.NoError(t, err)
	assert.Equal(t, "o", tf.Meta.OrgID)
}

func TestExposed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	private := writeFile(t, `{}`, 0o600)
	shared := writeFile(t, `{}`, 0o644)

	exposed, err := Exposed(private)
	require.NoError(t, err)
	assert.False(t, exposed)

	exposed, err = Exposed(shared)
	require.NoError(t, err)
	assert.True(t, exposed)

	exposed, err = Exposed("-")
	require.NoError(t, err)
	assert.False(t, exposed)
}
