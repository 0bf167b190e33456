package vault

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/framehouse/dropsync/internal/store"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// memStore is an in-memory ConnectionStore.
type memStore struct {
	conns   []store.Connection
	updates []store.TokenUpdate
	created []*store.Connection
	revoked []string
}

func (m *memStore) ScopeConnections(_ context.Context, _, _ string) ([]store.Connection, error) {
	return m.conns, nil
}

func (m *memStore) CreateConnection(_ context.Context, c *store.Connection) error {
	c.ID = "new-conn"
	m.created = append(m.created, c)

	return nil
}

func (m *memStore) UpdateConnectionTokens(_ context.Context, _ string, u store.TokenUpdate) error {
	m.updates = append(m.updates, u)
	return nil
}

func (m *memStore) RevokeConnection(_ context.Context, id string) error {
	m.revoked = append(m.revoked, id)
	return nil
}

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newTokenServer(t *testing.T, status int, body map[string]any) *tokenServer {
	t.Helper()

	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "app-key", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		assert.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	t.Cleanup(ts.Close)

	return ts
}

func newTestVault(t *testing.T, st ConnectionStore, tokenURL string) *Vault {
	t.Helper()

	v2, err := NewV2Codec([]byte("test-master-key"))
	require.NoError(t, err)

	legacy, err := NewLegacyCodec("legacy-secret")
	require.NoError(t, err)

	cfg := &oauth2.Config{
		ClientID:     "app-key",
		ClientSecret: "app-secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}

	v := New(st, cfg, v2, slog.New(slog.DiscardHandler), WithLegacyCodec(legacy))
	v.nowFunc = func() time.Time { return testNow }

	return v
}

func encryptedConn(t *testing.T, v *Vault, access, refresh string, expires time.Time) *store.Connection {
	t.Helper()

	a, err := v.v2.Encrypt(access)
	require.NoError(t, err)

	r, err := v.v2.Encrypt(refresh)
	require.NoError(t, err)

	return &store.Connection{
		ID:                    "c1",
		OrgID:                 "org1",
		AccessTokenEncrypted:  a,
		RefreshTokenEncrypted: r,
		TokenExpiresAt:        expires,
	}
}

func TestResolveConnection(t *testing.T) {
	older := testNow.Add(-time.Hour)

	orgOld := store.Connection{ID: "org-old", OrgID: "org1", UpdatedAt: older}
	orgNew := store.Connection{ID: "org-new", OrgID: "org1", UpdatedAt: testNow}
	orgRevoked := store.Connection{ID: "org-revoked", OrgID: "org1", UpdatedAt: testNow.Add(time.Hour), RevokedAt: testNow}
	proj := store.Connection{ID: "proj", OrgID: "org1", ProjectID: "p1", UpdatedAt: testNow.Add(time.Hour)}
	otherProj := store.Connection{ID: "other", OrgID: "org1", ProjectID: "p2", UpdatedAt: testNow}
	otherOrg := store.Connection{ID: "other-org", OrgID: "org2", UpdatedAt: testNow}

	tests := []struct {
		name       string
		candidates []store.Connection
		want       string
	}{
		{"org beats project", []store.Connection{proj, orgOld}, "org-old"},
		{"newest org wins", []store.Connection{orgOld, orgNew, proj}, "org-new"},
		{"revoked ignored", []store.Connection{orgRevoked, proj}, "proj"},
		{"project fallback", []store.Connection{otherProj, proj}, "proj"},
		{"other org ignored", []store.Connection{otherOrg, proj}, "proj"},
		{"nothing", []store.Connection{otherProj, otherOrg, orgRevoked}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveConnection(tt.candidates, "org1", "p1")
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}

			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestResolve_NotConnected(t *testing.T) {
	v := newTestVault(t, &memStore{}, "http://unused")

	_, err := v.Resolve(t.Context(), "org1", "p1")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestAccessToken_DegradesThroughRepresentations(t *testing.T) {
	v := newTestVault(t, &memStore{}, "http://unused")

	legacy, err := v.legacy.Encrypt("from-legacy")
	require.NoError(t, err)

	v2, err := v.v2.Encrypt("from-v2")
	require.NoError(t, err)

	tests := []struct {
		name string
		conn store.Connection
		want string
	}{
		{"v2 first", store.Connection{AccessTokenEncrypted: v2, AccessTokenCiphertext: legacy, AccessTokenPlain: "plain"}, "from-v2"},
		{"bad v2 falls to legacy", store.Connection{AccessTokenEncrypted: "v2:garbage", AccessTokenCiphertext: legacy}, "from-legacy"},
		{"bad legacy falls to plaintext", store.Connection{AccessTokenCiphertext: "nope", AccessTokenPlain: "plain"}, "plain"},
		{"plaintext only", store.Connection{AccessTokenPlain: "plain"}, "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.AccessToken(&tt.conn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = v.AccessToken(&store.Connection{AccessTokenEncrypted: "v2:garbage"})
	require.ErrorIs(t, err, ErrNoToken)
}

func TestAccessToken_WithoutLegacyCodec(t *testing.T) {
	v := newTestVault(t, &memStore{}, "http://unused")
	legacy, err := v.legacy.Encrypt("from-legacy")
	require.NoError(t, err)

	v.legacy = nil

	got, err := v.AccessToken(&store.Connection{AccessTokenCiphertext: legacy, AccessTokenPlain: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}

func TestEnsureFresh_RefreshesExpiredToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token": "sl.new",
		"token_type":   "bearer",
		"expires_in":   14400,
	})

	st := &memStore{}
	v := newTestVault(t, st, ts.URL)
	conn := encryptedConn(t, v, "sl.old", "rt-1", testNow.Add(-time.Second))

	got, err := v.EnsureFresh(t.Context(), conn)
	require.NoError(t, err)
	assert.Equal(t, "sl.new", got)
	assert.EqualValues(t, 1, ts.calls.Load())

	require.Len(t, st.updates, 1)
	u := st.updates[0]
	assert.True(t, u.ExpiresAt.After(testNow))
	assert.Equal(t, testNow.Add(4*time.Hour-DefaultRefreshSkew), u.ExpiresAt)

	fromV2, err := v.v2.Decrypt(u.AccessTokenEncrypted)
	require.NoError(t, err)
	assert.Equal(t, "sl.new", fromV2)

	fromLegacy, err := v.legacy.Decrypt(u.AccessTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "sl.new", fromLegacy)

	assert.Equal(t, u.ExpiresAt, conn.TokenExpiresAt)
	assert.Empty(t, conn.AccessTokenPlain)
}

func TestEnsureFresh_RefreshesInsideSkew(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "sl.new", "expires_in": 14400})

	st := &memStore{}
	v := newTestVault(t, st, ts.URL)
	conn := encryptedConn(t, v, "sl.old", "rt-1", testNow.Add(2*time.Minute))

	got, err := v.EnsureFresh(t.Context(), conn)
	require.NoError(t, err)
	assert.Equal(t, "sl.new", got)
	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestEnsureFresh_FreshTokenUntouched(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "sl.new"})

	st := &memStore{}
	v := newTestVault(t, st, ts.URL)

	for _, expires := range []time.Time{testNow.Add(time.Hour), {}} {
		conn := encryptedConn(t, v, "sl.old", "rt-1", expires)

		got, err := v.EnsureFresh(t.Context(), conn)
		require.NoError(t, err)
		assert.Equal(t, "sl.old", got)
	}

	assert.Zero(t, ts.calls.Load())
	assert.Empty(t, st.updates)
}

func TestEnsureFresh_FailureLeavesTokenUnchanged(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, map[string]any{
		"error":             "invalid_grant",
		"error_description": "refresh token is invalid or revoked",
	})

	st := &memStore{}
	v := newTestVault(t, st, ts.URL)
	conn := encryptedConn(t, v, "sl.old", "rt-1", testNow.Add(-time.Second))
	before := *conn

	_, err := v.EnsureFresh(t.Context(), conn)
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.EqualValues(t, 1, ts.calls.Load())
	assert.Empty(t, st.updates)
	assert.Equal(t, before, *conn)
}

func TestEnsureFresh_NoRefreshTokenReturnsCurrent(t *testing.T) {
	st := &memStore{}
	v := newTestVault(t, st, "http://unused")

	conn := &store.Connection{ID: "c1", AccessTokenPlain: "long-lived", TokenExpiresAt: testNow.Add(-time.Hour)}

	got, err := v.EnsureFresh(t.Context(), conn)
	require.NoError(t, err)
	assert.Equal(t, "long-lived", got)
	assert.Empty(t, st.updates)
}

func TestEnsureFresh_NothingDecodable(t *testing.T) {
	v := newTestVault(t, &memStore{}, "http://unused")

	_, err := v.EnsureFresh(t.Context(), &store.Connection{ID: "c1"})
	require.ErrorIs(t, err, ErrNoToken)
}

func TestCreateConnection_EncryptsEveryFormat(t *testing.T) {
	st := &memStore{}
	v := newTestVault(t, st, "http://unused")

	c, err := v.CreateConnection(t.Context(), NewConnection{
		OrgID:        "org1",
		AccessToken:  "sl.a",
		RefreshToken: "rt",
		ExpiresAt:    testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, st.created, 1)
	assert.Equal(t, "new-conn", c.ID)
	assert.Empty(t, c.AccessTokenPlain)
	assert.Empty(t, c.RefreshTokenPlain)

	access, err := v.AccessToken(c)
	require.NoError(t, err)
	assert.Equal(t, "sl.a", access)

	fromLegacy, err := v.legacy.Decrypt(c.RefreshTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "rt", fromLegacy)

	_, err = v.CreateConnection(t.Context(), NewConnection{OrgID: "org1"})
	require.Error(t, err)

	_, err = v.CreateConnection(t.Context(), NewConnection{AccessToken: "x"})
	require.Error(t, err)
}

func TestRevoke(t *testing.T) {
	st := &memStore{}
	v := newTestVault(t, st, "http://unused")

	require.NoError(t, v.Revoke(t.Context(), "c1"))
	assert.Equal(t, []string{"c1"}, st.revoked)
}

func TestTokenTTL(t *testing.T) {
	now := func() time.Time { return testNow }

	withSecs := (&oauth2.Token{}).WithExtra(map[string]any{"expires_in": float64(3600)})
	assert.Equal(t, time.Hour, tokenTTL(withSecs, now))

	withString := (&oauth2.Token{}).WithExtra(map[string]any{"expires_in": "600"})
	assert.Equal(t, 10*time.Minute, tokenTTL(withString, now))
	assert.Equal(t, 30*time.Minute, tokenTTL(&oauth2.Token{Expiry: testNow.Add(30 * time.Minute)}, now))
	assert.Equal(t, DefaultTokenTTL, tokenTTL(&oauth2.Token{}, now))
}

func TestExpiryFor(t *testing.T) {
	assert.Equal(t, testNow.Add(55*time.Minute), expiryFor(testNow, time.Hour, 5*time.Minute))
	assert.Equal(t, testNow.Add(time.Minute), expiryFor(testNow, time.Minute, 5*time.Minute))
}
