package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framehouse/dropsync/internal/dropbox"
	"github.com/framehouse/dropsync/internal/pathguard"
	"github.com/framehouse/dropsync/internal/provision"
	"github.com/framehouse/dropsync/internal/store"
	"github.com/framehouse/dropsync/internal/sync"
	"github.com/framehouse/dropsync/internal/vault"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	report *sync.Report
	err    error
	got    []sync.Request
	ctxErr error
}

func (f *fakeSyncer) Run(ctx context.Context, req sync.Request) (*sync.Report, error) {
	f.got = append(f.got, req)
	f.ctxErr = ctx.Err()

	return f.report, f.err
}

type fakeLogs struct{ logs []store.SyncLog }

func (f *fakeLogs) Logs(_ context.Context, _ string, limit int) ([]store.SyncLog, error) {
	return f.logs[:min(limit, len(f.logs))], nil
}

type fakeProvisioner struct {
	res    *provision.Result
	err    error
	called bool
	ctxErr error
}

func (f *fakeProvisioner) ProvisionProjectFolder(ctx context.Context, _ provision.Request) (*provision.Result, error) {
	f.called = true
	f.ctxErr = ctx.Err()

	return f.res, f.err
}

type fakePreviewer struct{ link *string }

func (f *fakePreviewer) Link(_ context.Context, id string) (*string, error) {
	if id == "missing" {
		return nil, fmt.Errorf("%w: file %s", store.ErrNotFound, id)
	}

	return f.link, nil
}

type fakeVault struct {
	conn    *store.Connection
	created []vault.NewConnection
	revoked []string
}

func (f *fakeVault) Resolve(context.Context, string, string) (*store.Connection, error) {
	if f.conn == nil {
		return nil, vault.ErrNotConnected
	}

	return f.conn, nil
}

func (f *fakeVault) CreateConnection(_ context.Context, nc vault.NewConnection) (*store.Connection, error) {
	f.created = append(f.created, nc)

	return &store.Connection{
		ID:                   "conn-new",
		OrgID:                nc.OrgID,
		ProjectID:            nc.ProjectID,
		AccountID:            nc.AccountID,
		AccessTokenEncrypted: "v2:secret",
		TokenExpiresAt:       nc.ExpiresAt,
		CreatedAt:            testNow,
	}, nil
}

func (f *fakeVault) Revoke(_ context.Context, id string) error {
	if id != "conn-1" {
		return fmt.Errorf("%w: active connection %s", store.ErrNotFound, id)
	}

	f.revoked = append(f.revoked, id)

	return nil
}

type fakeStore struct{ pingErr error }

func (fakeStore) GetProject(_ context.Context, id string) (*store.Project, error) {
	if id != "p1" {
		return nil, fmt.Errorf("%w: project %s", store.ErrNotFound, id)
	}

	return &store.Project{ID: "p1", OrgID: "org1"}, nil
}

func (f fakeStore) Ping(context.Context) error { return f.pingErr }

type harness struct {
	srv    *Server
	h      http.Handler
	syncer *fakeSyncer
	vault  *fakeVault
	prov   *fakeProvisioner
	logs   *fakeLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	hs := &harness{
		syncer: &fakeSyncer{report: &sync.Report{FilesAdded: 2, FilesUpdated: 1, TotalProcessed: 3, SyncPath: "/Studio/Acme"}},
		vault:  &fakeVault{},
		prov:   &fakeProvisioner{},
		logs:   &fakeLogs{},
	}

	hs.srv = New(&Config{
		Store:       fakeStore{},
		Vault:       hs.vault,
		Syncer:      hs.syncer,
		Logs:        hs.logs,
		Provisioner: hs.prov,
		Previewer:   &fakePreviewer{},
		OAuth:       dropbox.OAuthConfig("app-key", "app-secret", "http://localhost/cb", "https://auth.example/authorize", ""),
		StateSecret: []byte("state-secret"),
		StateTTL:    10 * time.Minute,
		Logger:      slog.New(slog.DiscardHandler),
	})
	hs.srv.nowFunc = func() time.Time { return testNow }
	hs.h = hs.srv.Handler()

	return hs
}

func (hs *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestSync_Success(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodPost, "/api/dropbox/sync", `{"projectId":"p1","path":"/Studio/Acme","fullSync":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, body["filesAdded"])
	assert.EqualValues(t, 1, body["filesUpdated"])
	assert.EqualValues(t, 3, body["totalProcessed"])
	assert.Equal(t, "/Studio/Acme", body["syncPath"])

	assert.Equal(t, []sync.Request{{ProjectID: "p1", Path: "/Studio/Acme", FullSync: true}}, hs.syncer.got)
}

func TestSync_ClientDisconnectDoesNotCancelRun(t *testing.T) {
	hs := newHarness(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/dropbox/sync", strings.NewReader(`{"projectId":"p1"}`)).WithContext(ctx)
	hs.h.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, hs.syncer.got, 1)
	assert.NoError(t, hs.syncer.ctxErr)
}

func TestSync_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"outside root", fmt.Errorf("sync: %w", pathguard.ErrPathOutsideRoot), http.StatusBadRequest, CodePathOutsideRoot},
		{"not connected", vault.ErrNotConnected, http.StatusNotFound, CodeNotConnected},
		{"unknown project", fmt.Errorf("%w: project x", store.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"in progress", sync.ErrSyncInProgress, http.StatusConflict, CodeSyncInProgress},
		{"refresh", vault.ErrRefreshFailed, http.StatusInternalServerError, CodeInternal},
		{"reconcile", sync.ErrReconciliationFailed, http.StatusInternalServerError, CodeInternal},
		{"provider", &dropbox.APIError{StatusCode: 500, Err: dropbox.ErrServerError}, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness(t)
			hs.syncer.err = tt.err

			rec := hs.do(t, http.MethodPost, "/api/dropbox/sync", `{"projectId":"p1"}`)
			assert.Equal(t, tt.status, rec.Code)

			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestSync_BadInput(t *testing.T) {
	hs := newHarness(t)

	for _, body := range []string{`not json`, `{}`, `{"projectId":"  "}`} {
		rec := hs.do(t, http.MethodPost, "/api/dropbox/sync", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	assert.Empty(t, hs.syncer.got)
}

func TestSyncStatus(t *testing.T) {
	hs := newHarness(t)
	hs.logs.logs = []store.SyncLog{
		{ID: "l2", Status: store.StatusSuccess, FilesAdded: 3},
		{ID: "l1", Status: store.StatusError, ErrorMessage: "boom"},
	}

	// Not connected still lists logs.
	rec := hs.do(t, http.MethodGet, "/api/dropbox/sync?projectId=p1&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Connected)
	assert.Nil(t, resp.Connection)
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "l2", resp.Logs[0].ID)

	hs.vault.conn = &store.Connection{
		ID:                    "conn-1",
		OrgID:                 "org1",
		AccessTokenEncrypted:  "v2:AAAA",
		AccessTokenCiphertext: "aa:bb:cc",
		AccessTokenPlain:      "plain-token",
		RefreshTokenPlain:     "plain-refresh",
		SyncPath:              "/Studio/Acme",
	}

	rec = hs.do(t, http.MethodGet, "/api/dropbox/sync?projectId=p1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	raw := rec.Body.String()
	assert.Contains(t, raw, `"connected":true`)
	assert.Contains(t, raw, `"syncPath":"/Studio/Acme"`)

	for _, secret := range []string{"v2:AAAA", "aa:bb:cc", "plain-token", "plain-refresh"} {
		assert.NotContains(t, raw, secret)
	}
}

func TestSyncStatus_Errors(t *testing.T) {
	hs := newHarness(t)

	assert.Equal(t, http.StatusBadRequest, hs.do(t, http.MethodGet, "/api/dropbox/sync", "").Code)
	assert.Equal(t, http.StatusBadRequest, hs.do(t, http.MethodGet, "/api/dropbox/sync?projectId=p1&limit=0", "").Code)
	assert.Equal(t, http.StatusNotFound, hs.do(t, http.MethodGet, "/api/dropbox/sync?projectId=nope", "").Code)
}

func TestParseLimit(t *testing.T) {
	n, err := parseLimit("")
	require.NoError(t, err)
	assert.Equal(t, defaultLogLimit, n)

	n, err = parseLimit("5000")
	require.NoError(t, err)
	assert.Equal(t, maxLogLimit, n)

	_, err = parseLimit("x")
	require.ErrorIs(t, err, errBadRequest)
}

func TestProvision(t *testing.T) {
	hs := newHarness(t)
	hs.prov.res = &provision.Result{
		Path:           "/Studio/Acme/Launch",
		DeliveriesPath: "/Studio/Acme/Launch/Deliveries",
		FolderID:       "id:1",
		FolderURL:      "https://db/s/1",
		DeliveriesURL:  "https://db/s/2",
	}

	rec := hs.do(t, http.MethodPost, "/api/dropbox/provision-folder", `{"projectId":"p1","folderName":"Launch","clientName":"Acme"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"path": "/Studio/Acme/Launch",
		"deliveriesPath": "/Studio/Acme/Launch/Deliveries",
		"folderId": "id:1",
		"folderUrl": "https://db/s/1",
		"deliveriesUrl": "https://db/s/2"
	}`, rec.Body.String())
}

func TestProvision_ClientDisconnectDoesNotCancelRun(t *testing.T) {
	hs := newHarness(t)
	hs.prov.res = &provision.Result{Path: "/Studio/Acme/Launch"}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/dropbox/provision-folder",
		strings.NewReader(`{"projectId":"p1","folderName":"Launch"}`)).WithContext(ctx)
	hs.h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, hs.prov.called)
	assert.NoError(t, hs.prov.ctxErr)
}

func TestProvision_OutsideRoot(t *testing.T) {
	hs := newHarness(t)
	hs.prov.err = fmt.Errorf("%w: /Other", pathguard.ErrPathOutsideRoot)

	rec := hs.do(t, http.MethodPost, "/api/dropbox/provision-folder", `{"projectId":"p1","folderName":".."}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodePathOutsideRoot, decode[errorBody](t, rec).Code)

	hs.prov.err = provision.ErrMissingName
	rec = hs.do(t, http.MethodPost, "/api/dropbox/provision-folder", `{"projectId":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeBadRequest, decode[errorBody](t, rec).Code)
}

func TestConnect_RedirectsWithSignedState(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodGet, "/api/dropbox/connect?orgId=org1&projectId=p1", "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "auth.example", loc.Host)
	assert.Equal(t, "offline", loc.Query().Get("token_access_type"))
	assert.Equal(t, "app-key", loc.Query().Get("client_id"))

	claims, err := hs.srv.parseState(loc.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "org1", claims.OrgID)
	assert.Equal(t, "p1", claims.ProjectID)

	assert.Equal(t, http.StatusBadRequest, hs.do(t, http.MethodGet, "/api/dropbox/connect", "").Code)
}

func TestState_ExpiredAndTampered(t *testing.T) {
	hs := newHarness(t)

	state, err := hs.srv.signState("org1", "")
	require.NoError(t, err)

	hs.srv.nowFunc = func() time.Time { return testNow.Add(11 * time.Minute) }
	_, err = hs.srv.parseState(state)
	require.ErrorIs(t, err, errInvalidState)

	hs.srv.nowFunc = func() time.Time { return testNow }
	_, err = hs.srv.parseState(state + "x")
	require.ErrorIs(t, err, errInvalidState)

	other := New(&Config{StateSecret: []byte("other-secret")})
	other.nowFunc = hs.srv.nowFunc
	_, err = other.parseState(state)
	require.ErrorIs(t, err, errInvalidState)
}

func TestCallback_ExchangesAndStores(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer",` +
			`"expires_in":14400,"account_id":"dbid:abc"}`))
	}))
	t.Cleanup(tokenSrv.Close)

	hs := newHarness(t)
	hs.srv.cfg.OAuth = dropbox.OAuthConfig("app-key", "app-secret", "http://localhost/cb", "", tokenSrv.URL)
	hs.srv.cfg.HTTPClient = tokenSrv.Client()

	state, err := hs.srv.signState("org1", "p1")
	require.NoError(t, err)

	rec := hs.do(t, http.MethodGet, "/api/dropbox/callback?code=the-code&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, hs.vault.created, 1)
	nc := hs.vault.created[0]
	assert.Equal(t, "org1", nc.OrgID)
	assert.Equal(t, "p1", nc.ProjectID)
	assert.Equal(t, "dbid:abc", nc.AccountID)
	assert.Equal(t, "at-1", nc.AccessToken)
	assert.Equal(t, "rt-1", nc.RefreshToken)
	assert.False(t, nc.ExpiresAt.IsZero())

	assert.NotContains(t, rec.Body.String(), "at-1")
	assert.NotContains(t, rec.Body.String(), "v2:secret")
	assert.Contains(t, rec.Body.String(), `"id":"conn-new"`)
}

func TestCallback_Rejections(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodGet, "/api/dropbox/callback?error=access_denied", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hs.do(t, http.MethodGet, "/api/dropbox/callback?code=c&state=forged", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, hs.vault.created)
}

func TestRevoke(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodDelete, "/api/dropbox/connections/conn-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"conn-1"}, hs.vault.revoked)

	rec = hs.do(t, http.MethodDelete, "/api/dropbox/connections/conn-9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreview(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodGet, "/api/dropbox/files/f1/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"link":null}`, rec.Body.String())

	link := "https://dl.example/f1"
	hs.srv.cfg.Previewer = &fakePreviewer{link: &link}

	rec = hs.do(t, http.MethodGet, "/api/dropbox/files/f1/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"link":"https://dl.example/f1"}`, rec.Body.String())

	rec = hs.do(t, http.MethodGet, "/api/dropbox/files/missing/preview", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	hs := newHarness(t)
	assert.Equal(t, http.StatusOK, hs.do(t, http.MethodGet, "/healthz", "").Code)

	hs.srv.cfg.Store = fakeStore{pingErr: errors.New("db down")}
	assert.Equal(t, http.StatusServiceUnavailable, hs.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestRecoversPanics(t *testing.T) {
	hs := newHarness(t)
	hs.srv.cfg.Previewer = panicPreviewer{}

	rec := hs.do(t, http.MethodGet, "/api/dropbox/files/f1/preview", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicPreviewer struct{}

func (panicPreviewer) Link(context.Context, string) (*string, error) { panic("boom") }

func TestMethodNotAllowed(t *testing.T) {
	hs := newHarness(t)
	assert.Equal(t, http.StatusMethodNotAllowed, hs.do(t, http.MethodPut, "/api/dropbox/sync", "").Code)
}
