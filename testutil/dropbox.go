// Package testutil provides shared helpers for tests that drive the whole
// stack: an in-memory Dropbox API served over HTTP and a logger that writes
// through testing.T.
package testutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/framehouse/dropsync/internal/dropbox"
)

// Default credentials issued by the fake token endpoint.
const (
	FakeAccessToken  = "sl.fake-access"
	FakeRefreshToken = "fake-refresh"
	FakeAccountID    = "dbid:fake"
)

// Dropbox is an in-memory Dropbox account. It serves the RPC endpoints the
// client uses under /2 and the OAuth token endpoint under /oauth2/token.
// Listings are returned in path order; a cursor is the listed path plus an
// offset.
type Dropbox struct {
	*httptest.Server

	mu          sync.Mutex
	entries     map[string]dropbox.Entry // keyed by path_lower
	links       map[string]string
	accessToken string
	nextID      int
	calls       map[string]int
}

// NewDropbox starts the fake and closes it when the test ends.
func NewDropbox(t testing.TB) *Dropbox {
	t.Helper()

	d := &Dropbox{
		entries:     map[string]dropbox.Entry{},
		links:       map[string]string{},
		accessToken: FakeAccessToken,
		calls:       map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /2/files/list_folder", d.auth(d.listFolder))
	mux.HandleFunc("POST /2/files/list_folder/continue", d.auth(d.listFolderContinue))
	mux.HandleFunc("POST /2/files/create_folder_v2", d.auth(d.createFolder))
	mux.HandleFunc("POST /2/files/get_temporary_link", d.auth(d.temporaryLink))
	mux.HandleFunc("POST /2/sharing/create_shared_link_with_settings", d.auth(d.createSharedLink))
	mux.HandleFunc("POST /2/sharing/list_shared_links", d.auth(d.listSharedLinks))
	mux.HandleFunc("POST /oauth2/token", d.token)

	d.Server = httptest.NewServer(mux)
	t.Cleanup(d.Close)

	return d
}

// APIURL is the value for [dropbox] api_url.
func (d *Dropbox) APIURL() string { return d.URL + "/2" }

// TokenURL is the value for [dropbox] token_url.
func (d *Dropbox) TokenURL() string { return d.URL + "/oauth2/token" }

// AddFile stores a file and its missing parent folders.
func (d *Dropbox) AddFile(p string, size int64, modified time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.addParents(path.Dir(p))

	d.nextID++
	d.entries[strings.ToLower(p)] = dropbox.Entry{
		Tag:            dropbox.TagFile,
		Name:           path.Base(p),
		PathLower:      strings.ToLower(p),
		PathDisplay:    p,
		ID:             "id:" + strconv.Itoa(d.nextID),
		Rev:            fmt.Sprintf("%09x", d.nextID),
		Size:           size,
		ServerModified: modified.UTC(),
		ClientModified: modified.UTC(),
	}
}

// HasFolder reports whether a folder exists at p, case-insensitively.
func (d *Dropbox) HasFolder(p string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[strings.ToLower(p)]

	return ok && e.Tag == dropbox.TagFolder
}

// CallCount returns how often endpoint (e.g. "/2/files/list_folder") was hit.
func (d *Dropbox) CallCount(endpoint string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls[endpoint]
}

// addParents creates every folder on the way to dir. Caller holds mu.
func (d *Dropbox) addParents(dir string) {
	for dir != "/" && dir != "." && dir != "" {
		key := strings.ToLower(dir)
		if _, ok := d.entries[key]; !ok {
			d.nextID++
			d.entries[key] = dropbox.Entry{
				Tag:         dropbox.TagFolder,
				Name:        path.Base(dir),
				PathLower:   key,
				PathDisplay: dir,
				ID:          "id:" + strconv.Itoa(d.nextID),
			}
		}

		dir = path.Dir(dir)
	}
}

func (d *Dropbox) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.calls[r.URL.Path]++
		want := "Bearer " + d.accessToken
		d.mu.Unlock()

		if r.Header.Get("Authorization") != want {
			writeAPIError(w, http.StatusUnauthorized, "expired_access_token/")
			return
		}

		next(w, r)
	}
}

func writeAPIError(w http.ResponseWriter, status int, summary string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error_summary": summary})
}

func writeResult(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type listArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Limit     int    `json:"limit"`
	Cursor    string `json:"cursor"`
}

func (d *Dropbox) listFolder(w http.ResponseWriter, r *http.Request) {
	var args listArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad request")
		return
	}

	d.page(w, args.Path, args.Recursive, args.Limit, 0, true)
}

func (d *Dropbox) listFolderContinue(w http.ResponseWriter, r *http.Request) {
	var args listArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad request")
		return
	}

	// cursor: "<limit>|<recursive>|<offset>|<path>"
	parts := strings.SplitN(args.Cursor, "|", 4)
	if len(parts) != 4 {
		writeAPIError(w, http.StatusConflict, "reset/")
		return
	}

	limit, err1 := strconv.Atoi(parts[0])
	offset, err2 := strconv.Atoi(parts[2])

	if err1 != nil || err2 != nil {
		writeAPIError(w, http.StatusConflict, "reset/")
		return
	}

	d.page(w, parts[3], parts[1] == "r", limit, offset, false)
}

func (d *Dropbox) page(w http.ResponseWriter, root string, recursive bool, limit, offset int, first bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(root)
	if key != "" {
		if e, ok := d.entries[key]; !ok || e.Tag != dropbox.TagFolder {
			writeAPIError(w, http.StatusConflict, "path/not_found/")
			return
		}
	}

	var matched []dropbox.Entry

	for p, e := range d.entries {
		parent := path.Dir(p)
		if parent == "/" {
			parent = ""
		}

		under := parent == key
		if recursive {
			under = strings.HasPrefix(p, key+"/")
		}

		if under {
			matched = append(matched, e)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].PathLower < matched[j].PathLower })

	if limit <= 0 {
		limit = 2000
	}

	if !first && offset > len(matched) {
		offset = len(matched)
	}

	end := min(offset+limit, len(matched))

	rec := "n"
	if recursive {
		rec = "r"
	}

	writeResult(w, dropbox.Page{
		Entries: append([]dropbox.Entry{}, matched[offset:end]...),
		Cursor:  fmt.Sprintf("%d|%s|%d|%s", limit, rec, end, root),
		HasMore: end < len(matched),
	})
}

func (d *Dropbox) createFolder(w http.ResponseWriter, r *http.Request) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad request")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[strings.ToLower(args.Path)]; ok {
		writeAPIError(w, http.StatusConflict, "path/conflict/folder/")
		return
	}

	d.addParents(args.Path)
	e := d.entries[strings.ToLower(args.Path)]

	writeResult(w, map[string]any{"metadata": dropbox.FolderMetadata{
		ID:          e.ID,
		Name:        e.Name,
		PathLower:   e.PathLower,
		PathDisplay: e.PathDisplay,
	}})
}

func (d *Dropbox) temporaryLink(w http.ResponseWriter, r *http.Request) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad request")
		return
	}

	d.mu.Lock()
	e, ok := d.entries[strings.ToLower(args.Path)]
	d.mu.Unlock()

	if !ok || e.Tag != dropbox.TagFile {
		writeAPIError(w, http.StatusConflict, "path/not_found/")
		return
	}

	writeResult(w, map[string]string{"link": d.URL + "/content" + e.PathLower})
}

func (d *Dropbox) createSharedLink(w http.ResponseWriter, r *http.Request) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad request")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(args.Path)
	if _, ok := d.links[key]; ok {
		writeAPIError(w, http.StatusConflict, "shared_link_already_exists/")
		return
	}

	d.nextID++
	d.links[key] = fmt.Sprintf("https://www.dropbox.com/scl/fo/%d?dl=0", d.nextID)

	writeResult(w, map[string]string{"url": d.links[key]})
}

func (d *Dropbox) listSharedLinks(w http.ResponseWriter, r *http.Request) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad request")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	links := []map[string]string{}
	if url, ok := d.links[strings.ToLower(args.Path)]; ok {
		links = append(links, map[string]string{"url": url})
	}

	writeResult(w, map[string]any{"links": links})
}

// token answers both the authorization_code and refresh_token grants.
func (d *Dropbox) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	d.calls[r.URL.Path]++
	d.mu.Unlock()

	resp := map[string]any{
		"access_token": FakeAccessToken,
		"token_type":   "bearer",
		"expires_in":   14400,
	}

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != FakeRefreshToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})

			return
		}
	case "authorization_code":
		resp["refresh_token"] = FakeRefreshToken
		resp["account_id"] = FakeAccountID
	default:
		http.Error(w, "unsupported grant", http.StatusBadRequest)
		return
	}

	writeResult(w, resp)
}

// NewLogger returns a debug-level logger that writes through t.Log, so
// output only shows for failing or verbose tests.
func NewLogger(t testing.TB) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}
