// Package registrytest provides an in-memory registry server for tests.
package registrytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"assetlib/internal/registry"
)

// Server is a fake asset-management service with real lock semantics.
type Server struct {
	srv *httptest.Server

	mu            sync.Mutex
	assets        map[string]*registry.Asset
	archives      map[string][]byte
	users         map[string]struct{}
	requests      map[string]int
	metadataFails int
	checkinStatus int
	getStatus     int
	held          map[string]chan struct{}
	commits       map[string][]registry.Metadata
	conflict      int
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		assets:   make(map[string]*registry.Asset),
		archives: make(map[string][]byte),
		users:    make(map[string]struct{}),
		requests: make(map[string]int),
		held:     make(map[string]chan struct{}),
		commits:  make(map[string][]registry.Metadata),
		conflict: http.StatusBadRequest,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/assets", s.handleList)
	mux.HandleFunc("GET /api/assets/{name}", s.handleGet)
	mux.HandleFunc("POST /api/assets/{name}/upload", s.handleUpload)
	mux.HandleFunc("POST /api/assets/{name}/checkout", s.handleCheckout)
	mux.HandleFunc("POST /api/assets/{name}/checkin", s.handleCheckin)
	mux.HandleFunc("POST /api/metadata/{name}", s.handleMetadata)
	mux.HandleFunc("GET /api/assets/{name}/download", s.handleDownload)

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 1 {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the registry base URL (including the /api prefix).
func (s *Server) URL() string {
	return s.srv.URL + "/api"
}

// Client returns a registry client pointed at the server.
func (s *Server) Client(t testing.TB, opts ...registry.Option) *registry.Client {
	t.Helper()
	client, err := registry.New(s.URL(), append([]registry.Option{registry.WithHTTPClient(s.srv.Client())}, opts...)...)
	if err != nil {
		t.Fatalf("registry client: %v", err)
	}
	return client
}

// AddAsset seeds an asset. Missing versions default to 01.00.00.
func (s *Server) AddAsset(asset registry.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset.Version == "" {
		asset.Version = "01.00.00"
	}
	asset.IsCheckedOut = asset.Holder != ""
	copied := asset
	s.assets[asset.Name] = &copied
}

// SetArchive sets the bytes served by the download endpoint for name.
func (s *Server) SetArchive(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[name] = append([]byte(nil), data...)
}

// Archive returns the last content uploaded or checked in for name.
func (s *Server) Archive(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.archives[name]...)
}

// AddUsers restricts checkout to the listed holders; unknown holders get 404.
func (s *Server) AddUsers(holders ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range holders {
		s.users[h] = struct{}{}
	}
}

// Asset returns a copy of the stored asset.
func (s *Server) Asset(name string) (registry.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[name]
	if !ok {
		return registry.Asset{}, false
	}
	return *asset, true
}

// SetHolder overrides the lock holder of name, bypassing checkout rules.
func (s *Server) SetHolder(name, holder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset, ok := s.assets[name]; ok {
		asset.Holder = holder
		asset.IsCheckedOut = holder != ""
	}
}

// UseConflictStatus sets the status returned for a held lock (default 400).
func (s *Server) UseConflictStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflict = status
}

// FailMetadata makes the next n metadata commits return 500.
func (s *Server) FailMetadata(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataFails = n
}

// FailCheckin makes every content check-in return status (0 restores).
func (s *Server) FailCheckin(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkinStatus = status
}

// FailGet makes every asset lookup return status (0 restores).
func (s *Server) FailGet(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getStatus = status
}

// HoldCheckout blocks checkout requests for name until release is called.
func (s *Server) HoldCheckout(name string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.held[name] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Requests returns how many times operation was called. Operations are
// list, get, upload, checkout, checkin, metadata and download.
func (s *Server) Requests(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[operation]
}

// Commits returns the metadata commits recorded for name.
func (s *Server) Commits(name string) []registry.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registry.Metadata(nil), s.commits[name]...)
}

func (s *Server) count(operation string) {
	s.mu.Lock()
	s.requests[operation]++
	s.mu.Unlock()
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.count("list")
	search := strings.ToLower(r.URL.Query().Get("search"))
	checkedInOnly := r.URL.Query().Get("checkedInOnly") == "true"

	s.mu.Lock()
	out := make([]registry.Asset, 0, len(s.assets))
	for _, asset := range s.assets {
		if checkedInOnly && asset.IsCheckedOut {
			continue
		}
		if search != "" && !matches(asset, search) {
			continue
		}
		out = append(out, *asset)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}

func matches(asset *registry.Asset, search string) bool {
	if strings.Contains(strings.ToLower(asset.Name), search) {
		return true
	}
	for _, kw := range asset.Keywords {
		if strings.Contains(strings.ToLower(kw), search) {
			return true
		}
	}
	return false
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.count("get")
	s.mu.Lock()
	status := s.getStatus
	asset, ok := s.assets[r.PathValue("name")]
	var copied registry.Asset
	if ok {
		copied = *asset
	}
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, "lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": copied})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.count("upload")
	name := r.PathValue("name")
	data, ok := readFormFile(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assets[name]; exists {
		writeError(w, http.StatusBadRequest, "Asset already exists")
		return
	}
	version := r.FormValue("version")
	if version == "" {
		version = "01.00.00"
	}
	s.assets[name] = &registry.Asset{Name: name, Version: version}
	s.archives[name] = data
	writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully uploaded"})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	s.count("checkout")
	name := r.PathValue("name")

	s.mu.Lock()
	hold := s.held[name]
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	var body struct {
		Holder string `json:"pennkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Holder == "" {
		writeError(w, http.StatusBadRequest, "pennkey is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Asset not found")
		return
	}
	if asset.IsCheckedOut {
		writeError(w, s.conflict, fmt.Sprintf("Asset is already checked out by %s", asset.Holder))
		return
	}
	if len(s.users) > 0 {
		if _, known := s.users[body.Holder]; !known {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
	}
	asset.Holder = body.Holder
	asset.IsCheckedOut = true
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Asset checked out successfully",
		"asset":   map[string]any{"name": asset.Name, "checkedOutBy": asset.Holder, "isCheckedOut": true},
	})
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	s.count("checkin")
	name := r.PathValue("name")

	s.mu.Lock()
	status := s.checkinStatus
	_, ok := s.assets[name]
	s.mu.Unlock()
	if status != 0 {
		writeError(w, status, "storage unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Asset not found")
		return
	}
	data, okFile := readFormFile(w, r)
	if !okFile {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[name] = data
	revision := len(s.commits[name]) + 1
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Successfully updated",
		"version_map": map[string]string{
			name + "/" + name + ".zip": fmt.Sprintf("rev-%d", revision),
		},
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.count("metadata")
	name := r.PathValue("name")

	var metadata registry.Metadata
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
		writeError(w, http.StatusBadRequest, "invalid metadata")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadataFails > 0 {
		s.metadataFails--
		writeError(w, http.StatusInternalServerError, "database unavailable")
		return
	}
	asset, ok := s.assets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Asset not found")
		return
	}
	s.commits[name] = append(s.commits[name], metadata)
	if metadata.Commit.Version != "" {
		asset.Version = metadata.Commit.Version
	}
	asset.LastModifiedBy = metadata.Commit.Author
	asset.UpdatedAt = metadata.Commit.Timestamp
	if len(metadata.Keywords) > 0 {
		asset.Keywords = metadata.Keywords
	}
	asset.Holder = ""
	asset.IsCheckedOut = false
	writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully updated metadata"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.count("download")
	s.mu.Lock()
	data, ok := s.archives[r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Asset not found")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func readFormFile(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusNotFound, "Request missing files")
		return nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return nil, false
	}
	return data, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
