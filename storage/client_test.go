package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/runawaydevil/ScoutBot/config"
)

// fakePentaract is a minimal in-memory Pentaract API for client tests.
type fakePentaract struct {
	mu sync.Mutex

	validToken   string
	refreshToken string
	logins       int
	refreshes    int

	// tokens the server rejects with 401 until rotated by a refresh
	expired map[string]bool

	files map[string][]byte

	uploadStatus   int // 0 means default behavior
	storagesStatus int
	storagesCalls  int
}

func newFakePentaract() *fakePentaract {
	return &fakePentaract{
		validToken:   "access-1",
		refreshToken: "refresh-1",
		expired:      map[string]bool{},
		files:        map[string][]byte{},
	}
}

func (f *fakePentaract) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email != "bot@example.com" || creds.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  f.currentToken(),
			"refresh_token": f.refreshToken,
		})
	})

	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.RefreshToken != f.refreshToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.refreshes++
		f.validToken = "access-refreshed"
		token := f.validToken
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	})

	mux.HandleFunc("/storages", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			f.storagesCalls++
			status := f.storagesStatus
			f.mu.Unlock()
			if status != 0 {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode([]map[string]string{
				{"id": "storage-42", "name": "ScoutBot-Storage"},
			})
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "storage-new"})
		}
	})

	mux.HandleFunc("/files/upload", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.uploadStatus != 0 {
			w.WriteHeader(f.uploadStatus)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		path := r.FormValue("path")
		if path == "" || r.FormValue("storage_id") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.files[path] = data
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("/files/download", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		data, ok := f.files[r.URL.Query().Get("path")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	})

	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		path := r.URL.Query().Get("path")
		f.mu.Lock()
		_, ok := f.files[path]
		delete(f.files, path)
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/files/list", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		folder := r.URL.Query().Get("path")
		var entries []FileEntry
		f.mu.Lock()
		for path, data := range f.files {
			if folder == "" || strings.HasPrefix(path, folder+"/") {
				entries = append(entries, FileEntry{Path: path, Size: int64(len(data)), IsFile: true})
			}
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(entries)
	})

	mux.HandleFunc("/files/info", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		path := r.URL.Query().Get("path")
		f.mu.Lock()
		data, ok := f.files[path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(FileEntry{Path: path, Size: int64(len(data)), IsFile: true})
	})

	return mux
}

func (f *fakePentaract) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validToken
}

func (f *fakePentaract) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	return token == f.validToken && !f.expired[token]
}

// expireToken makes the current access token invalid so the next request
// gets a 401. A refresh rotates to a new valid token.
func (f *fakePentaract) expireToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired[f.validToken] = true
}

func (f *fakePentaract) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakePentaract) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakePentaract) setStoragesStatus(status int) {
	f.mu.Lock()
	f.storagesStatus = status
	f.mu.Unlock()
}

func (f *fakePentaract) storagesCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storagesCalls
}

func (f *fakePentaract) fileSize(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files[path])
}

func newClientForTest(t *testing.T, server *fakePentaract) *Client {
	t.Helper()
	srv := httptest.NewServer(server.handler())
	t.Cleanup(srv.Close)

	client := NewClient(&config.PentaractConfig{
		APIURL:          srv.URL,
		Email:           "bot@example.com",
		Password:        "secret",
		Timeout:         10,
		StreamThreshold: 1024,
		StreamChunkSize: 256,
		StorageName:     "ScoutBot-Storage",
	})
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return client
}

func writeLocalFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestInitializeResolvesExistingStorage(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)

	if client.StorageID() != "storage-42" {
		t.Errorf("storage id = %q, want storage-42", client.StorageID())
	}
	if server.loginCount() != 1 {
		t.Errorf("logins = %d, want 1", server.loginCount())
	}
}

func TestInitializeBadCredentials(t *testing.T) {
	server := newFakePentaract()
	srv := httptest.NewServer(server.handler())
	t.Cleanup(srv.Close)

	client := NewClient(&config.PentaractConfig{
		APIURL:   srv.URL,
		Email:    "bot@example.com",
		Password: "wrong",
		Timeout:  10,
	})
	if err := client.Initialize(context.Background()); err == nil {
		t.Fatalf("expected Initialize to fail with bad credentials")
	}
}

func TestUploadSmallFile(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)

	path := writeLocalFile(t, "small.bin", 100)
	result := client.Upload(context.Background(), path, "storage/ABC123.bin")
	if !result.Success {
		t.Fatalf("upload failed: %s", result.Error)
	}
	if result.Size != 100 {
		t.Errorf("result size = %d, want 100", result.Size)
	}
	if server.fileSize("storage/ABC123.bin") != 100 {
		t.Errorf("server stored %d bytes", server.fileSize("storage/ABC123.bin"))
	}
}

func TestUploadStreamsLargeFile(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)

	// Above the 1024-byte stream threshold configured for the test client.
	path := writeLocalFile(t, "large.bin", 5000)
	result := client.Upload(context.Background(), path, "storage/LARGE1.bin")
	if !result.Success {
		t.Fatalf("streaming upload failed: %s", result.Error)
	}
	if server.fileSize("storage/LARGE1.bin") != 5000 {
		t.Errorf("server stored %d bytes, want 5000", server.fileSize("storage/LARGE1.bin"))
	}
}

func TestUploadRefreshesTokenOn401(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)
	server.expireToken()

	path := writeLocalFile(t, "file.bin", 50)
	result := client.Upload(context.Background(), path, "storage/REFRSH.bin")
	if !result.Success {
		t.Fatalf("upload after token refresh failed: %s", result.Error)
	}
	if server.refreshCount() != 1 {
		t.Errorf("refreshes = %d, want 1", server.refreshCount())
	}
}

func TestUploadFailsWhenRefreshDoesNotHelp(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)
	server.uploadStatus = http.StatusUnauthorized

	path := writeLocalFile(t, "file.bin", 50)
	result := client.Upload(context.Background(), path, "storage/NOAUTH.bin")
	if result.Success {
		t.Fatalf("upload should fail when every attempt gets 401")
	}
	if result.Error != "authentication failed" {
		t.Errorf("error = %q", result.Error)
	}
}

func TestUploadServerError(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)
	server.uploadStatus = http.StatusInternalServerError

	path := writeLocalFile(t, "file.bin", 50)
	result := client.Upload(context.Background(), path, "storage/SRVERR.bin")
	if result.Success {
		t.Fatalf("upload should fail on server error")
	}
	if !strings.Contains(result.Error, "HTTP 500") {
		t.Errorf("error = %q, want HTTP 500 detail", result.Error)
	}
}

func TestUploadMissingLocalFile(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)

	result := client.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.bin"), "storage/GONE11.bin")
	if result.Success || result.Error != "file not found" {
		t.Errorf("result = %+v, want file-not-found failure", result)
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)

	src := writeLocalFile(t, "src.bin", 300)
	if result := client.Upload(context.Background(), src, "storage/DLTEST.bin"); !result.Success {
		t.Fatalf("upload failed: %s", result.Error)
	}

	dst := filepath.Join(t.TempDir(), "dst.bin")
	result := client.Download(context.Background(), "storage/DLTEST.bin", dst)
	if !result.Success {
		t.Fatalf("download failed: %s", result.Error)
	}
	if result.Size != 300 {
		t.Errorf("downloaded size = %d, want 300", result.Size)
	}
	data, err := os.ReadFile(dst)
	if err != nil || len(data) != 300 {
		t.Errorf("local copy has %d bytes (err %v), want 300", len(data), err)
	}
}

func TestDeleteFile(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)

	src := writeLocalFile(t, "src.bin", 10)
	if result := client.Upload(context.Background(), src, "storage/DELME1.bin"); !result.Success {
		t.Fatalf("upload failed: %s", result.Error)
	}

	if !client.Delete(context.Background(), "storage/DELME1.bin") {
		t.Fatalf("delete of existing file failed")
	}
	if client.Delete(context.Background(), "storage/DELME1.bin") {
		t.Errorf("delete of missing file reported success")
	}
}

func TestListFilesAndFileInfo(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)

	src := writeLocalFile(t, "src.bin", 20)
	if result := client.Upload(context.Background(), src, "storage/LIST01.bin"); !result.Success {
		t.Fatalf("upload failed: %s", result.Error)
	}

	entries, err := client.ListFiles(context.Background(), "storage")
	if err != nil {
		t.Fatalf("ListFiles returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "storage/LIST01.bin" || entries[0].Size != 20 {
		t.Errorf("entries = %+v", entries)
	}

	info, err := client.FileInfo(context.Background(), "storage/LIST01.bin")
	if err != nil {
		t.Fatalf("FileInfo returned error: %v", err)
	}
	if info == nil || info.Size != 20 {
		t.Errorf("info = %+v", info)
	}

	missing, err := client.FileInfo(context.Background(), "storage/NOPE00.bin")
	if err != nil {
		t.Fatalf("FileInfo for missing path returned error: %v", err)
	}
	if missing != nil {
		t.Errorf("missing file info = %+v, want nil", missing)
	}
}

func TestIsAvailableCachesHealthCheck(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)

	if !client.IsAvailable(context.Background()) {
		t.Fatalf("client should be available against a healthy server")
	}
	calls := server.storagesCallCount()
	// Second call inside the cache window must not hit the server again.
	if !client.IsAvailable(context.Background()) {
		t.Fatalf("cached availability flipped")
	}
	if server.storagesCallCount() != calls {
		t.Errorf("cached IsAvailable still hit the server")
	}
}

func TestIsAvailableCachesOutage(t *testing.T) {
	server := newFakePentaract()
	client := newClientForTest(t, server)
	server.setStoragesStatus(http.StatusInternalServerError)

	if client.IsAvailable(context.Background()) {
		t.Fatalf("client reported available while the server is down")
	}

	// The failed check is cached for the same window as a healthy one, so a
	// recovered server is not noticed until the cache expires.
	server.setStoragesStatus(0)
	calls := server.storagesCallCount()
	if client.IsAvailable(context.Background()) {
		t.Errorf("outage result was not cached")
	}
	if server.storagesCallCount() != calls {
		t.Errorf("cached outage still hit the server")
	}
}
