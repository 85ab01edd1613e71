package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runawaydevil/ScoutBot/config"
	"github.com/runawaydevil/ScoutBot/logger"
)

const healthCheckInterval = 5 * time.Minute

// Result reports the outcome of a single remote-store operation. Transfer
// failures are values, not errors: the caller's retry policy decides what to
// do with them.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Path    string `json:"path,omitempty"`
	Size    int64  `json:"size,omitempty"`
}

type FileEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	IsFile bool   `json:"is_file"`
}

// Client talks to the Pentaract chunked-storage API. It owns the bearer
// token pair and transparently refreshes once on a 401 before surfacing
// failure; any further retrying belongs to the caller.
type Client struct {
	baseURL     string
	email       string
	password    string
	storageName string

	streamThreshold int64
	streamChunkSize int

	httpClient *http.Client

	mu              sync.Mutex
	accessToken     string
	refreshToken    string
	storageID       string
	available       bool
	lastHealthCheck time.Time
}

func NewClient(cfg *config.PentaractConfig) *Client {
	return &Client{
		baseURL:         cfg.APIURL,
		email:           cfg.Email,
		password:        cfg.Password,
		storageName:     cfg.StorageName,
		streamThreshold: cfg.StreamThreshold,
		streamChunkSize: cfg.StreamChunkSize,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// Initialize authenticates and ensures the named storage exists. It must be
// called before any transfer operation.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.authenticate(ctx); err != nil {
		c.setAvailable(false)
		return err
	}

	c.ensureStorage(ctx)
	c.setAvailable(true)
	logger.Infof("pentaract client initialized (storage: %s)", c.StorageID())
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pentaract login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pentaract login failed: %d - %s", resp.StatusCode, string(text))
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("pentaract login response decode failed: %w", err)
	}

	c.mu.Lock()
	c.accessToken = tokens.AccessToken
	c.refreshToken = tokens.RefreshToken
	c.mu.Unlock()

	logger.Infof("authenticated with pentaract")
	return nil
}

// refreshAccessToken renews the access token, falling back to a full
// re-login when no refresh token is held or the refresh is rejected.
func (c *Client) refreshAccessToken(ctx context.Context) bool {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	if refresh == "" {
		logger.Warnf("no refresh token available, re-authenticating")
		return c.authenticate(ctx) == nil
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": refresh})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Errorf("token refresh failed: %v, attempting re-authentication", err)
		return c.authenticate(ctx) == nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warnf("token refresh rejected with status %d, re-authenticating", resp.StatusCode)
		return c.authenticate(ctx) == nil
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return c.authenticate(ctx) == nil
	}

	c.mu.Lock()
	c.accessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		c.refreshToken = tokens.RefreshToken
	}
	c.mu.Unlock()

	logger.Infof("pentaract access token refreshed")
	return true
}

func (c *Client) ensureStorage(ctx context.Context) {
	storages, err := c.listStorages(ctx)
	if err != nil {
		logger.Errorf("failed to list storages: %v", err)
		c.setStorageID("default")
		return
	}

	for _, s := range storages {
		if s.Name == c.storageName {
			c.setStorageID(s.ID)
			logger.Infof("using existing storage: %s", s.ID)
			return
		}
	}

	created, err := c.createStorage(ctx, c.storageName)
	if err != nil || created == "" {
		logger.Errorf("failed to create storage: %v", err)
		c.setStorageID("default")
		return
	}
	c.setStorageID(created)
	logger.Infof("created new storage: %s", created)
}

type storageEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) listStorages(ctx context.Context) ([]storageEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/storages", nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list storages failed: %d", resp.StatusCode)
	}

	var storages []storageEntry
	if err := json.NewDecoder(resp.Body).Decode(&storages); err != nil {
		return nil, err
	}
	return storages, nil
}

func (c *Client) createStorage(ctx context.Context, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/storages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create storage failed: %d", resp.StatusCode)
	}

	var entry storageEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// IsAvailable reports whether the remote store answered a recent health
// check. Checks are cached for healthCheckInterval.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	fresh := !c.lastHealthCheck.IsZero() && time.Since(c.lastHealthCheck) < healthCheckInterval
	available := c.available
	c.mu.Unlock()

	if fresh {
		return available
	}
	return c.healthCheck(ctx)
}

func (c *Client) healthCheck(ctx context.Context) bool {
	_, err := c.listStorages(ctx)
	if err == nil {
		c.markHealthy()
		return true
	}

	// A stale token is not an outage.
	if c.refreshAccessToken(ctx) {
		if _, err := c.listStorages(ctx); err == nil {
			c.markHealthy()
			return true
		}
	}

	logger.Warnf("pentaract health check failed: %v", err)
	c.markUnhealthy()
	return false
}

// Upload transfers a local file to remotePath. Files above the stream
// threshold are sent with a piped multipart body instead of being read into
// memory. A 401 triggers one token refresh and one retry of the same call.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) Result {
	return c.upload(ctx, localPath, remotePath, true)
}

func (c *Client) upload(ctx context.Context, localPath, remotePath string, allowRefresh bool) Result {
	info, err := os.Stat(localPath)
	if err != nil {
		return Result{Success: false, Error: "file not found"}
	}
	size := info.Size()

	logger.Infof("uploading %s (%d bytes) to pentaract: %s", filepath.Base(localPath), size, remotePath)

	var resp *http.Response
	if size > c.streamThreshold {
		logger.Debugf("using streaming upload for large file (%d bytes)", size)
		resp, err = c.postMultipartStreaming(ctx, localPath, remotePath)
	} else {
		resp, err = c.postMultipartBuffered(ctx, localPath, remotePath)
	}
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return Result{Success: true, Path: remotePath, Size: size}
	case http.StatusUnauthorized:
		if allowRefresh && c.refreshAccessToken(ctx) {
			logger.Infof("token expired during upload, retrying after refresh")
			return c.upload(ctx, localPath, remotePath, false)
		}
		return Result{Success: false, Error: "authentication failed"}
	default:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{Success: false, Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(text))}
	}
}

func (c *Client) postMultipartBuffered(ctx context.Context, localPath, remotePath string) (*http.Response, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.WriteField("path", remotePath); err != nil {
		return nil, err
	}
	if err := writer.WriteField("storage_id", c.StorageID()); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeader(req)

	return c.httpClient.Do(req)
}

func (c *Client) postMultipartStreaming(ctx context.Context, localPath, remotePath string) (*http.Response, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer file.Close()

		part, err := writer.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		buf := make([]byte, c.streamChunkSize)
		if _, err := io.CopyBuffer(part, file, buf); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := writer.WriteField("path", remotePath); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := writer.WriteField("storage_id", c.StorageID()); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := writer.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeader(req)

	return c.httpClient.Do(req)
}

// Download fetches remotePath into localPath.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) Result {
	return c.download(ctx, remotePath, localPath, true)
}

func (c *Client) download(ctx context.Context, remotePath, localPath string, allowRefresh bool) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/download?"+c.pathQuery(remotePath), nil)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		out, err := os.Create(localPath)
		if err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		written, err := io.Copy(out, resp.Body)
		closeErr := out.Close()
		if err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		if closeErr != nil {
			return Result{Success: false, Error: closeErr.Error()}
		}
		logger.Infof("downloaded %s (%d bytes)", remotePath, written)
		return Result{Success: true, Path: localPath, Size: written}
	case http.StatusUnauthorized:
		if allowRefresh && c.refreshAccessToken(ctx) {
			logger.Infof("token expired during download, retrying after refresh")
			return c.download(ctx, remotePath, localPath, false)
		}
		return Result{Success: false, Error: "authentication failed"}
	default:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{Success: false, Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(text))}
	}
}

// Delete removes remotePath from the store.
func (c *Client) Delete(ctx context.Context, remotePath string) bool {
	return c.delete(ctx, remotePath, true)
}

func (c *Client) delete(ctx context.Context, remotePath string, allowRefresh bool) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files?"+c.pathQuery(remotePath), nil)
	if err != nil {
		return false
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Errorf("failed to delete file: %v", err)
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		logger.Infof("file deleted: %s", remotePath)
		return true
	case http.StatusUnauthorized:
		if allowRefresh && c.refreshAccessToken(ctx) {
			return c.delete(ctx, remotePath, false)
		}
		return false
	default:
		logger.Errorf("failed to delete file: status %d", resp.StatusCode)
		return false
	}
}

// ListFiles lists entries under folder (empty string for the root).
func (c *Client) ListFiles(ctx context.Context, folder string) ([]FileEntry, error) {
	return c.listFiles(ctx, folder, true)
}

func (c *Client) listFiles(ctx context.Context, folder string, allowRefresh bool) ([]FileEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/list?"+c.pathQuery(folder), nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var entries []FileEntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			return nil, err
		}
		return entries, nil
	case http.StatusUnauthorized:
		if allowRefresh && c.refreshAccessToken(ctx) {
			return c.listFiles(ctx, folder, false)
		}
		return nil, fmt.Errorf("authentication failed")
	default:
		return nil, fmt.Errorf("list files failed: %d", resp.StatusCode)
	}
}

// FileInfo returns the entry for remotePath, or nil when it does not exist.
func (c *Client) FileInfo(ctx context.Context, remotePath string) (*FileEntry, error) {
	return c.fileInfo(ctx, remotePath, true)
}

func (c *Client) fileInfo(ctx context.Context, remotePath string, allowRefresh bool) (*FileEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/info?"+c.pathQuery(remotePath), nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var entry FileEntry
		if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
			return nil, err
		}
		return &entry, nil
	case http.StatusNotFound:
		return nil, nil
	case http.StatusUnauthorized:
		if allowRefresh && c.refreshAccessToken(ctx) {
			return c.fileInfo(ctx, remotePath, false)
		}
		return nil, fmt.Errorf("authentication failed")
	default:
		return nil, fmt.Errorf("get file info failed: %d", resp.StatusCode)
	}
}

func (c *Client) pathQuery(path string) string {
	q := url.Values{}
	q.Set("path", path)
	q.Set("storage_id", c.StorageID())
	return q.Encode()
}

func (c *Client) setAuthHeader(req *http.Request) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
}

func (c *Client) StorageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storageID
}

func (c *Client) setStorageID(id string) {
	c.mu.Lock()
	c.storageID = id
	c.mu.Unlock()
}

func (c *Client) setAvailable(v bool) {
	c.mu.Lock()
	c.available = v
	c.mu.Unlock()
}

func (c *Client) markHealthy() {
	c.mu.Lock()
	c.available = true
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// markUnhealthy also stamps the check time; an outage is cached for the same
// window as a healthy answer, so callers do not hammer a dead endpoint.
func (c *Client) markUnhealthy() {
	c.mu.Lock()
	c.available = false
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}
