// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps how much of a response body is read.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 32 * 1024 * 1024

	userAgent = "rigchat-sync/1"
)

// PERFORMANCE: Connection pooling shared by every sync client.
var sharedTransport = &http.Transport{
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 5,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
}

// Client talks to one sync server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	guard      func(rawURL string) error

	mu          sync.RWMutex
	accessToken string
}

// New returns a client for baseURL. A trailing slash is dropped.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Transport: sharedTransport, Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
	return c
}

// WithLogger sets the request logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// WithGuard installs a check run against the server URL before every
// request, used to refuse remote servers in offline mode.
func (c *Client) WithGuard(guard func(rawURL string) error) *Client {
	c.guard = guard
	return c
}

// BaseURL returns the server address without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

// AccessToken returns the current bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// =============================================================================
// TRANSPORT
// =============================================================================

// call performs one request and decodes the envelope into out.
func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	if c.guard != nil {
		if err := c.guard(c.baseURL); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// SECURITY: never log headers or bodies, they carry tokens and ciphertext
	c.logger.Debug("sync request", "method", method, "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return &HTTPError{Status: resp.StatusCode, StatusText: statusText(resp)}
	}

	data, err := readResponse(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// statusText is the reason phrase without the leading code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// readResponse reads the body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

func get[T any](ctx context.Context, c *Client, endpoint string) (*Response[T], error) {
	var out Response[T]
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func send[T any](ctx context.Context, c *Client, method, endpoint string, body any) (*Response[T], error) {
	var out Response[T]
	if err := c.call(ctx, method, endpoint, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) (*Response[Health], error) {
	return get[Health](ctx, c, "/health")
}

// GenerateWallet creates a new user for passphrase.
func (c *Client) GenerateWallet(ctx context.Context, req GenerateWalletRequest) (*Response[GenerateWalletResponse], error) {
	return send[GenerateWalletResponse](ctx, c, http.MethodPost, "/api/v1/auth/generate-wallet", req)
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*Response[LoginResponse], error) {
	return send[LoginResponse](ctx, c, http.MethodPost, "/api/v1/auth/login", req)
}

// Refresh exchanges a refresh token for new tokens.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (*Response[AuthTokens], error) {
	return send[AuthTokens](ctx, c, http.MethodPost, "/api/v1/auth/refresh", req)
}

// =============================================================================
// SYNC ENDPOINTS
// =============================================================================

func (c *Client) GetProviderInstances(ctx context.Context) (*Response[ProviderInstances], error) {
	return get[ProviderInstances](ctx, c, "/api/v1/sync/provider-instances")
}

func (c *Client) UpdateProviderInstances(ctx context.Context, req SyncRequest[ProviderInstances]) (*Response[ProviderInstances], error) {
	return send[ProviderInstances](ctx, c, http.MethodPut, "/api/v1/sync/provider-instances", req)
}

func (c *Client) GetDisabledModels(ctx context.Context) (*Response[DisabledModels], error) {
	return get[DisabledModels](ctx, c, "/api/v1/sync/disabled-models")
}

func (c *Client) UpdateDisabledModels(ctx context.Context, req SyncRequest[DisabledModels]) (*Response[DisabledModels], error) {
	return send[DisabledModels](ctx, c, http.MethodPut, "/api/v1/sync/disabled-models", req)
}

func (c *Client) GetAdvancedSettings(ctx context.Context) (*Response[AdvancedSettings], error) {
	return get[AdvancedSettings](ctx, c, "/api/v1/sync/advanced-settings")
}

func (c *Client) UpdateAdvancedSettings(ctx context.Context, req SyncRequest[AdvancedSettings]) (*Response[AdvancedSettings], error) {
	return send[AdvancedSettings](ctx, c, http.MethodPut, "/api/v1/sync/advanced-settings", req)
}

// ChangesSince returns everything that changed after ts (unix ms).
func (c *Client) ChangesSince(ctx context.Context, ts int64) (*Response[ChangesSince], error) {
	return get[ChangesSince](ctx, c, "/api/v1/sync/changes-since/"+strconv.FormatInt(ts, 10))
}

// UpsertThread creates or replaces a thread header.
func (c *Client) UpsertThread(ctx context.Context, threadID string, req SyncRequest[SyncThread]) (*Response[SyncThread], error) {
	return send[SyncThread](ctx, c, http.MethodPut, "/api/v1/sync/threads/"+url.PathEscape(threadID), req)
}

// UpsertMessage creates or replaces a message.
func (c *Client) UpsertMessage(ctx context.Context, messageID string, req SyncRequest[SyncMessage]) (*Response[SyncMessage], error) {
	return send[SyncMessage](ctx, c, http.MethodPut, "/api/v1/sync/messages/"+url.PathEscape(messageID), req)
}
