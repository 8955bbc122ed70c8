// Package client is a typed HTTP client for the broker API. It holds the
// access token obtained at login and sends it on every protected call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/docbroker/docbroker/internal/api"
	"github.com/docbroker/docbroker/internal/apperr"
	"github.com/docbroker/docbroker/internal/uploads"
)

// APIError is a non-success response from the broker.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker: HTTP %d", e.Status)
	}
	return fmt.Sprintf("broker: HTTP %d: %s", e.Status, e.Message)
}

// Unwrap maps the status to the shared error taxonomy so callers can use
// errors.Is(err, apperr.ErrUnauthorized) and friends.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return apperr.ErrUnauthorized
	case http.StatusForbidden:
		return apperr.ErrForbidden
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusBadRequest:
		return apperr.ErrInvalidInput
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client talks to one broker instance.
type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a client for the broker at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current access token, if any.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the access token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Login exchanges credentials for an access token and keeps it.
func (c *Client) Login(ctx context.Context, username, password string) (api.LoginResponse, error) {
	var resp api.LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", api.LoginRequest{Username: username, Password: password}, &resp, false)
	if err != nil {
		return api.LoginResponse{}, err
	}
	c.SetToken(resp.Token)
	return resp, nil
}

// Logout forgets the access token.
func (c *Client) Logout() {
	c.SetToken("")
}

// Verify checks the held token.
func (c *Client) Verify(ctx context.Context) (api.VerifyResponse, error) {
	var resp api.VerifyResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/auth/verify", nil, &resp, true)
	return resp, err
}

// RegisterDocument records a document URL and returns its stable key.
func (c *Client) RegisterDocument(ctx context.Context, req api.MetadataRequest) (api.MetadataResponse, error) {
	var resp api.MetadataResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/documents/metadata", req, &resp, true)
	return resp, err
}

// SignConfig asks the broker to sign an editor configuration.
func (c *Client) SignConfig(ctx context.Context, config map[string]any) (api.EditorTokenResponse, error) {
	var resp api.EditorTokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/onlyoffice/token", api.EditorTokenRequest{Config: config}, &resp, true)
	return resp, err
}

// Health fetches the unauthenticated health report.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp, false)
	return resp, err
}

// Upload streams r to the broker as a multipart file named filename.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (api.UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/uploads", pr)
	if err != nil {
		_ = pr.Close()
		return api.UploadResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp api.UploadResponse
	if err := c.do(req, &resp, true); err != nil {
		_ = pr.CloseWithError(err)
		return api.UploadResponse{}, err
	}
	return resp, nil
}

// DeleteUpload removes an upload. A 404 is the NotFound outcome, not an
// error.
func (c *Client) DeleteUpload(ctx context.Context, uploadID string) (uploads.RemoveResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/api/uploads/"+url.PathEscape(uploadID), nil)
	if err != nil {
		return uploads.NotFound, err
	}
	if err := c.do(req, nil, true); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return uploads.NotFound, nil
		}
		return uploads.NotFound, err
	}
	return uploads.Removed, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("broker: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out, authed)
}

func (c *Client) do(req *http.Request, out any, authed bool) error {
	req.Header.Set("Accept", "application/json")
	if authed {
		if tok := c.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("broker: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Message string `json:"message"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body) == nil {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("broker: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
