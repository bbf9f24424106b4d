// Package resource issues the HTTP calls the synchronization layer depends on
// and adapts the server's response envelopes into typed values.
package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Client issues one logical request against a named endpoint and returns a
// normalized Result. The returned error is non-nil only when no response was
// received; server rejections are reported through Result.IsSuccess.
type Client interface {
	Get(ctx context.Context, path string, params url.Values) (types.Result, error)
	Post(ctx context.Context, path string, body any) (types.Result, error)
	Put(ctx context.Context, path string, body any) (types.Result, error)
	Delete(ctx context.Context, path string, body any) (types.Result, error)
}

var _ Client = (*HTTPClient)(nil)

const (
	defaultBaseURL   = "http://127.0.0.1:8000"
	defaultUserAgent = "go-syncstore/0.1"
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 32 << 20
)

// HTTPClientConfig holds the configuration for an HTTPClient.
type HTTPClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPClient is the net/http implementation of Client.
type HTTPClient struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	token     TokenProvider
	logger    zerolog.Logger
}

// NewHTTPClient builds an HTTPClient. token may be nil for unauthenticated use.
func NewHTTPClient(cfg HTTPClientConfig, token TokenProvider, logger zerolog.Logger) (*HTTPClient, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &HTTPClient{
		baseURL:   base,
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		token:     token,
		logger:    logger.With().Str("component", "HTTPClient").Logger(),
	}, nil
}

// Get issues a GET with the given query parameters.
func (c *HTTPClient) Get(ctx context.Context, path string, params url.Values) (types.Result, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post issues a POST with body encoded as JSON.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (types.Result, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

// Put issues a PUT with body encoded as JSON.
func (c *HTTPClient) Put(ctx context.Context, path string, body any) (types.Result, error) {
	return c.do(ctx, http.MethodPut, path, nil, body)
}

// Delete issues a DELETE. body may be nil.
func (c *HTTPClient) Delete(ctx context.Context, path string, body any) (types.Result, error) {
	return c.do(ctx, http.MethodDelete, path, nil, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body any) (types.Result, error) {
	op := method + " " + path
	reqURL := *c.baseURL
	reqURL.Path = c.baseURL.Path + "/" + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		reqURL.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return types.Result{}, fmt.Errorf("encode %s body: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return types.Result{}, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Str("request_id", requestID).Msg("Request failed before a response was received.")
		return types.Result{}, types.Transport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.Result{}, types.Transport(op, fmt.Errorf("read response: %w", err))
	}

	result := normalize(resp.StatusCode, data)
	if !result.IsSuccess {
		c.logger.Debug().Str("op", op).Str("request_id", requestID).Int("status", resp.StatusCode).Str("message", result.Message).Msg("Server rejected request.")
	}
	return result, nil
}

// bearer returns the current token. Token failures are swallowed: the request
// goes out unauthenticated rather than failing here.
func (c *HTTPClient) bearer(ctx context.Context) string {
	if c.token == nil {
		return ""
	}
	token, err := c.token(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Token provider failed, sending request unauthenticated.")
		return ""
	}
	return token
}

// normalize maps an HTTP response onto Result. A 2xx body that carries an
// explicit "success": false is treated as a rejection.
func normalize(status int, data []byte) types.Result {
	result := types.Result{IsSuccess: status >= 200 && status < 300}
	if len(bytes.TrimSpace(data)) > 0 {
		result.Data = json.RawMessage(data)
	}
	if result.IsSuccess && gjson.ValidBytes(data) {
		if flag := gjson.GetBytes(data, "success"); flag.Exists() && (flag.Type == gjson.False) {
			result.IsSuccess = false
		}
	}
	if !result.IsSuccess {
		result.Message = messageFrom(data)
		if result.Message == "" && (status < 200 || status >= 300) {
			result.Message = http.StatusText(status)
		}
	}
	return result
}

// messageFrom looks for a human readable message in an error body.
func messageFrom(data []byte) string {
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}
	for _, path := range []string{"message", "detail", "error.message", "error"} {
		if v := gjson.GetBytes(data, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", raw, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
