// Package client provides an HTTP client for the click model prediction
// server.
package client

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

	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// Prediction kinds, matching the server endpoints.
const (
	KindPredict     = "predict"
	KindConditional = "conditional"
	KindRelevance   = "relevance"
)

// Client is an HTTP client for the prediction server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the prediction server.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8090",
		Timeout:         30 * time.Second,
		UserAgent:       "rice-clickmodels",
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// SessionRequest is one session submitted for prediction.
type SessionRequest struct {
	Query     string            `json:"query"`
	Docs      []string          `json:"docs"`
	Clicks    []bool            `json:"clicks,omitempty"`
	Relevance []int             `json:"relevance,omitempty"`
	Vertical  *session.Vertical `json:"vertical,omitempty"`
}

// NewSessionRequest converts a session to its request form. Grades are sent
// only when at least one result is graded.
func NewSessionRequest(s *session.Session) SessionRequest {
	return SessionRequest{
		Query:     s.Query,
		Docs:      s.Docs(),
		Clicks:    s.Clicks(),
		Relevance: s.Grades(),
		Vertical:  s.Vertical,
	}
}

// PredictResponse carries one value list per submitted session.
type PredictResponse struct {
	Model    string      `json:"model"`
	Snapshot string      `json:"snapshot"`
	Kind     string      `json:"kind"`
	Results  [][]float64 `json:"results"`
}

// ModelInfo describes a stored snapshot.
type ModelInfo struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Rule      string    `json:"rule"`
	MaxRank   int       `json:"max_rank"`
	Sessions  int       `json:"sessions"`
	TrainedAt time.Time `json:"trained_at"`
	Checksum  string    `json:"checksum"`
	Params    int       `json:"params"`
}

// ModelList lists stored snapshots and trainable model names.
type ModelList struct {
	Snapshots []string `json:"snapshots"`
	Available []string `json:"available"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// APIError represents an API error response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFound reports whether the server answered 404.
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// envelope is the data/meta wrapper of /v1 responses.
type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

// Health checks if the server is healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListModels returns stored snapshots and trainable model names.
func (c *Client) ListModels(ctx context.Context) (*ModelList, error) {
	var resp ModelList
	if err := c.get(ctx, "/v1/models", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetModel returns snapshot metadata.
func (c *Client) GetModel(ctx context.Context, name string) (*ModelInfo, error) {
	var info ModelInfo
	if err := c.get(ctx, modelPath(name, ""), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteModel deletes a snapshot.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	return c.delete(ctx, modelPath(name, ""))
}

// Predict requests predictions of the given kind for sessions.
func (c *Client) Predict(ctx context.Context, name, kind string, sessions []SessionRequest) (*PredictResponse, error) {
	switch kind {
	case KindPredict, KindConditional, KindRelevance:
	default:
		return nil, fmt.Errorf("invalid prediction kind %q", kind)
	}

	req := struct {
		Sessions []SessionRequest `json:"sessions"`
	}{Sessions: sessions}

	var resp PredictResponse
	if err := c.post(ctx, modelPath(name, kind), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func modelPath(name, suffix string) string {
	p := "/v1/models/" + url.PathEscape(name)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// delete performs a DELETE request.
func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, nil)
}

// do executes a request and decodes the body into result, unwrapping the
// data envelope when present.
func (c *Client) do(req *http.Request, result interface{}) error {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &apiErr
	}

	if result == nil || len(body) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && env.Meta.RequestID != "" {
		body = env.Data
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
