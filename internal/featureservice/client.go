// Package featureservice is a client for ArcGIS REST FeatureServer layers.
// It reads layer metadata and runs attribute queries; query execution itself
// happens on the remote service.
package featureservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Default configuration values
const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "AlbedoMap/1.0"
	maxBodySnippet   = 500
)

// Errors returned by the client
var (
	ErrEmptyURL  = errors.New("layer URL is empty")
	ErrJSONParse = errors.New("failed to parse service response")
)

// Client issues requests against FeatureServer layers.
// A Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	token      string
	userAgent  string
	retry      errhandling.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken appends a pre-issued token parameter to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg errhandling.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a client with default timeout and retry policy.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
		retry:      errhandling.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromErrorHandling builds client options from viewer configuration.
func FromErrorHandling(eh *albedo.ErrorHandling) []Option {
	if eh == nil {
		return nil
	}
	retry := errhandling.DefaultRetryConfig()
	retry.MaxAttempts = eh.RetryCount
	if eh.RetryDelay > 0 {
		retry.DelayMs = eh.RetryDelay
	}
	opts := []Option{WithRetry(retry)}
	if eh.TimeoutMs > 0 {
		opts = append(opts, WithTimeout(time.Duration(eh.TimeoutMs)*time.Millisecond))
	}
	return opts
}

// serviceError is the error object ArcGIS embeds in response bodies.
type serviceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

type envelope struct {
	Error *serviceError `json:"error"`
}

// Metadata fetches the layer description document (?f=json).
func (c *Client) Metadata(ctx context.Context, layerURL string) (*albedo.LayerMetadata, error) {
	endpoint, err := c.endpoint(layerURL, "", url.Values{"f": []string{"json"}})
	if err != nil {
		return nil, err
	}

	var meta albedo.LayerMetadata
	if err := c.getJSON(ctx, endpoint, "metadata", &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Query runs an attribute query against the layer.
func (c *Client) Query(ctx context.Context, layerURL string, params QueryParams) (*albedo.FeatureSet, error) {
	endpoint, err := c.endpoint(layerURL, "query", params.Values())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var fs albedo.FeatureSet
	if err := c.getJSON(ctx, endpoint, "query", &fs); err != nil {
		return nil, err
	}
	if params.ReturnCountOnly {
		logger.Debug("feature count received",
			"endpoint", layerURL,
			"where", params.where(),
			"count", fs.Count,
			"duration", time.Since(start),
		)
		return &fs, nil
	}
	fs.Count = len(fs.Features)

	logger.Debug("features received",
		"endpoint", layerURL,
		"where", params.where(),
		"feature_count", fs.Count,
		"exceeded_transfer_limit", fs.ExceededLimit,
		"duration", time.Since(start),
	)
	return &fs, nil
}

// Count returns the number of features matching where.
func (c *Client) Count(ctx context.Context, layerURL, where string) (int, error) {
	fs, err := c.Query(ctx, layerURL, QueryParams{Where: where, ReturnCountOnly: true})
	if err != nil {
		return 0, err
	}
	return fs.Count, nil
}

func (c *Client) endpoint(layerURL, operation string, values url.Values) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(layerURL), "/")
	if base == "" {
		return "", ErrEmptyURL
	}
	if operation != "" {
		base += "/" + operation
	}
	if c.token != "" {
		values.Set("token", c.token)
	}
	return base + "?" + values.Encode(), nil
}

// getJSON performs the request with retries and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, operation string, out interface{}) error {
	executor := errhandling.NewRetryExecutor(c.retry).OnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("feature service request failed, retrying",
			"operation", operation,
			"endpoint", redact(endpoint),
			"attempt", attempt+1,
			"next_delay", delay,
			"error", err.Error(),
		)
	})

	result, err := executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.doRequest(ctx, endpoint)
	})
	if err != nil {
		return err
	}

	body, _ := result.([]byte)
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %w", ErrJSONParse, err)
	}
	if env.Error != nil {
		classified := errhandling.ClassifyServiceError(env.Error.Code, env.Error.Message, env.Error.Details)
		logger.Error("feature service reported an error",
			"operation", operation,
			"endpoint", redact(endpoint),
			"error_code", env.Error.Code,
			"error", classified.Error(),
		)
		return classified
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrJSONParse, err)
	}
	return nil
}

// doRequest executes one GET request and returns the raw response body.
// ArcGIS reports failures inside 200 bodies, so only transport-level
// failures and 4xx/5xx statuses are errors here.
func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	requestStart := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errhandling.NewValidationError(0, "creating http request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	requestDuration := time.Since(requestStart)
	if err != nil {
		return nil, errhandling.ClassifyNetworkError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close response body",
				"endpoint", redact(endpoint),
				"error", closeErr.Error(),
			)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errhandling.NewNetworkError("reading response body", err)
	}

	if resp.StatusCode >= 400 {
		bodySnippet := string(body)
		if len(bodySnippet) > maxBodySnippet {
			bodySnippet = bodySnippet[:maxBodySnippet] + "..."
		}
		logger.Error("http error response",
			"endpoint", redact(endpoint),
			"status_code", resp.StatusCode,
			"status", resp.Status,
			"duration", requestDuration,
			"response_body", bodySnippet,
		)
		classified := errhandling.ClassifyHTTPStatus(resp.StatusCode, bodySnippet)
		if !c.retry.IsStatusCodeRetryable(resp.StatusCode) {
			classified.Retryable = false
		}
		return nil, classified
	}

	logger.Debug("http request completed",
		"endpoint", redact(endpoint),
		"status_code", resp.StatusCode,
		"duration", requestDuration,
		"response_size", len(body),
	)
	return body, nil
}

// redact strips the token parameter from an endpoint before logging.
func redact(endpoint string) string {
	idx := strings.Index(endpoint, "token=")
	if idx < 0 {
		return endpoint
	}
	end := strings.IndexByte(endpoint[idx:], '&')
	if end < 0 {
		return endpoint[:idx] + "token=REDACTED"
	}
	return endpoint[:idx] + "token=REDACTED" + endpoint[idx+end:]
}
