// Package orgx is the client side of the remote OrgX entity API.
package orgx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	otelPkg "github.com/useorgx/openclaw-plugin/internal/otel"
	"github.com/useorgx/openclaw-plugin/internal/shared"
)

var (
	// ErrNotConfigured is returned when no API key is available.
	ErrNotConfigured = errors.New("orgx: api key not configured")
	// ErrUnauthorized is returned for 401/403 responses. It is never retried.
	ErrUnauthorized = errors.New("orgx: unauthorized")
)

const maxResponseBytes = 8 << 20

// EntityClient is the subset of the remote API the plugin depends on.
type EntityClient interface {
	ListEntities(ctx context.Context, entityType string, filters map[string]string) ([]Entity, error)
	UpdateEntity(ctx context.Context, entityType, id string, updates map[string]any) (Entity, error)
	ApplyChangeset(ctx context.Context, cs Changeset) error
	EmitActivity(ctx context.Context, activity Activity) error
}

// StatusError is a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("orgx: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Options configures an HTTPClient.
type Options struct {
	BaseURL        string
	APIKey         string
	UserID         string
	RequestTimeout time.Duration
	CacheSize      int
	CacheTTL       time.Duration
	MaxTries       uint
	RetryInitial   time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Metrics        *otelPkg.Metrics
}

// HTTPClient talks to the remote service over HTTPS with bearer auth.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	userID       string
	timeout      time.Duration
	maxTries     uint
	retryInitial time.Duration
	http         *http.Client
	cache        *expirable.LRU[string, []Entity]
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      *otelPkg.Metrics
}

// NewHTTPClient builds a client. A zero CacheTTL disables list caching.
func NewHTTPClient(opts Options) *HTTPClient {
	c := &HTTPClient{
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:       strings.TrimSpace(opts.APIKey),
		userID:       strings.TrimSpace(opts.UserID),
		timeout:      opts.RequestTimeout,
		maxTries:     opts.MaxTries,
		retryInitial: opts.RetryInitial,
		http:         opts.HTTPClient,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
		metrics:      opts.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.maxTries == 0 {
		c.maxTries = 3
	}
	if c.retryInitial <= 0 {
		c.retryInitial = 500 * time.Millisecond
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = nooptrace.NewTracerProvider().Tracer(otelPkg.ScopeName)
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 256
		}
		c.cache = expirable.NewLRU[string, []Entity](size, nil, opts.CacheTTL)
	}
	return c
}

// ListEntities returns entities of entityType matching filters.
func (c *HTTPClient) ListEntities(ctx context.Context, entityType string, filters map[string]string) ([]Entity, error) {
	q := url.Values{}
	q.Set("type", entityType)
	for k, v := range filters {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	key := q.Encode()
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
	}

	var resp struct {
		Data []Entity `json:"data"`
	}
	if err := c.do(ctx, "list_entities", http.MethodGet, "/api/entities?"+key, nil, &resp); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Add(key, resp.Data)
	}
	return resp.Data, nil
}

// UpdateEntity patches one entity and returns the server's copy.
func (c *HTTPClient) UpdateEntity(ctx context.Context, entityType, id string, updates map[string]any) (Entity, error) {
	var resp struct {
		Data Entity `json:"data"`
	}
	path := "/api/entities/" + url.PathEscape(entityType) + "/" + url.PathEscape(id)
	if err := c.do(ctx, "update_entity", http.MethodPatch, path, updates, &resp); err != nil {
		return Entity{}, err
	}
	c.purge()
	return resp.Data, nil
}

// ApplyChangeset submits a batch of operations.
func (c *HTTPClient) ApplyChangeset(ctx context.Context, cs Changeset) error {
	if err := c.do(ctx, "apply_changeset", http.MethodPost, "/api/changesets", cs, nil); err != nil {
		return err
	}
	c.purge()
	return nil
}

// EmitActivity posts one activity item to the remote feed.
func (c *HTTPClient) EmitActivity(ctx context.Context, activity Activity) error {
	return c.do(ctx, "emit_activity", http.MethodPost, "/api/activity", activity, nil)
}

// Ping checks reachability of the base URL without auth.
func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *HTTPClient) purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("orgx: %s: marshal: %w", op, err)
		}
	}

	ctx, span := otelPkg.StartClientSpan(ctx, c.tracer, "orgx."+op)
	defer span.End()
	started := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial

	attempt := 0
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		return c.attempt(ctx, op, method, path, payload)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	c.metrics.RemoteRequest(ctx, op, time.Since(started), err)
	if err != nil {
		otelPkg.Fail(span, err)
		c.logger.Debug("orgx request failed",
			"op", op,
			"attempts", attempt,
			"trace_id", shared.TraceID(ctx),
			"error", shared.Redact(err.Error()),
		)
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("orgx: %s: decode: %w", op, err)
	}
	return nil
}

func (c *HTTPClient) attempt(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("orgx: %s: %w", op, err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-Orgx-User-Id", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orgx: %s: %w", op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("orgx: %s: read body: %w", op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s returned %d", ErrUnauthorized, op, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: truncate(string(data), 200)}
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(&StatusError{Op: op, Status: resp.StatusCode, Body: truncate(string(data), 200)})
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
