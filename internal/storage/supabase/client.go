// Package supabase is the secondary object store: a Supabase-compatible Storage REST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/evermore/evermore/internal/resilience"
	"github.com/evermore/evermore/internal/storage"
)

// ProviderName identifies this store in logs.
const ProviderName = "supabase"

// ErrMissingConfig is returned by NewClient when the URL or service key is empty.
var ErrMissingConfig = errors.New("supabase: url and service key are required")

// ClientConfig holds configuration for the Storage REST client.
type ClientConfig struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co (required).
	URL string

	// ServiceKey authenticates uploads (required).
	ServiceKey string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient resilience.HTTPDoer

	Logger zerolog.Logger
}

// Client implements storage.Store against the Storage REST API.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient resilience.HTTPDoer
	logger     zerolog.Logger
}

var _ storage.Store = (*Client)(nil)

// NewClient creates a new Storage REST client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" {
		return nil, ErrMissingConfig
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Put uploads in.Body, overwriting any existing object with the same key.
func (c *Client) Put(ctx context.Context, in storage.PutInput) error {
	endpoint := c.baseURL + "/storage/v1/object/" + url.PathEscape(in.Bucket) + "/" + escapeKey(in.Key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(in.Body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	c.authorize(req)
	req.Header.Set("Content-Type", in.ContentType)
	req.Header.Set("x-upsert", "true")
	if in.CacheControl != "" {
		req.Header.Set("Cache-Control", in.CacheControl)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	c.logger.Debug().Str("bucket", in.Bucket).Str("key", in.Key).Int("size", len(in.Body)).Msg("object stored")
	return nil
}

// HeadBucket checks that bucket exists and the service key can read it.
func (c *Client) HeadBucket(ctx context.Context, bucket string) error {
	endpoint := c.baseURL + "/storage/v1/bucket/" + url.PathEscape(bucket)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// PublicURL returns the public object URL for key in bucket.
func (c *Client) PublicURL(bucket, key string) string {
	return c.baseURL + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapeKey(key)
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
}

// escapeKey escapes each path segment of key, keeping the separators.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

type errorResponse struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// StatusError is a non-success response from the Storage API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Message)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed errorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Message != "" || parsed.Error != "") {
		msg = parsed.Message
		if msg == "" {
			msg = parsed.Error
		}
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
