package tampertrail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

const (
	DefaultURL     = "http://localhost/v1/log"
	DefaultAPIKey  = "<your-api-key-here>"
	DefaultTimeout = 2 * time.Second
)

// ErrClientClosed is returned by Post after Close has been called
var ErrClientClosed = errors.New("tampertrail: client closed")

// Config holds the shared client configuration. It is fixed once the client is built.
type Config struct {
	URL           string
	APIKey        string
	Timeout       time.Duration
	TLSSkipVerify bool
	Proxy         string
}

// DefaultConfig returns a Config pointing at the local placeholder endpoint
func DefaultConfig() Config {
	return Config{
		URL:     DefaultURL,
		APIKey:  DefaultAPIKey,
		Timeout: DefaultTimeout,
	}
}

// Client is the process-wide pooled HTTP client used to reach the ingestion
// endpoint. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	transport  *http.Transport
	closed     atomic.Bool
}

// NewClient creates the shared client. The endpoint URL is not validated here;
// a bad URL shows up as a failed Post.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	rt := http.DefaultTransport.(*http.Transport).Clone()
	rt.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		rt.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		config:    cfg,
		transport: rt,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: rt,
		},
	}, nil
}

// Config returns a copy of the client configuration
func (c *Client) Config() Config {
	return c.config
}

// Post sends body to the configured endpoint with the API key and JSON
// content type headers. Non-2xx responses are returned as errors.
func (c *Client) Post(ctx context.Context, body []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post log: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection goes back to the pool
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Close marks the client closed and releases pooled idle connections.
// It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	return nil
}

// StatusError reports a non-2xx response from the ingestion endpoint
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tampertrail: unexpected status %d", e.StatusCode)
}
