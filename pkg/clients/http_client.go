// Package clients provides the HTTP client used to reach upstream APIs.
package clients

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// DefaultUserAgent is sent when a request carries no User-Agent.
const DefaultUserAgent = "nebula-cdk/1.0"

// HTTPClient wraps a tuned transport with auth, rate limiting and default headers.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	totalRequests  int64
	failedRequests int64

	rateLimiter RateLimiter
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host,omitempty"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host" yaml:"max_conns_per_host,omitempty"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout,omitempty"`
	DisableCompression  bool          `mapstructure:"disable_compression" yaml:"disable_compression,omitempty"`
	EnableHTTP2         bool          `mapstructure:"enable_http2" yaml:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout" yaml:"tls_handshake_timeout,omitempty"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout" yaml:"response_header_timeout,omitempty"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" yaml:"request_timeout,omitempty"`
	KeepAlive             time.Duration `mapstructure:"keep_alive" yaml:"keep_alive,omitempty"`

	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify,omitempty"`

	// Rate limiting; zero disables it
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst,omitempty"`

	UserAgent string     `mapstructure:"user_agent" yaml:"user_agent,omitempty"`
	Auth      AuthConfig `mapstructure:"auth" yaml:"auth,omitempty"`
}

// DefaultHTTPConfig returns the default client configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       10,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RequestTimeout:        60 * time.Second,
		KeepAlive:             30 * time.Second,
		UserAgent:             DefaultUserAgent,
	}
}

// NewHTTPClient creates a client from config. A nil config uses the defaults.
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) (*HTTPClient, error) {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Auth.Validate(); err != nil {
		return nil, err
	}

	client := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		// Bodies are decompressed by errorhandler.NewResponse, which also knows zstd.
		DisableCompression: true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // opt-in for test endpoints
			MinVersion:         tls.VersionTLS12,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	base := &http.Client{
		Transport: client.transport,
		Timeout:   config.RequestTimeout,
	}
	rt, err := config.Auth.roundTripper(base)
	if err != nil {
		return nil, err
	}

	client.httpClient = &http.Client{
		Transport: rt,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.RateLimit > 0 {
		client.rateLimiter = NewTokenBucketRateLimiter(config.RateLimit, config.RateBurst)
	}

	return client, nil
}

// Do sends req after rate limiting and default headers. Transport failures
// are returned as connection errors; any HTTP status is returned as a response.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
		}
	}

	c.applyDefaults(req)
	atomic.AddInt64(&c.totalRequests, 1)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "request cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("url", req.URL.Redacted())
	}
	return resp, nil
}

func (c *HTTPClient) applyDefaults(req *http.Request) {
	if req.Header.Get("Accept-Encoding") == "" && !c.config.DisableCompression {
		req.Header.Set("Accept-Encoding", "gzip, deflate, zstd")
	}
	if req.Header.Get("User-Agent") == "" {
		ua := c.config.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		req.Header.Set("User-Agent", ua)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	total := atomic.LoadInt64(&c.totalRequests)
	failed := atomic.LoadInt64(&c.failedRequests)
	stats := HTTPStats{
		TotalRequests:  total,
		FailedRequests: failed,
	}
	if total > 0 {
		stats.SuccessRate = float64(total-failed) / float64(total) * 100
	}
	if c.rateLimiter != nil {
		rl := c.rateLimiter.GetStats()
		stats.RateLimiter = &rl
	}
	return stats
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64             `json:"total_requests"`
	FailedRequests int64             `json:"failed_requests"`
	SuccessRate    float64           `json:"success_rate"`
	RateLimiter    *RateLimiterStats `json:"rate_limiter,omitempty"`
}
