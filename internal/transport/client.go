// Package transport sends injected payloads to the target endpoint and
// returns the raw response signal for classification.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/xfil/internal/model"
	"go.uber.org/zap"
)

// sendSleepFunc is the sleep function used between retries (injectable for tests)
var sendSleepFunc = time.Sleep

// Response is the part of an HTTP exchange the oracle classifies
type Response struct {
	StatusCode int
	Body       string
}

// Options configures a Client
type Options struct {
	URL         string
	Method      string
	Param       string
	ContentType string
	PostData    map[string]string
	Headers     map[string]string

	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	InsecureTLS  bool
	HTTPProxy    string
	HTTPSProxy   string
	MaxRetries   int

	Throttle *Throttle
	Logger   *zap.Logger
}

// OptionsFromConfig builds client options from the run configuration
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		URL:          cfg.Target.URL,
		Method:       cfg.Target.Method,
		Param:        cfg.Target.Param,
		ContentType:  cfg.Target.ContentType,
		PostData:     cfg.Target.PostData,
		Headers:      cfg.Target.Headers,
		Timeout:      cfg.HTTP.Timeout,
		UserAgent:    cfg.HTTP.UserAgent,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		InsecureTLS:  cfg.HTTP.InsecureTLS,
		HTTPProxy:    cfg.HTTP.HTTPProxy,
		HTTPSProxy:   cfg.HTTP.HTTPSProxy,
		MaxRetries:   cfg.HTTP.MaxRetries,
		Throttle:     NewThrottle(cfg.RateLimiting),
	}
}

// Client sends one payload per call to the configured endpoint
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     *zap.Logger
}

// NewClient creates a new Client with the given options
func NewClient(opts Options) (*Client, error) {
	if _, err := url.ParseRequestURI(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	opts.Method = strings.ToUpper(opts.Method)
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Method != http.MethodGet && opts.Method != http.MethodPost {
		return nil, fmt.Errorf("unsupported method: %s", opts.Method)
	}
	if opts.Param == "" {
		return nil, fmt.Errorf("vulnerable parameter name is required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2_000_000
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	proxy, err := proxyFunc(opts.HTTPProxy, opts.HTTPSProxy)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy: proxy,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: opts.InsecureTLS,
				},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		opts:   opts,
		logger: logger,
	}, nil
}

// Send delivers payload as the vulnerable parameter and returns the response.
// Connection errors, 429 and 5xx are retried up to MaxRetries times; after
// that a 5xx is still returned as a response, only connection errors fail.
func (c *Client) Send(ctx context.Context, payload string) (*Response, error) {
	var (
		resp *Response
		err  error
	)

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			c.logger.Debug("retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			sendSleepFunc(backoff)
		}

		resp, err = c.sendOnce(ctx, payload)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(resp, err) {
			return resp, err
		}
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) sendOnce(ctx context.Context, payload string) (*Response, error) {
	if c.opts.Throttle != nil {
		if err := c.opts.Throttle.Wait(ctx, hostOf(c.opts.URL)); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := c.buildRequest(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       string(body),
	}, nil
}

// isRetryable reports whether an attempt failed transiently
func isRetryable(resp *Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return isRetryableNetworkError(err.Error())
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600)
}

// isRetryableNetworkError checks error strings for transient network failures
func isRetryableNetworkError(errMsg string) bool {
	s := strings.ToLower(errMsg)
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "eof")
}
