package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AmmannChristian/go-apiclient/httpclient"
	"github.com/AmmannChristian/go-apiclient/internal/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
)

// Request describes one API call. Path is resolved against the client's base
// URL. Header values override the client's default headers key by key; an
// Authorization header set here replaces the bearer token.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is a 2xx response with its body read in full.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client calls a REST API with bearer tokens from a TokenProvider.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	header     http.Header
	timeout    time.Duration
	log        logr.Logger
	metrics    *metrics.Recorder

	// construction-only settings
	custom    *http.Client
	base      http.RoundTripper
	tls       httpclient.TLSOptions
	redirects httpclient.RedirectPolicy
	registry  prometheus.Registerer
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithHTTPClient uses a copy of client for requests. Its Transport is wrapped
// to add bearer tokens; timeout, cookie jar and a non-nil CheckRedirect are
// kept.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.custom = client
	}
}

// WithBaseTransport sets the transport that carries authenticated requests.
// It takes precedence over the Transport of a client given to WithHTTPClient.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.base = rt
	}
}

// WithTLS sets how the API server is verified and which client certificate
// is presented.
func WithTLS(opts httpclient.TLSOptions) Option {
	return func(c *Client) {
		c.tls = opts
	}
}

// WithRedirectPolicy sets which redirects are followed. The default,
// httpclient.RedirectSameHost, returns a redirect to another host as an
// *HTTPError.
func WithRedirectPolicy(p httpclient.RedirectPolicy) Option {
	return func(c *Client) {
		c.redirects = p
	}
}

// WithTimeout bounds every call, including the token fetch it may wait for.
// Zero, the default, leaves calls bounded only by their context.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHeader adds a header sent with every request unless the request
// overrides it.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// WithUserAgent sets the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.header.Set("User-Agent", ua)
	}
}

// WithLogr sets a structured logger for completed calls.
func WithLogr(logger logr.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

// WithMetrics records call counts, durations and 401 replays on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registry = reg
	}
}

// New creates a client for the API rooted at baseURL. Every request carries a
// token from provider; a 401 response makes the client invalidate that token
// and replay the request once.
func New(baseURL string, provider httpclient.TokenProvider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, errors.New("apiclient: token provider is nil")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("apiclient: base URL %q must be an absolute http or https URL", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  make(http.Header),
		log:     logr.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.metrics = metrics.New(c.registry)

	base := c.base
	if base == nil && c.custom != nil {
		base = c.custom.Transport
	}

	// Timeouts are applied per call, so the built client has none of its own.
	built, err := httpclient.NewBuilder().
		WithTokenProvider(provider).
		WithBaseTransport(base).
		WithTLS(c.tls).
		WithRedirectPolicy(c.redirects).
		WithMetrics(c.registry).
		WithTimeout(0).
		Build()
	if err != nil {
		return nil, fmt.Errorf("apiclient: build HTTP client: %w", err)
	}

	if c.custom != nil {
		client := *c.custom
		client.Transport = built.Transport
		if client.CheckRedirect == nil {
			client.CheckRedirect = built.CheckRedirect
		}
		built = &client
	}
	c.httpClient = built
	c.custom, c.base, c.registry = nil, nil, nil

	return c, nil
}

// BaseURL returns the base URL without trailing slashes.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.Call(ctx, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Do performs a request with the given method, headers and body.
func (c *Client) Do(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error) {
	return c.Call(ctx, Request{Method: method, Path: path, Header: header, Body: body})
}

// Call performs req and returns the response if its status is 2xx.
//
// Errors are one of:
//   - *oauth2client.AuthError if no token could be obtained
//   - *NetworkError if no response was received, including when ctx or the
//     client timeout ends the call while it waits for a token
//   - *HTTPError for any other status, including a 401 that persisted
//     after one replay with a fresh token
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		// bytes.Reader lets the transport rewind the body for the 401 replay.
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	httpReq.Header = mergeHeaders(c.header, req.Header)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RequestCompleted(method, 0, time.Since(start))

		var authErr *oauth2client.AuthError
		if errors.As(err, &authErr) {
			if ctx.Err() == nil {
				c.log.Error(authErr, "api call failed to obtain token", "method", method, "url", target)
				return nil, authErr
			}
			// Gave up waiting for the token; report it like any other timeout.
			err = ctx.Err()
		}

		c.log.Error(err, "api call failed", "method", method, "url", target)
		return nil, &NetworkError{Method: method, URL: target, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RequestCompleted(method, 0, elapsed)
		return nil, &NetworkError{Method: method, URL: target, Err: fmt.Errorf("read response body: %w", err)}
	}

	c.metrics.RequestCompleted(method, resp.StatusCode, elapsed)
	c.log.V(1).Info("api call completed",
		"method", method, "url", target, "status", resp.StatusCode, "duration", elapsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header,
			Body:       data,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// resolve joins the base URL and path with exactly one slash.
func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "//") {
		return "", fmt.Errorf("apiclient: path %q must be relative to the base URL", path)
	}
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return "", fmt.Errorf("apiclient: path %q must be relative to the base URL", path)
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/"), nil
}

// mergeHeaders returns defaults overlaid with override, key by key.
func mergeHeaders(defaults, override http.Header) http.Header {
	merged := defaults.Clone()
	for key, values := range override {
		key = http.CanonicalHeaderKey(key)
		merged[key] = append([]string(nil), values...)
	}
	return merged
}

// unwrapURLError strips the *url.Error http.Client adds; NetworkError already
// carries the method and URL.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
