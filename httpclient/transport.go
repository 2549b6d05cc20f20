package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/AmmannChristian/go-apiclient/internal/metrics"
)

// maxDrainBytes bounds how much of a rejected 401 body is read before the
// connection is reused for the retry.
const maxDrainBytes = 4 << 10

// TokenProvider supplies bearer tokens and accepts notice that a token was
// rejected. *oauth2client.TokenManager implements it.
type TokenProvider interface {
	GetTokenWithContext(ctx context.Context) (string, error)
	Invalidate()
}

// tokenInvalidator is implemented by providers that can drop a specific
// rejected token while keeping a newer one. *oauth2client.TokenManager does.
type tokenInvalidator interface {
	InvalidateToken(accessToken string) bool
}

// OAuth2Transport is an http.RoundTripper that automatically adds OAuth2
// Bearer tokens to outgoing HTTP requests.
//
// It wraps an existing transport (typically http.DefaultTransport) and
// injects the Authorization header before each request unless the request
// already carries one. When the server answers 401, the transport invalidates
// the cached token and replays the request once with a fresh token; a second
// 401 is returned to the caller as is.
//
// Tokens are only sent to the host of the request that started a redirect
// chain. A request redirected to another host is forwarded without one.
type OAuth2Transport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// TokenManager provides OAuth2 access tokens.
	TokenManager TokenProvider

	metrics *metrics.Recorder
}

// RoundTrip implements http.RoundTripper interface.
// The token fetch respects the request context's cancellation and deadline.
func (t *OAuth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.TokenManager == nil {
		return nil, errors.New("httpclient: TokenManager is nil")
	}

	if !sameHost(req) {
		return t.base().RoundTrip(req)
	}

	// The first attempt consumes req.Body, so take the replay copy up front.
	retry, canRetry := rewind(req)

	resp, sent, err := t.roundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !canRetry {
		return resp, err
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()

	t.invalidate(sent)
	t.metrics.UnauthorizedRetry()

	resp, _, err = t.roundTrip(retry)
	return resp, err
}

// roundTrip sends req with a bearer token and returns the token it attached,
// or "" when the caller supplied its own Authorization header.
func (t *OAuth2Transport) roundTrip(req *http.Request) (*http.Response, string, error) {
	// Get a valid access token using the request context
	token, err := t.TokenManager.GetTokenWithContext(req.Context())
	if err != nil {
		return nil, "", fmt.Errorf("httpclient: failed to get token: %w", err)
	}

	// Clone the request to avoid modifying the original
	reqClone := req.Clone(req.Context())

	// Caller-supplied credentials take precedence.
	sent := ""
	if reqClone.Header.Get("Authorization") == "" {
		reqClone.Header.Set("Authorization", "Bearer "+token)
		sent = token
	}

	resp, err := t.base().RoundTrip(reqClone)
	return resp, sent, err
}

// invalidate discards the rejected token. When several requests are rejected
// with the same token, only the first one drops it.
func (t *OAuth2Transport) invalidate(rejected string) {
	if inv, ok := t.TokenManager.(tokenInvalidator); ok && rejected != "" {
		inv.InvalidateToken(rejected)
		return
	}
	t.TokenManager.Invalidate()
}

func (t *OAuth2Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// sameHost reports whether req goes to the host of the first request in its
// redirect chain.
func sameHost(req *http.Request) bool {
	origin := req
	for origin.Response != nil && origin.Response.Request != nil {
		origin = origin.Response.Request
	}
	return strings.EqualFold(origin.URL.Host, req.URL.Host)
}

// rewind returns a copy of req whose body can be sent again. It reports false
// when the body cannot be replayed.
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Clone(req.Context()), true
	}
	if req.GetBody == nil {
		return nil, false
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}

	retry := req.Clone(req.Context())
	retry.Body = body
	return retry, true
}

// NewOAuth2Transport creates a new OAuth2Transport with the given token provider.
// The base transport defaults to http.DefaultTransport if not specified.
func NewOAuth2Transport(tm TokenProvider, base http.RoundTripper) *OAuth2Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &OAuth2Transport{
		Base:         base,
		TokenManager: tm,
	}
}
