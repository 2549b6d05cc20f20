package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/go-logr/stdr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/AmmannChristian/go-apiclient/internal/metrics"
)

// DefaultExpiryLeeway is how long before expiry a cached token is refreshed.
const DefaultExpiryLeeway = time.Minute

// refreshKey is the single-flight key; one manager caches one token.
const refreshKey = "token"

// Logger is an interface for optional logging in TokenManager.
// Implementations can log token refresh events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// TokenManager caches an access token from a TokenSource and refreshes it
// before expiry. It is safe for concurrent access: cache hits only take a read
// lock, and concurrent refreshes collapse into a single fetch whose result (or
// error) every waiting caller receives.
type TokenManager struct {
	source       TokenSource
	scopes       []string
	token        *oauth2.Token
	generation   uint64 // bumped whenever the cached token is discarded
	mu           sync.RWMutex
	group        singleflight.Group
	ctx          context.Context // fallback context for backward compatibility
	expiryLeeway time.Duration
	fetchTimeout time.Duration
	log          logr.Logger
	metrics      *metrics.Recorder
	now          func() time.Time
}

// Option is a functional option for configuring TokenManager.
type Option func(*TokenManager)

// WithScopes sets the scopes requested on every fetch.
func WithScopes(scopes ...string) Option {
	return func(tm *TokenManager) {
		tm.scopes = append([]string(nil), scopes...)
	}
}

// WithExpiryLeeway sets how long before expiry a cached token is refreshed.
// Negative values are ignored. Default is DefaultExpiryLeeway.
func WithExpiryLeeway(leeway time.Duration) Option {
	return func(tm *TokenManager) {
		if leeway >= 0 {
			tm.expiryLeeway = leeway
		}
	}
}

// WithFetchTimeout bounds each fetch from the token source. The fetch is
// shared between callers and detached from their cancellation, so this is the
// only deadline it observes. Default is no timeout.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(tm *TokenManager) {
		tm.fetchTimeout = timeout
	}
}

// WithLogger sets a custom logger for token refresh events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(tm *TokenManager) {
		if logger == nil {
			tm.log = logr.Discard()
			return
		}
		tm.log = funcr.New(func(prefix, args string) {
			logger.Printf("oauth2: %s", args)
		}, funcr.Options{})
	}
}

// WithLogr sets a structured logger for token refresh events.
func WithLogr(logger logr.Logger) Option {
	return func(tm *TokenManager) {
		tm.log = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
// This is a convenience option that logs through log.Default().
func WithLoggingEnabled() Option {
	return func(tm *TokenManager) {
		tm.log = stdr.New(log.Default()).WithName("oauth2")
	}
}

// WithMetrics records token fetches and cache hits on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(tm *TokenManager) {
		tm.metrics = metrics.New(reg)
	}
}

// WithClock replaces time.Now for expiry checks. Nil is ignored.
func WithClock(now func() time.Time) Option {
	return func(tm *TokenManager) {
		if now != nil {
			tm.now = now
		}
	}
}

// New creates a token manager that caches tokens obtained from source.
func New(source TokenSource, opts ...Option) *TokenManager {
	tm := &TokenManager{
		source:       source,
		ctx:          context.Background(),
		expiryLeeway: DefaultExpiryLeeway, // refresh a bit before expiry to avoid near-expiry races
		log:          logr.Discard(),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(tm)
	}

	return tm
}

// NewTokenManager creates a new OAuth2 token manager using client credentials flow.
//
// Parameters:
//   - ctx: Context for token requests (used as fallback for backward compatibility)
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth/v2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes (e.g., "openid profile email")
//   - opts: Optional configuration options
func NewTokenManager(ctx context.Context, tokenURL, clientID, clientSecret, scopes string, opts ...Option) *TokenManager {
	// Split scopes by whitespace to avoid sending a single concatenated scope.
	opts = append([]Option{WithScopes(strings.Fields(scopes)...)}, opts...)
	tm := New(NewClientCredentialsSource(tokenURL, clientID, clientSecret), opts...)

	// Keep token requests independent from caller cancellations while preserving values.
	if ctx != nil {
		tm.ctx = context.WithoutCancel(ctx)
	}

	return tm
}

// Token returns a valid token, fetching a new one if none is cached or the
// cached one is within the expiry leeway.
//
// If a refresh is already in flight the call waits for it instead of starting
// another. Cancelling ctx abandons the wait but not the shared fetch. If the
// fetch fails while the cached token has not yet expired, the cached token is
// returned. Otherwise the error is an *AuthError.
func (tm *TokenManager) Token(ctx context.Context) (*oauth2.Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Fast path: cached token under read lock only.
	tm.mu.RLock()
	if tm.tokenValid() {
		token := tm.token
		tm.mu.RUnlock()
		tm.metrics.TokenCacheHit()
		return token, nil
	}
	tm.mu.RUnlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := tm.group.DoChan(refreshKey, func() (any, error) {
		return tm.refresh(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, &AuthError{Op: "wait for token refresh", Err: ctx.Err()}
	}
}

// GetTokenWithContext returns a valid access token, fetching or refreshing if necessary.
// This method respects the provided context's cancellation and deadline.
//
// Parameters:
//   - ctx: Context for the token request (used for cancellation and deadlines)
//
// Returns:
//   - string: Valid access token
//   - error: *AuthError if token fetch/refresh fails or context is cancelled
func (tm *TokenManager) GetTokenWithContext(ctx context.Context) (string, error) {
	token, err := tm.Token(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// GetToken returns a valid access token, fetching or refreshing if necessary.
//
// Deprecated: Use GetTokenWithContext instead to properly handle context cancellation and deadlines.
// This method uses the manager's fallback context and cannot be cancelled by the caller.
func (tm *TokenManager) GetToken() (string, error) {
	return tm.GetTokenWithContext(tm.ctx)
}

// Invalidate discards the cached token so the next request fetches a new one.
// Call it when the API rejects the token (HTTP 401).
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	hadToken := tm.discardLocked()
	tm.mu.Unlock()

	if hadToken {
		tm.log.V(1).Info("cached access token invalidated")
	}
}

// InvalidateToken discards the cached token only if it is accessToken. It
// reports whether the token was discarded; false means the rejected token has
// already been replaced or dropped, and the current one should be used.
func (tm *TokenManager) InvalidateToken(accessToken string) bool {
	tm.mu.Lock()
	current := tm.token != nil && tm.token.AccessToken == accessToken
	if current {
		tm.discardLocked()
	}
	tm.mu.Unlock()

	if current {
		tm.log.V(1).Info("rejected access token invalidated")
	}
	return current
}

// discardLocked drops the cached token. Callers must hold tm.mu for writing.
func (tm *TokenManager) discardLocked() bool {
	hadToken := tm.token != nil
	tm.token = nil
	tm.generation++
	return hadToken
}

// refresh runs inside the single-flight group.
func (tm *TokenManager) refresh(ctx context.Context) (*oauth2.Token, error) {
	// Double-check: a flight that finished just before this one may have
	// already stored a fresh token.
	tm.mu.RLock()
	previous := tm.token
	generation := tm.generation
	valid := tm.tokenValid()
	tm.mu.RUnlock()
	if valid {
		return previous, nil
	}

	if tm.source == nil {
		return nil, &AuthError{Op: "fetch token", Err: errors.New("token source is nil")}
	}

	if tm.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tm.fetchTimeout)
		defer cancel()
	}

	token, err := tm.source.FetchToken(ctx, tm.scopes)
	if err == nil && (token == nil || token.AccessToken == "") {
		err = errors.New("token source returned an empty token")
	}
	if err != nil {
		if previous != nil && tm.notExpired(previous) && !tm.discardedSince(generation) {
			tm.metrics.TokenFetched(metrics.ResultStale)
			tm.log.Info("token refresh failed, serving cached token",
				"expires", previous.Expiry.Format(time.RFC3339), "error", err.Error())
			return previous, nil
		}
		tm.metrics.TokenFetched(metrics.ResultFailure)
		tm.log.Error(err, "token refresh failed")
		return nil, asAuthError("fetch token", err)
	}

	tm.mu.Lock()
	tm.token = token
	tm.mu.Unlock()

	tm.metrics.TokenFetched(metrics.ResultSuccess)
	tm.log.Info("obtained new access token", "expires", token.Expiry.Format(time.RFC3339))

	return token, nil
}

// tokenValid reports whether the cached token is still usable with a small safety window.
// Callers must hold tm.mu.
func (tm *TokenManager) tokenValid() bool {
	if tm.token == nil || tm.token.AccessToken == "" {
		return false
	}
	// Tokens without a known expiry stay valid until invalidated.
	if tm.token.Expiry.IsZero() {
		return true
	}
	return tm.token.Expiry.Sub(tm.now()) > tm.expiryLeeway
}

// discardedSince reports whether the cached token was invalidated after
// generation was observed.
func (tm *TokenManager) discardedSince(generation uint64) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.generation != generation
}

// notExpired reports whether token is still before its hard expiry, ignoring the leeway.
func (tm *TokenManager) notExpired(token *oauth2.Token) bool {
	return token.Expiry.IsZero() || tm.now().Before(token.Expiry)
}

// TokenSource returns an oauth2.TokenSource backed by the manager, for use
// with oauth2.NewClient and other golang.org/x/oauth2 consumers.
// Token requests made through it use ctx.
func (tm *TokenManager) TokenSource(ctx context.Context) oauth2.TokenSource {
	if ctx == nil {
		ctx = tm.ctx
	}
	return &managedTokenSource{tm: tm, ctx: ctx}
}

type managedTokenSource struct {
	tm  *TokenManager
	ctx context.Context
}

func (s *managedTokenSource) Token() (*oauth2.Token, error) {
	return s.tm.Token(s.ctx)
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that automatically
// adds OAuth2 Bearer tokens to request metadata.
//
// The interceptor adds the token as "authorization: Bearer <token>" to the outgoing
// request context metadata. If token fetch fails, the RPC call is aborted with an error.
// The interceptor respects the RPC context's cancellation and deadline.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(tokenManager.UnaryClientInterceptor()),
//	)
func (tm *TokenManager) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		token, err := tm.GetTokenWithContext(ctx)
		if err != nil {
			return fmt.Errorf("oauth2: failed to get token: %w", err)
		}

		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that automatically
// adds OAuth2 Bearer tokens to request metadata.
//
// If token fetch fails, stream creation is aborted with an error.
func (tm *TokenManager) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		token, err := tm.GetTokenWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("oauth2: failed to get token: %w", err)
		}

		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

		return streamer(ctx, desc, cc, method, opts...)
	}
}
