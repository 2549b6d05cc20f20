package oauth2client

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource obtains access tokens from an identity authority.
//
// Implementations perform a single network exchange per call: no caching and
// no retries. Caching is layered on top by TokenManager. Failures should be
// reported as *AuthError.
type TokenSource interface {
	FetchToken(ctx context.Context, scopes []string) (*oauth2.Token, error)
}

// TokenSourceFunc adapts an ordinary function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context, scopes []string) (*oauth2.Token, error)

// FetchToken calls f(ctx, scopes).
func (f TokenSourceFunc) FetchToken(ctx context.Context, scopes []string) (*oauth2.Token, error) {
	return f(ctx, scopes)
}

// ClientCredentialsSource fetches tokens from an OAuth2 token endpoint using
// the client credentials grant (RFC 6749 section 4.4).
type ClientCredentialsSource struct {
	config clientcredentials.Config
}

// NewClientCredentialsSource creates a TokenSource for the given token endpoint.
//
// Parameters:
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth/v2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
func NewClientCredentialsSource(tokenURL, clientID, clientSecret string) *ClientCredentialsSource {
	return &ClientCredentialsSource{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
	}
}

// FetchToken performs one client credentials exchange for the requested scopes.
// The HTTP client is taken from ctx (oauth2.HTTPClient) when present.
//
// When the authority omits expires_in, the expiry is read from the exp claim of
// the access token if it is a JWT.
func (s *ClientCredentialsSource) FetchToken(ctx context.Context, scopes []string) (*oauth2.Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := s.config
	cfg.Scopes = scopes

	token, err := cfg.Token(ctx)
	if err != nil {
		return nil, &AuthError{Op: "client credentials grant", Err: err}
	}
	if token.AccessToken == "" {
		return nil, &AuthError{Op: "client credentials grant", Err: errors.New("empty access token in response")}
	}

	if token.Expiry.IsZero() {
		if exp, ok := jwtExpiry(token.AccessToken); ok {
			token.Expiry = exp
		}
	}

	return token, nil
}

// jwtExpiry extracts the exp claim from a JWT access token without verifying
// its signature. The token is only inspected, never trusted.
func jwtExpiry(accessToken string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
