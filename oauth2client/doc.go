// Package oauth2client provides OAuth2 token sources and a caching token manager for HTTP and gRPC clients.
//
// A TokenSource performs one exchange with an identity authority per call. TokenManager wraps a
// TokenSource, caches the bearer token until shortly before expiry, and collapses concurrent refreshes
// into a single in-flight fetch whose result every waiting caller shares. Failures surface as *AuthError.
//
// # Features
//
//   - Client-credentials flow (ClientCredentialsSource) and Azure AD via MSAL (AzureADSource)
//   - Caching with early refresh (WithExpiryLeeway, default one minute)
//   - Single-flight refresh; cancelling one caller never cancels a fetch others are waiting on
//   - Stale-but-valid fallback when a refresh fails before the cached token has expired
//   - Invalidate for tokens the API rejected (HTTP 401)
//   - gRPC unary and stream client interceptors that inject Bearer tokens
//   - Optional logging (WithLogger, WithLogr, WithLoggingEnabled) and Prometheus metrics (WithMetrics)
//
// # Quick Start
//
//	tm := oauth2client.NewTokenManager(
//	    ctx,
//	    "https://auth.example.com/oauth/v2/token",
//	    "client-id",
//	    "client-secret",
//	    "openid profile email",
//	    oauth2client.WithLoggingEnabled(),
//	)
//
//	token, err := tm.GetTokenWithContext(ctx)
//
// # Azure AD
//
//	source, err := oauth2client.NewAzureADSource(
//	    oauth2client.AzureADAuthority("contoso.onmicrosoft.com"),
//	    "client-id",
//	    "client-secret",
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tm := oauth2client.New(source,
//	    oauth2client.WithScopes("https://analysis.windows.net/powerbi/api/.default"),
//	)
//
// # Notes
//
//   - Token and GetTokenWithContext are preferred; GetToken is kept for backward compatibility.
//   - Access tokens are never logged.
package oauth2client
