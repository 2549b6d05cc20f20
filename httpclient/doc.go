// Package httpclient builds http.Clients that attach OAuth2 Bearer tokens to
// every request.
//
// OAuth2Transport wraps any RoundTripper. It asks a TokenProvider for a token
// before each request and leaves an Authorization header set by the caller
// untouched. If the server answers 401 Unauthorized, the transport tells the
// provider to drop its token and replays the request once. Requests whose
// body cannot be rewound are not replayed.
//
// # Quick Start
//
//	tm := oauth2client.NewTokenManager(ctx,
//	    "https://auth.example.com/oauth/v2/token",
//	    "client-id",
//	    "client-secret",
//	    "api://items/.default",
//	)
//
//	client, err := httpclient.NewBuilder().
//	    WithTokenProvider(tm).
//	    WithTLS(httpclient.TLSOptions{CAFile: "/path/to/ca.crt"}).
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Get("https://api.example.com/v1/items")
//
// # Manual Transport Wrapping
//
//	transport := httpclient.NewOAuth2Transport(tm, nil)
//	client := &http.Client{Transport: transport}
//
// Tokens never leave the host a request was sent to. The Builder's default
// RedirectSameHost policy stops at a redirect to another host, and even with
// RedirectAll the transport forwards such a redirect without a token.
//
// The Builder also configures TLS 1.2+ defaults, custom CAs and mTLS client
// certificates. All components are safe for concurrent use if the provided
// TokenProvider is.
package httpclient
