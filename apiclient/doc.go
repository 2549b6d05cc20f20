// Package apiclient calls REST APIs that authenticate with OAuth2 bearer
// tokens.
//
// A Client resolves request paths against a base URL, attaches a token from
// its TokenProvider (usually an *oauth2client.TokenManager) and returns the
// raw response body. It does not decode bodies.
//
//	tm := oauth2client.NewTokenManager(ctx, tokenURL, clientID, clientSecret,
//	    "https://analysis.windows.net/powerbi/api/.default")
//
//	client, err := apiclient.New("https://api.powerbi.com/", tm)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	body, err := client.Get(ctx, "v1.0/myorg/groups")
//
// # Errors
//
// Call returns one of three error types, matched with errors.As:
// *oauth2client.AuthError when no token could be obtained, *NetworkError when
// no response arrived and *HTTPError for a non-2xx status. A 401 is answered
// by invalidating the token and replaying the request once; only a second 401
// reaches the caller.
package apiclient
