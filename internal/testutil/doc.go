// Package testutil provides internal test helpers for go-apiclient packages.
//
// It builds JWT access tokens with chosen claims so tests can exercise expiry
// introspection without an identity provider.
//
// # Utilities
//
//   - NewAccessToken: HS256-signed JWT with an exp claim
//   - NewAccessTokenWithoutExpiry: HS256-signed JWT without exp
//   - TokenResponse: JSON body of a token endpoint response carrying a given access token
package testutil
