package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signingKey only needs to be stable; clients never verify their own tokens.
var signingKey = []byte("go-apiclient-test-signing-key")

// NewAccessToken returns a signed JWT access token expiring at exp.
func NewAccessToken(tb testing.TB, subject string, exp time.Time) string {
	tb.Helper()

	return sign(tb, jwt.MapClaims{
		"iss": "https://issuer.example.com",
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": exp.Unix(),
	})
}

// NewAccessTokenWithoutExpiry returns a signed JWT access token with no exp claim.
func NewAccessTokenWithoutExpiry(tb testing.TB, subject string) string {
	tb.Helper()

	return sign(tb, jwt.MapClaims{
		"iss": "https://issuer.example.com",
		"sub": subject,
		"iat": time.Now().Unix(),
	})
}

// TokenResponse renders a token endpoint response body. A zero expiresIn
// omits the expires_in field.
func TokenResponse(tb testing.TB, accessToken string, expiresIn int) string {
	tb.Helper()

	body := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
	}
	if expiresIn > 0 {
		body["expires_in"] = expiresIn
	}

	data, err := json.Marshal(body)
	if err != nil {
		tb.Fatalf("failed to marshal token response: %v", err)
	}
	return string(data)
}

func sign(tb testing.TB, claims jwt.MapClaims) string {
	tb.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		tb.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
