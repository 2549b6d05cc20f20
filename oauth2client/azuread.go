package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"
	"golang.org/x/oauth2"
)

// AzureADAuthorityHost is the public-cloud Microsoft identity platform host.
const AzureADAuthorityHost = "https://login.microsoftonline.com/"

// AzureADAuthority returns the authority URL for a tenant on the public cloud.
func AzureADAuthority(tenantID string) string {
	return AzureADAuthorityHost + strings.Trim(tenantID, "/")
}

// confidentialClient is the subset of the MSAL confidential client used here.
type confidentialClient interface {
	AcquireTokenByCredential(ctx context.Context, scopes []string, opts ...confidential.AcquireByCredentialOption) (confidential.AuthResult, error)
}

// AzureADSource fetches application tokens from Microsoft Entra ID (Azure AD)
// with a client secret, through the MSAL confidential client.
//
// MSAL keeps its own in-memory cache, so a fetch right after a rejected token
// may return the same token until MSAL considers it expired.
type AzureADSource struct {
	client confidentialClient
}

// NewAzureADSource creates a TokenSource for an Azure AD authority.
//
// Parameters:
//   - authority: Authority URL (e.g., AzureADAuthority("contoso.onmicrosoft.com"))
//   - clientID: Application (client) ID
//   - clientSecret: Client secret
func NewAzureADSource(authority, clientID, clientSecret string) (*AzureADSource, error) {
	if authority == "" {
		return nil, errors.New("oauth2: azuread authority is required")
	}
	if clientID == "" {
		return nil, errors.New("oauth2: azuread client ID is required")
	}

	cred, err := confidential.NewCredFromSecret(clientSecret)
	if err != nil {
		return nil, fmt.Errorf("oauth2: azuread credential: %w", err)
	}

	app, err := confidential.New(authority, clientID, cred)
	if err != nil {
		return nil, fmt.Errorf("oauth2: azuread client: %w", err)
	}

	return &AzureADSource{client: &app}, nil
}

// FetchToken acquires an application token for the requested scopes
// (e.g., "https://analysis.windows.net/powerbi/api/.default").
func (s *AzureADSource) FetchToken(ctx context.Context, scopes []string) (*oauth2.Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.client.AcquireTokenByCredential(ctx, scopes)
	if err != nil {
		return nil, &AuthError{Op: "azuread acquire token", Err: err}
	}
	if result.AccessToken == "" {
		return nil, &AuthError{Op: "azuread acquire token", Err: errors.New("empty access token in result")}
	}

	return &oauth2.Token{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		Expiry:      result.ExpiresOn,
	}, nil
}
