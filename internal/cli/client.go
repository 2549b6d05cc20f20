package cli

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/AmmannChristian/go-apiclient/apiclient"
	"github.com/AmmannChristian/go-apiclient/httpclient"
	"github.com/AmmannChristian/go-apiclient/internal/config"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
)

// newTokenSource returns the token source selected by cfg.Auth.Provider.
func newTokenSource(cfg *config.Config) (oauth2client.TokenSource, error) {
	switch cfg.Auth.Provider {
	case config.ProviderAzureAD:
		authority := cfg.Auth.AuthorityURL
		if authority == "" {
			authority = oauth2client.AzureADAuthority(cfg.Auth.TenantID)
		}
		return oauth2client.NewAzureADSource(authority, cfg.Auth.ClientID, cfg.Auth.ClientSecret)
	case config.ProviderClientCredentials:
		return oauth2client.NewClientCredentialsSource(cfg.Auth.TokenURL, cfg.Auth.ClientID, cfg.Auth.ClientSecret), nil
	default:
		return nil, fmt.Errorf("cli: unknown token provider %q", cfg.Auth.Provider)
	}
}

// newTokenManager wires the configured token source into a caching manager.
func newTokenManager(cfg *config.Config, log logr.Logger) (*oauth2client.TokenManager, error) {
	source, err := newTokenSource(cfg)
	if err != nil {
		return nil, err
	}

	return oauth2client.New(source,
		oauth2client.WithScopes(cfg.Scopes...),
		oauth2client.WithExpiryLeeway(cfg.TokenRefreshMargin),
		oauth2client.WithLogr(log.WithName("oauth2")),
	), nil
}

// newAPIClient builds the API client, including TLS settings if any.
func newAPIClient(cfg *config.Config, tm *oauth2client.TokenManager, log logr.Logger, version string) (*apiclient.Client, error) {
	opts := []apiclient.Option{
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithUserAgent("apiclient/" + version),
		apiclient.WithLogr(log.WithName("api")),
	}

	if cfg.TLS.Enabled() || cfg.TLS.InsecureSkipVerify {
		if cfg.TLS.InsecureSkipVerify {
			log.Info("TLS certificate verification is disabled")
		}
		opts = append(opts, apiclient.WithTLS(httpclient.TLSOptions{
			CAFile:             cfg.TLS.CAFile,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		}))
	}

	return apiclient.New(cfg.BaseURL, tm, opts...)
}

// session is everything a command needs to talk to the API.
type session struct {
	cfg    *config.Config
	log    logr.Logger
	tokens *oauth2client.TokenManager
	client *apiclient.Client
	close  func()
}

// newSession loads the configuration and builds logger, token manager and
// client. The caller must call close.
func (a *app) newSession(errOut io.Writer) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	log, sync, err := newLogger(cfg.Log, errOut)
	if err != nil {
		return nil, err
	}

	tm, err := newTokenManager(cfg, log)
	if err != nil {
		sync()
		return nil, err
	}

	client, err := newAPIClient(cfg, tm, log, a.version)
	if err != nil {
		sync()
		return nil, err
	}

	log.V(1).Info("configuration loaded",
		"baseURL", cfg.BaseURL, "provider", cfg.Auth.Provider, "scopes", len(cfg.Scopes))

	return &session{cfg: cfg, log: log, tokens: tm, client: client, close: sync}, nil
}
