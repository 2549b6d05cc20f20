package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AmmannChristian/go-apiclient/internal/metrics"
)

// maxRedirects matches the limit net/http applies by default.
const maxRedirects = 10

// RedirectPolicy controls which redirects a built client follows.
type RedirectPolicy int

const (
	// RedirectSameHost follows redirects that stay on the host of the original
	// request and hands any other redirect response back to the caller.
	RedirectSameHost RedirectPolicy = iota

	// RedirectNone hands every redirect response back to the caller.
	RedirectNone

	// RedirectAll follows redirects to any host. Bearer tokens are still only
	// attached on the original host.
	RedirectAll
)

// checkRedirect returns the http.Client.CheckRedirect hook for p.
func (p RedirectPolicy) checkRedirect() func(*http.Request, []*http.Request) error {
	switch p {
	case RedirectNone:
		return func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	case RedirectAll:
		return nil
	default:
		return sameHostRedirect
	}
}

func sameHostRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("httpclient: stopped after %d redirects", maxRedirects)
	}
	if len(via) > 0 && !strings.EqualFold(req.URL.Host, via[0].URL.Host) {
		return http.ErrUseLastResponse
	}
	return nil
}

// TLSOptions configures how the API server is verified and which client
// certificate is presented. The zero value uses the system roots.
type TLSOptions struct {
	// CAFile is a PEM bundle used instead of the system roots.
	CAFile string
	// CertFile and KeyFile hold the client certificate for mTLS. Both or
	// neither must be set.
	CertFile string
	KeyFile  string
	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool
}

func (o TLSOptions) isZero() bool {
	return o == TLSOptions{}
}

// config loads the files referenced by o.
func (o TLSOptions) config() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.InsecureSkipVerify, // #nosec G402
	}

	if o.CAFile != "" {
		caCert, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}

	switch {
	case o.CertFile != "" && o.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case o.CertFile != "" || o.KeyFile != "":
		return nil, errors.New("both TLS cert and key files must be provided for mTLS")
	}

	return tlsConfig, nil
}

// Builder assembles the *http.Client used for API calls: a TLS-configured
// transport, wrapped in an OAuth2Transport when a token provider is set, with
// a redirect policy that keeps requests on the API host.
type Builder struct {
	provider  TokenProvider
	tls       TLSOptions
	timeout   time.Duration
	base      http.RoundTripper
	redirects RedirectPolicy
	metrics   *metrics.Recorder
}

// NewBuilder creates a builder with no client timeout and the
// RedirectSameHost policy.
func NewBuilder() *Builder {
	return &Builder{redirects: RedirectSameHost}
}

// WithTokenProvider makes the client attach bearer tokens from p.
func (b *Builder) WithTokenProvider(p TokenProvider) *Builder {
	b.provider = p
	return b
}

// WithTLS sets the TLS options of the default transport, or of a base
// transport that is an *http.Transport.
func (b *Builder) WithTLS(opts TLSOptions) *Builder {
	b.tls = opts
	return b
}

// WithTimeout sets http.Client.Timeout. Zero, the default, leaves requests
// bounded only by their context.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithBaseTransport sets the transport that carries requests.
// Defaults to a clone of http.DefaultTransport.
func (b *Builder) WithBaseTransport(transport http.RoundTripper) *Builder {
	b.base = transport
	return b
}

// WithRedirectPolicy sets which redirects the client follows.
func (b *Builder) WithRedirectPolicy(p RedirectPolicy) *Builder {
	b.redirects = p
	return b
}

// WithMetrics records replays after 401 responses on reg.
func (b *Builder) WithMetrics(reg prometheus.Registerer) *Builder {
	b.metrics = metrics.New(reg)
	return b
}

// Build constructs the HTTP client.
func (b *Builder) Build() (*http.Client, error) {
	transport, err := b.transport()
	if err != nil {
		return nil, err
	}

	if b.provider != nil {
		oauthTransport := NewOAuth2Transport(b.provider, transport)
		oauthTransport.metrics = b.metrics
		transport = oauthTransport
	}

	return &http.Client{
		Transport:     transport,
		Timeout:       b.timeout,
		CheckRedirect: b.redirects.checkRedirect(),
	}, nil
}

// transport returns the base transport with TLS options applied.
// An explicit base is used as is unless TLS options are set.
func (b *Builder) transport() (http.RoundTripper, error) {
	if b.base != nil && b.tls.isZero() {
		return b.base, nil
	}

	base := b.base
	if base == nil {
		base = http.DefaultTransport
	}

	httpTransport, ok := base.(*http.Transport)
	if !ok {
		if b.base != nil {
			return nil, fmt.Errorf("httpclient: TLS options need an *http.Transport base, got %T", b.base)
		}
		// http.DefaultTransport was replaced, e.g. by a test stub.
		return base, nil
	}

	tlsConfig, err := b.tls.config()
	if err != nil {
		return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
	}

	httpTransport = httpTransport.Clone()
	httpTransport.TLSClientConfig = tlsConfig
	return httpTransport, nil
}
