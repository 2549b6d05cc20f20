package httpclient

import (
	"crypto/tls"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"github.com/AmmannChristian/go-apiclient/testutil"
)

func newTokenServer(tb testing.TB) *testutil.MockOAuth2Server {
	tb.Helper()

	return testutil.NewMockOAuth2Server(tb, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/token" {
			tb.Fatalf("unexpected token path: %s", req.URL.Path)
		}
		return testutil.StaticJSONResponse(`{
			"access_token": "mock-token",
			"token_type": "Bearer",
			"expires_in": 3600
		}`)(req)
	})
}

func TestNewBuilder(t *testing.T) {
	builder := NewBuilder()

	if builder.timeout != 0 {
		t.Errorf("expected no client timeout by default, got %v", builder.timeout)
	}
	if builder.redirects != RedirectSameHost {
		t.Errorf("expected RedirectSameHost by default, got %v", builder.redirects)
	}
	if builder.provider != nil || builder.metrics != nil {
		t.Error("no token provider or metrics should be configured by default")
	}
}

func TestBuilder_Setters(t *testing.T) {
	provider := newFakeProvider()
	customTransport := &http.Transport{}
	opts := TLSOptions{CAFile: "/path/to/ca.crt", CertFile: "/path/to/cert.crt", KeyFile: "/path/to/key.pem", InsecureSkipVerify: true}

	builder := NewBuilder().
		WithTokenProvider(provider).
		WithTLS(opts).
		WithTimeout(45 * time.Second).
		WithBaseTransport(customTransport).
		WithMetrics(prometheus.NewRegistry()).
		WithRedirectPolicy(RedirectNone)

	if builder.provider != provider {
		t.Error("token provider not set correctly")
	}
	if builder.tls != opts {
		t.Errorf("unexpected TLS options: %+v", builder.tls)
	}
	if builder.timeout != 45*time.Second {
		t.Errorf("unexpected timeout: %v", builder.timeout)
	}
	if builder.base != customTransport {
		t.Error("base transport not set correctly")
	}
	if builder.metrics == nil {
		t.Error("metrics recorder should be set")
	}
	if builder.redirects != RedirectNone {
		t.Errorf("unexpected redirect policy: %v", builder.redirects)
	}
}

func TestBuilder_Build(t *testing.T) {
	customTransport := &http.Transport{}

	tests := []struct {
		name        string
		builder     func() *Builder
		wantTimeout time.Duration
		wantOAuth2  bool
		wantBase    http.RoundTripper
	}{
		{
			name:    "defaults",
			builder: NewBuilder,
		},
		{
			name:        "custom timeout",
			builder:     func() *Builder { return NewBuilder().WithTimeout(time.Minute) },
			wantTimeout: time.Minute,
		},
		{
			name:     "base transport without token provider is used as is",
			builder:  func() *Builder { return NewBuilder().WithBaseTransport(customTransport) },
			wantBase: customTransport,
		},
		{
			name: "token provider wraps the base transport",
			builder: func() *Builder {
				return NewBuilder().WithBaseTransport(customTransport).WithTokenProvider(newFakeProvider())
			},
			wantOAuth2: true,
			wantBase:   customTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := tt.builder().Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}

			if client.Timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", client.Timeout, tt.wantTimeout)
			}
			if client.CheckRedirect == nil {
				t.Error("the same-host redirect check should be installed by default")
			}

			oauthTransport, isOAuth2 := client.Transport.(*OAuth2Transport)
			if isOAuth2 != tt.wantOAuth2 {
				t.Fatalf("OAuth2Transport = %v, want %v", isOAuth2, tt.wantOAuth2)
			}

			if tt.wantBase != nil {
				got := client.Transport
				if isOAuth2 {
					got = oauthTransport.Base
				}
				if got != tt.wantBase {
					t.Error("custom base transport not used")
				}
			}
		})
	}
}

func TestRedirectPolicy_CheckRedirect(t *testing.T) {
	newReq := func(rawURL string) *http.Request {
		req, err := http.NewRequest(http.MethodGet, rawURL, nil)
		if err != nil {
			t.Fatalf("NewRequest failed: %v", err)
		}
		return req
	}

	origin := newReq("https://api.example.com/v1/items")
	tenHops := make([]*http.Request, maxRedirects)
	for i := range tenHops {
		tenHops[i] = origin
	}

	tests := []struct {
		name    string
		policy  RedirectPolicy
		next    string
		via     []*http.Request
		wantNil bool
		wantErr error
		wantMsg string
	}{
		{name: "same host followed", policy: RedirectSameHost, next: "https://api.example.com/v2/items", via: []*http.Request{origin}},
		{name: "host comparison ignores case", policy: RedirectSameHost, next: "https://API.example.com/v2/items", via: []*http.Request{origin}},
		{name: "other host not followed", policy: RedirectSameHost, next: "https://attacker.example.net/steal", via: []*http.Request{origin}, wantErr: http.ErrUseLastResponse},
		{name: "other port not followed", policy: RedirectSameHost, next: "https://api.example.com:8443/v1/items", via: []*http.Request{origin}, wantErr: http.ErrUseLastResponse},
		{name: "redirect loop stopped", policy: RedirectSameHost, next: "https://api.example.com/v1/items", via: tenHops, wantMsg: "stopped after 10 redirects"},
		{name: "none", policy: RedirectNone, next: "https://api.example.com/v2/items", via: []*http.Request{origin}, wantErr: http.ErrUseLastResponse},
		{name: "all uses the net/http default", policy: RedirectAll, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := tt.policy.checkRedirect()
			if tt.wantNil {
				if check != nil {
					t.Error("expected no CheckRedirect hook")
				}
				return
			}

			err := check(newReq(tt.next), tt.via)
			switch {
			case tt.wantMsg != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("expected error containing %q, got %v", tt.wantMsg, err)
				}
			case err != tt.wantErr:
				t.Errorf("CheckRedirect = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// A redirect to another host comes back as the redirect response, and the
// other host never sees the token.
func TestBuilder_Build_CrossHostRedirect(t *testing.T) {
	var foreignAuth []string
	var mu sync.Mutex
	foreign := testutil.NewLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		foreignAuth = append(foreignAuth, r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = io.WriteString(w, "stolen")
	}))
	// Same address under another host name.
	foreignURL := strings.Replace(foreign.URL, "127.0.0.1", "localhost", 1)

	api := testutil.NewLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, foreignURL+"/steal", http.StatusFound)
	}))

	tests := []struct {
		name         string
		policy       RedirectPolicy
		wantStatus   int
		wantVisits   int
		wantAuthSent bool
	}{
		{name: "same host policy", policy: RedirectSameHost, wantStatus: http.StatusFound},
		{name: "follow all strips the token", policy: RedirectAll, wantStatus: http.StatusOK, wantVisits: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			foreignAuth = nil
			mu.Unlock()

			client, err := NewBuilder().
				WithTokenProvider(newFakeProvider()).
				WithRedirectPolicy(tt.policy).
				Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}

			resp, err := client.Get(api.URL + "/v1/items")
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(foreignAuth) != tt.wantVisits {
				t.Fatalf("foreign host visited %d times, want %d", len(foreignAuth), tt.wantVisits)
			}
			for _, auth := range foreignAuth {
				if auth != "" {
					t.Errorf("foreign host received Authorization %q", auth)
				}
			}
		})
	}
}

func TestBuilder_Build_DefaultTLS(t *testing.T) {
	client, err := NewBuilder().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}

	if transport.TLSClientConfig == nil || transport.TLSClientConfig.MinVersion != tls.VersionTLS12 {
		t.Error("expected TLS 1.2 minimum by default")
	}
}

func TestTLSOptions_Config(t *testing.T) {
	tmpDir := t.TempDir()
	caFile := filepath.Join(tmpDir, "ca.crt")
	testutil.WriteTestCACert(t, caFile)

	badCAFile := filepath.Join(tmpDir, "bad-ca.crt")
	if err := os.WriteFile(badCAFile, []byte("invalid cert content"), 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}

	tests := []struct {
		name     string
		caFile   string
		certFile string
		keyFile  string
		skip     bool
		wantErr  string
		check    func(t *testing.T, cfg *tls.Config)
	}{
		{
			name: "system roots",
			check: func(t *testing.T, cfg *tls.Config) {
				if cfg.MinVersion != tls.VersionTLS12 {
					t.Errorf("expected TLS 1.2, got %d", cfg.MinVersion)
				}
			},
		},
		{
			name: "insecure skip verify",
			skip: true,
			check: func(t *testing.T, cfg *tls.Config) {
				if !cfg.InsecureSkipVerify {
					t.Error("InsecureSkipVerify should be true")
				}
			},
		},
		{
			name:   "custom CA",
			caFile: caFile,
			check: func(t *testing.T, cfg *tls.Config) {
				if cfg.RootCAs == nil {
					t.Error("RootCAs should not be nil")
				}
			},
		},
		{name: "missing CA file", caFile: "/nonexistent/ca.crt", wantErr: "read CA file"},
		{name: "invalid CA content", caFile: badCAFile, wantErr: "parse CA certificate"},
		{name: "cert without key", certFile: "/path/to/cert.crt", wantErr: "both TLS cert and key"},
		{name: "key without cert", keyFile: "/path/to/key.pem", wantErr: "both TLS cert and key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := TLSOptions{CAFile: tt.caFile, CertFile: tt.certFile, KeyFile: tt.keyFile, InsecureSkipVerify: tt.skip}

			cfg, err := opts.config()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("config failed: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestBuilder_Build_WithMutualTLS_LoadsCertificates(t *testing.T) {
	tmpDir := t.TempDir()
	caFile := filepath.Join(tmpDir, "ca.crt")
	certFile := filepath.Join(tmpDir, "client.crt")
	keyFile := filepath.Join(tmpDir, "client.key")

	testutil.WriteTestCACert(t, caFile)
	testutil.WriteTestCertAndKey(t, certFile, keyFile)

	client, err := NewBuilder().WithTLS(TLSOptions{CAFile: caFile, CertFile: certFile, KeyFile: keyFile}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}

	if transport.TLSClientConfig.RootCAs == nil {
		t.Error("RootCAs should be configured from CA file")
	}
	if len(transport.TLSClientConfig.Certificates) == 0 {
		t.Fatal("expected client certificates to be loaded")
	}
}

func TestBuilder_Build_WithMutualTLS_InvalidCert(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "client.crt")
	keyFile := filepath.Join(tmpDir, "client.key")

	if err := os.WriteFile(certFile, []byte("bad cert"), 0o600); err != nil {
		t.Fatalf("failed to write cert file: %v", err)
	}
	testutil.WriteTestCACert(t, keyFile) // not a key

	_, err := NewBuilder().WithTLS(TLSOptions{CertFile: certFile, KeyFile: keyFile}).Build()
	if err == nil {
		t.Fatal("expected error for invalid cert/key pair")
	}

	if !strings.Contains(err.Error(), "load client certificate") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuilder_Build_FallbackDefaultTransportWithTLS(t *testing.T) {
	tmpDir := t.TempDir()
	caFile := filepath.Join(tmpDir, "ca.crt")
	testutil.WriteTestCACert(t, caFile)

	origDefault := http.DefaultTransport
	http.DefaultTransport = testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("ok")),
			Request:    req,
		}, nil
	})
	t.Cleanup(func() { http.DefaultTransport = origDefault })

	client, err := NewBuilder().WithTLS(TLSOptions{CAFile: caFile}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	resp, err := client.Get("https://example.com")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
}

func TestBuilder_Build_TLSWithForeignBase(t *testing.T) {
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		return testutil.StaticJSONResponse(`{}`)(req)
	})

	_, err := NewBuilder().WithBaseTransport(base).WithTLS(TLSOptions{InsecureSkipVerify: true}).Build()
	if err == nil || !strings.Contains(err.Error(), "need an *http.Transport base") {
		t.Fatalf("expected base transport error, got %v", err)
	}
}

func TestBuilder_Build_TLSAppliedToHTTPTransportBase(t *testing.T) {
	base := &http.Transport{}

	client, err := NewBuilder().WithBaseTransport(base).WithTLS(TLSOptions{InsecureSkipVerify: true}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport == base {
		t.Error("the base transport should be cloned, not modified")
	}
	if !transport.TLSClientConfig.InsecureSkipVerify {
		t.Error("TLS options not applied")
	}
	if base.TLSClientConfig != nil {
		t.Error("the caller's transport was modified")
	}
}

func TestBuilder_Build_Integration(t *testing.T) {
	authServer := newTokenServer(t)
	tm := oauth2client.NewTokenManager(authServer.Ctx, authServer.URL+"/token", "client", "secret", "openid")

	baseTransport := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer mock-token" {
			return testutil.StatusResponse(http.StatusUnauthorized, "missing auth")(req)
		}
		return testutil.StaticJSONResponse(`{"items":[]}`)(req)
	})

	client, err := NewBuilder().
		WithTokenProvider(tm).
		WithBaseTransport(baseTransport).
		WithTimeout(10 * time.Second).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	resp, err := client.Get("https://api.example.com/v1/items")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if n := len(authServer.Requests()); n != 1 {
		t.Errorf("expected 1 token request, got %d", n)
	}
}

func BenchmarkBuilder_Build(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = NewBuilder().Build()
	}
}
