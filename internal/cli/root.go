// Package cli implements the apiclient command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AmmannChristian/go-apiclient/apiclient"
	"github.com/AmmannChristian/go-apiclient/internal/config"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (invalid arguments or configuration).
	ExitCodeError = 1
	// ExitCodeHTTP indicates the API answered with a non-2xx status.
	ExitCodeHTTP = 2
	// ExitCodeAuth indicates no access token could be obtained.
	ExitCodeAuth = 3
	// ExitCodeNetwork indicates the API could not be reached.
	ExitCodeNetwork = 4
)

// app holds the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	version string
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree with its own configuration.
func NewRootCommand(version string) *cobra.Command {
	a := &app{v: config.New(), version: version}

	root := &cobra.Command{
		Use:   "apiclient",
		Short: "Call OAuth2 protected REST APIs",
		Long: `apiclient obtains an access token with the client credentials grant,
caches it until shortly before it expires and calls a REST API with it.

Settings are read from flags, APICLIENT_* environment variables and an
optional YAML file, in that order of precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "apiclient version %s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "path to a YAML config file")
	flags.String("base-url", "", "base URL of the API")
	flags.StringSlice("scopes", nil, "OAuth2 scopes to request")
	flags.Duration("token-refresh-margin", 0, "refresh tokens this long before they expire (default 1m)")
	flags.Duration("timeout", 0, "per request timeout, 0 for none")
	flags.String("provider", "", "token provider: client_credentials or azuread")
	flags.String("token-url", "", "OAuth2 token endpoint")
	flags.String("client-id", "", "OAuth2 client ID")
	flags.String("client-secret", "", "OAuth2 client secret")
	flags.String("tenant-id", "", "Azure AD tenant for the azuread provider")
	flags.String("authority-url", "", "authority URL for the azuread provider")
	flags.String("ca-file", "", "CA certificate for verifying the API server")
	flags.String("cert-file", "", "client certificate for mTLS")
	flags.String("key-file", "", "client key for mTLS")
	flags.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")

	for key, flag := range map[string]string{
		"base_url":                 "base-url",
		"scopes":                   "scopes",
		"token_refresh_margin":     "token-refresh-margin",
		"request_timeout":          "timeout",
		"auth.provider":            "provider",
		"auth.token_url":           "token-url",
		"auth.client_id":           "client-id",
		"auth.client_secret":       "client-secret",
		"auth.tenant_id":           "tenant-id",
		"auth.authority_url":       "authority-url",
		"tls.ca_file":              "ca-file",
		"tls.cert_file":            "cert-file",
		"tls.key_file":             "key-file",
		"tls.insecure_skip_verify": "insecure-skip-verify",
		"log.level":                "log-level",
		"log.format":               "log-format",
	} {
		// Only flags that were set override lower layers.
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newGetCmd(a),
		newCallCmd(a),
		newTokenCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)

	return root
}

// loadConfig loads and validates the configuration.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute runs the command line tool and returns the process exit code.
func Execute(version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return ExitCode(err)
	}
	return ExitCodeSuccess
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var httpErr *apiclient.HTTPError
	if errors.As(err, &httpErr) {
		return ExitCodeHTTP
	}

	var authErr *oauth2client.AuthError
	if errors.As(err, &authErr) {
		return ExitCodeAuth
	}

	var netErr *apiclient.NetworkError
	if errors.As(err, &netErr) {
		return ExitCodeNetwork
	}

	return ExitCodeError
}
