package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-apiclient/internal/config"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>...",
		Short: "GET each path and print the response bodies",
		Long: `GET each path, relative to the base URL, in order and print every
response body on its own line. All requests share one cached token.`,
		Example: `  apiclient get v1.0/myorg/groups v1.0/myorg/reports v1.0/myorg/datasets`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close()

			for _, path := range args {
				body, err := s.client.Get(cmd.Context(), path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
			}
			return nil
		},
	}
}

func newCallCmd(a *app) *cobra.Command {
	var (
		method  string
		data    string
		headers []string
	)

	cmd := &cobra.Command{
		Use:   "call <path>",
		Short: "Send a request with any method and print the response body",
		Example: `  apiclient call -X POST -H "Content-Type: application/json" -d '{"name":"widget"}' v1/items
  apiclient call -X PUT -d @item.json v1/items/42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			body, err := readData(data, cmd.InOrStdin())
			if err != nil {
				return err
			}

			s, err := a.newSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.client.Do(cmd.Context(), strings.ToUpper(method), args[0], header, body)
			if err != nil {
				return err
			}

			if len(resp.Body) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(resp.Body))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body, @file to read a file or @- for stdin")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `request header as "Key: Value", repeatable`)

	return cmd
}

// parseHeaders parses "Key: Value" pairs.
func parseHeaders(values []string) (http.Header, error) {
	if len(values) == 0 {
		return nil, nil
	}

	header := make(http.Header)
	for _, value := range values {
		key, val, ok := strings.Cut(value, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("cli: invalid header %q, want \"Key: Value\"", value)
		}
		header.Add(key, strings.TrimSpace(val))
	}
	return header, nil
}

// readData resolves the --data flag to a request body.
func readData(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("cli: read request body from stdin: %w", err)
		}
		return body, nil
	case strings.HasPrefix(data, "@"):
		body, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("cli: read request body: %w", err)
		}
		return body, nil
	default:
		return []byte(data), nil
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch an access token and print its expiry",
		Long: `Fetch an access token with the configured credentials and print when it
expires and which scopes were requested. The token itself is only printed
with --show.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.newSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close()

			token, err := s.tokens.Token(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if token.Expiry.IsZero() {
				fmt.Fprintln(out, "expires: unknown")
			} else {
				fmt.Fprintf(out, "expires: %s (in %s)\n",
					token.Expiry.UTC().Format(time.RFC3339), time.Until(token.Expiry).Round(time.Second))
			}
			fmt.Fprintf(out, "scopes: %s\n", strings.Join(s.cfg.Scopes, " "))
			if show {
				fmt.Fprintf(out, "access_token: %s\n", token.AccessToken)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the access token")

	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}

			data, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("cli: render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of apiclient",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "apiclient version %s\n", a.version)
		},
	}
}
