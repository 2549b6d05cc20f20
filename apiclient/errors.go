package apiclient

import (
	"fmt"
	"net/http"
	"unicode/utf8"
)

// maxSnippet bounds how much of a response body HTTPError.Error includes.
const maxSnippet = 256

// NetworkError reports a request that produced no HTTP response: DNS
// failures, refused or reset connections, timeouts and cancellation.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("apiclient: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError reports a non-2xx response. Body holds the complete response body.
type HTTPError struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("apiclient: unexpected status %s", status)
	}
	return fmt.Sprintf("apiclient: unexpected status %s: %s", status, snippet(e.Body))
}

// snippet returns at most maxSnippet bytes of body without splitting a rune.
func snippet(body []byte) string {
	if len(body) <= maxSnippet {
		return string(body)
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}
