package llm

import (
	"net/http"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
)

const requestIDHeader = "X-Request-Id"

// contextAwareTransport forwards the inbound request ID to the model provider
// so provider-side logs can be correlated with ours.
type contextAwareTransport struct {
	base http.RoundTripper
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := logging.RequestID(req.Context()); id != "" {
		req = req.Clone(req.Context())
		req.Header.Set(requestIDHeader, id)
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient returns an HTTP client that carries request IDs.
func newHTTPClient() *http.Client {
	return &http.Client{Transport: &contextAwareTransport{base: http.DefaultTransport}}
}
