package registry

import (
	"crypto/tls"
	"net"
	"net/http"
	"strings"

	"github.com/google/go-containerregistry/pkg/v1/remote"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// insecureTransport wraps an http.RoundTripper to allow insecure connections
// to localhost and 127.0.0.1 registries.
//
// The InsecureSkipVerify flag is only used for localhost addresses
// (localhost, 127.0.0.1, ::1, 127.x.x.x). For any other registry, TLS
// verification is always enforced.
type insecureTransport struct {
	inner http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *insecureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isLocalRegistry(req.URL.Host) {
		if httpTransport, ok := t.inner.(*http.Transport); ok {
			clonedTransport := httpTransport.Clone()
			// nosemgrep: go.lang.security.audit.net.use-tls.use-tls
			if clonedTransport.TLSClientConfig == nil {
				clonedTransport.TLSClientConfig = &tls.Config{}
			}
			clonedTransport.TLSClientConfig.InsecureSkipVerify = true
			return clonedTransport.RoundTrip(req)
		}
	}
	return t.inner.RoundTrip(req)
}

// isLocalRegistry checks if the host is a localhost registry
func isLocalRegistry(host string) bool {
	hostname, _, err := net.SplitHostPort(host)
	if err != nil {
		hostname = host
	}
	return hostname == "localhost" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "127.")
}

// NewDefaultTransport creates a transport suitable for use with model
// registries, including support for insecure localhost registries. Requests
// are instrumented with OpenTelemetry.
func NewDefaultTransport() http.RoundTripper {
	return otelhttp.NewTransport(&insecureTransport{
		inner: remote.DefaultTransport,
	})
}
