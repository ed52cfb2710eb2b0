// Package upstream builds the HTTP clients used to reach a realtime API.
package upstream

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/policy"
)

var errNotAbsoluteHTTP = errors.New("not an absolute http(s) url")

// NewClient returns a traced HTTP client for requests to target. Certificate
// verification is disabled only when policy.SkipTLSVerify allows it for
// target; the second result reports whether that happened. Redirects are
// returned to the caller as-is instead of being followed.
func NewClient(target *url.URL, timeout time.Duration) (*http.Client, bool) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	insecure := policy.SkipTLSVerify(target)
	if insecure {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // private hosts only
	}

	transport := otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: returnRedirect,
	}, insecure
}

func returnRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// ParseTarget parses raw and rejects anything that is not an absolute http(s)
// URL.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: raw, Err: errNotAbsoluteHTTP}
	}
	return u, nil
}
