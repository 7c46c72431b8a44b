// Package fetch builds the HTTP client used for changelog requests.
package fetch

import (
	"net"
	"net/http"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

// UserAgent is sent with every outbound request.
const UserAgent = "go-plugctl"

// New creates a configured HTTP client. A zero timeout falls back to the changelog default.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = helpers.ChangelogDefaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   helpers.FetchDialContextTimeout,
			KeepAlive: helpers.FetchDialContextKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     helpers.FetchForceAttemptHTTP2,
		MaxIdleConns:          helpers.FetchMaxIdleConns,
		MaxIdleConnsPerHost:   helpers.FetchMaxIdleConnsPerHost,
		IdleConnTimeout:       helpers.FetchIdleConnTimeout,
		TLSHandshakeTimeout:   helpers.FetchTLSHandshakeTimeout,
		ExpectContinueTimeout: helpers.FetchExpectContinueTimeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: userAgent{next: transport},
	}
}

type userAgent struct {
	next http.RoundTripper
}

// RoundTrip sets the User-Agent header unless the caller already did.
func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return u.next.RoundTrip(req)
}
