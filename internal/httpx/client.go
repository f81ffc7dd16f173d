// Package httpx builds the pooled HTTP clients shared by the Telegram
// destination and the attachment fetcher.
package httpx

import (
	"net"
	"net/http"
	"time"
)

const DefaultTimeout = 60 * time.Second

const userAgent = "relaybot/1.0"

// SharedClient returns an HTTP client with connection pooling and bounded
// dial, TLS and header timeouts. timeout caps the whole request including
// reading the body.
func SharedClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &uaTransport{base: transport},
	}
}

// uaTransport sets a User-Agent on requests that don't carry one. Some CDNs
// reject the Go default.
type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(r)
}
