// Package fetcher implements the HTTP tier of the fetch engine: a
// single GET with UA rotation, Chrome TLS fingerprinting, and SSRF
// protection.
package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/brinkhollow/ingestor/config"
	"github.com/brinkhollow/ingestor/urlutil"
)

// Response is the raw result of a single HTTP tier fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Fetcher performs HTTP GETs with a rotating UA pool and, when advanced
// fingerprinting is enabled, a Chrome-shaped TLS ClientHello via utls.
type Fetcher struct {
	config config.FetchConfig
	client *http.Client
}

// New builds a Fetcher from cfg. When EnableAdvancedFingerprinting is set
// the client dials TLS with utls.HelloChrome_Auto instead of the Go
// standard library's fingerprint, which many bot-protection vendors use to
// distinguish genuine Chrome traffic from Go's net/http.
func New(cfg config.FetchConfig) *Fetcher {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}
	if cfg.EnableAdvancedFingerprinting {
		transport.DialTLSContext = dialTLSChrome
	}

	client := &http.Client{
		Timeout:   cfg.GetRequestTimeout(),
		Transport: &ssrfProtectedTransport{base: transport},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}

	return &Fetcher{config: cfg, client: client}
}

// Fetch issues a single GET against urlStr, rejecting SSRF targets before
// dialing and attaching a randomly selected UA from the configured pool.
// No Sec-CH-UA client hints or Sec-Fetch-* headers are sent.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (*Response, error) {
	if err := urlutil.ValidateExternal(urlStr); err != nil {
		return nil, fmt.Errorf("fetch rejected: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	f.applyHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// applyHeaders sets a randomly chosen User-Agent from the configured pool
// plus the Accept/Accept-Language headers a real browser sends, so plain
// HTTP GETs don't stand out against the UA they claim.
func (f *Fetcher) applyHeaders(req *http.Request) {
	agents := f.config.GetUserAgents()
	ua := agents[rand.IntN(len(agents))]
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// SetTimeout overrides the client's request timeout. Used by tests.
func (f *Fetcher) SetTimeout(timeout time.Duration) {
	f.client.Timeout = timeout
}

// ssrfProtectedTransport re-validates the dial target at connection time,
// closing the DNS-rebinding gap between urlutil.ValidateExternal's
// pre-flight check and the transport's own resolution.
type ssrfProtectedTransport struct {
	base http.RoundTripper
}

func (t *ssrfProtectedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host, _, err := net.SplitHostPort(req.URL.Host)
	if err != nil {
		host = req.URL.Host
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return nil, fmt.Errorf("requests to private IP addresses are not allowed: %s", host)
		}
	} else {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr == nil {
			for _, resolved := range ips {
				if resolved.IsLoopback() || resolved.IsPrivate() || resolved.IsLinkLocalUnicast() {
					return nil, fmt.Errorf("url resolves to private IP address: %s -> %s", host, resolved)
				}
			}
		}
	}

	return t.base.RoundTrip(req)
}

// dialTLSChrome dials addr and performs a TLS handshake using utls's
// Chrome ClientHello fingerprint, so the wire-level handshake matches the
// claimed User-Agent rather than Go's distinctive default fingerprint.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("utls handshake: %w", err)
	}
	return tlsConn, nil
}
