package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
)

const (
	dialTimeout         = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// NewTransport returns an http.Transport that routes every request through e.
// HTTP(S) proxies use CONNECT via Transport.Proxy; SOCKS5 proxies replace the
// dialer.
func NewTransport(e Entry) (*http.Transport, error) {
	t := baseTransport()
	u := e.URL()

	switch e.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		t.Proxy = http.ProxyURL(u)
	case SchemeSOCKS5, SchemeSOCKS5H:
		d, err := xproxy.FromURL(u, &net.Dialer{Timeout: dialTimeout})
		if err != nil {
			return nil, fmt.Errorf("building SOCKS dialer for %s: %w", e.Redacted(), err)
		}
		cd, ok := d.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS dialer for %s does not support contexts", e.Redacted())
		}
		t.Proxy = nil
		t.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", e.Scheme)
	}
	return t, nil
}

// DirectTransport returns a transport that never uses a proxy, not even one
// from the environment.
func DirectTransport() *http.Transport {
	t := baseTransport()
	t.Proxy = nil
	return t
}

func baseTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = tlsHandshakeTimeout
	return t
}

// Transports caches one transport per proxy so connections are reused
// across requests that pick the same entry.
type Transports struct {
	mu     sync.Mutex
	direct *http.Transport
	byURL  map[string]*http.Transport
}

// NewTransports returns an empty cache.
func NewTransports() *Transports {
	return &Transports{direct: DirectTransport(), byURL: make(map[string]*http.Transport)}
}

// For returns the cached transport for e, or the direct transport when e is nil.
func (c *Transports) For(e *Entry) (*http.Transport, error) {
	if e == nil {
		return c.direct, nil
	}
	key := e.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.byURL[key]; ok {
		return t, nil
	}
	t, err := NewTransport(*e)
	if err != nil {
		return nil, err
	}
	c.byURL[key] = t
	return t, nil
}

// CloseIdle closes idle connections on every cached transport.
func (c *Transports) CloseIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.direct.CloseIdleConnections()
	for _, t := range c.byURL {
		t.CloseIdleConnections()
	}
}

// Check dials target through e and reports the round-trip latency. It is used
// by the "proxies check" command.
func Check(ctx context.Context, e Entry, target string) (time.Duration, error) {
	t, err := NewTransport(e)
	if err != nil {
		return 0, err
	}
	defer t.CloseIdleConnections()

	client := &http.Client{Transport: t, Timeout: dialTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request via %s: %w", e.Redacted(), err)
	}
	resp.Body.Close()
	return time.Since(start), nil
}
