package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFor(t *testing.T, srv *httptest.Server) Entry {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return Entry{Scheme: "http", Host: u.Hostname(), Port: port, Username: "u", Password: "p"}
}

// TestNewTransport_HTTPProxy verifies requests are sent to the proxy in absolute form.
func TestNewTransport_HTTPProxy(t *testing.T) {
	var gotHost, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.URL.Host
		gotAuth = r.Header.Get("Proxy-Authorization")
		io.WriteString(w, "via proxy")
	}))
	defer srv.Close()

	tr, err := NewTransport(entryFor(t, srv))
	require.NoError(t, err)

	client := &http.Client{Transport: tr}
	resp, err := client.Get("http://upstream.invalid/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "via proxy", string(body))
	assert.Equal(t, "upstream.invalid", gotHost)
	assert.NotEmpty(t, gotAuth)
}

func TestNewTransport_SOCKS(t *testing.T) {
	tr, err := NewTransport(Entry{Scheme: "socks5", Host: "127.0.0.1", Port: 1080, Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Nil(t, tr.Proxy)
	assert.NotNil(t, tr.DialContext)
}

func TestTransports_Cache(t *testing.T) {
	c := NewTransports()

	direct, err := c.For(nil)
	require.NoError(t, err)
	assert.Nil(t, direct.Proxy)

	e := Entry{Scheme: "http", Host: "1.2.3.4", Port: 8080}
	a, err := c.For(&e)
	require.NoError(t, err)
	b, err := c.For(&e)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c.CloseIdle()
}
