// Package proxy parses outbound proxy URLs, persists the proxy list and
// builds proxy-aware HTTP transports.
package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/freegpt4/webapi/internal/apperr"
)

// Supported schemes. socks4 is rejected: the SOCKS dialer only speaks v5.
const (
	SchemeHTTP    = "http"
	SchemeHTTPS   = "https"
	SchemeSOCKS5  = "socks5"
	SchemeSOCKS5H = "socks5h"
)

// Entry is one outbound proxy. The JSON names match the proxy list file.
type Entry struct {
	Scheme   string `json:"protocol"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Host     string `json:"ip"`
	Port     int    `json:"port"`
}

// Parse validates raw as scheme://[user:pass@]host:port and returns the
// entry. Every failure is an apperr Validation error whose message never
// contains the password.
func Parse(raw string) (Entry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Entry{}, apperr.Validationf("proxy URL is empty")
	}
	shown := redactRaw(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return Entry{}, apperr.Validationf("invalid proxy %q: malformed URL", shown)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeSOCKS5, SchemeSOCKS5H:
	default:
		return Entry{}, apperr.Validationf("invalid proxy %q: unsupported scheme %q", shown, u.Scheme)
	}
	if u.Opaque != "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return Entry{}, apperr.Validationf("invalid proxy %q: path, query and fragment are not allowed", shown)
	}

	host := u.Hostname()
	if host == "" {
		return Entry{}, apperr.Validationf("invalid proxy %q: missing host", shown)
	}
	portStr := u.Port()
	if portStr == "" {
		return Entry{}, apperr.Validationf("invalid proxy %q: missing port", shown)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Entry{}, apperr.Validationf("invalid proxy %q: port must be 1-65535", shown)
	}

	e := Entry{Scheme: scheme, Host: host, Port: port}
	if u.User != nil {
		pw, hasPw := u.User.Password()
		if u.User.Username() == "" || !hasPw || pw == "" {
			return Entry{}, apperr.Validationf("invalid proxy %q: credentials need both user and password", shown)
		}
		e.Username = u.User.Username()
		e.Password = pw
	}
	return e, nil
}

// ParseAll parses every non-blank line of raws in order. The first invalid
// entry aborts the whole batch.
func ParseAll(raws []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		e, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// URL returns the entry as a *url.URL including credentials.
func (e Entry) URL() *url.URL {
	u := &url.URL{Scheme: e.Scheme, Host: net.JoinHostPort(e.Host, strconv.Itoa(e.Port))}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// String returns the full proxy URL including credentials.
func (e Entry) String() string {
	return e.URL().String()
}

// Redacted returns the proxy URL with the password masked, for logs and errors.
func (e Entry) Redacted() string {
	return e.URL().Redacted()
}

// Validate re-checks an entry loaded from disk.
func (e Entry) Validate() error {
	_, err := Parse(e.String())
	return err
}

// redactRaw masks anything between "://" and the last "@" so that error
// messages for unparsable input never echo a password.
func redactRaw(raw string) string {
	start := strings.Index(raw, "://")
	at := strings.LastIndex(raw, "@")
	if start < 0 || at < start {
		return raw
	}
	userinfo := raw[start+3 : at]
	user, _, found := strings.Cut(userinfo, ":")
	if !found {
		return raw
	}
	return fmt.Sprintf("%s%s:xxxxx%s", raw[:start+3], user, raw[at:])
}
