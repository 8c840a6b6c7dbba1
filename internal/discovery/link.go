package discovery

import (
	"net/url"
	"strings"
)

// NormalizeWebsite reduces displayed link text to a bare lowercase host:
// "https://www.Acme.com/about?x=1" becomes "acme.com". It returns "" when
// nothing host-like remains.
func NormalizeWebsite(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, ".")
	if host == "" || !strings.Contains(host, ".") || strings.ContainsAny(host, " \t") {
		return ""
	}
	return host
}
