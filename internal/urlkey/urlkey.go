// Package urlkey derives the canonical keys used to look URLs up in the
// blacklist and the score cache.
package urlkey

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"phishguard/internal/features"
)

// Normalize reduces a URL to scheme://host[:port]/path[?query]. Scheme and
// host are lower-cased, default ports and the fragment are dropped, and a
// missing scheme means http. Unparsable input is returned trimmed.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	s := raw
	if scheme, _ := features.SplitURL(raw); !strings.HasPrefix(strings.ToLower(raw), scheme+"://") {
		s = "http://" + raw
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	host := Host(u.Host)
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host += ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	key := scheme + "://" + host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

func isDefaultPort(scheme, port string) bool {
	return scheme == "http" && port == "80" || scheme == "https" && port == "443"
}

// Host is the canonical host of a URL or bare hostname: lower-cased, no
// port or trailing dot, and IDNA-encoded when it contains Unicode.
func Host(raw string) string {
	host := strings.TrimSuffix(features.Hostname(raw), ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		return ascii
	}
	return host
}

// IsPublicSuffix reports whether host is itself a public suffix such as
// "com" or "co.uk". Such a host is never a meaningful blacklist entry.
func IsPublicSuffix(host string) bool {
	if host == "" {
		return true
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	return suffix == host
}

// Registrable returns the eTLD+1 of host, or host when it has none.
func Registrable(host string) string {
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// IsURL reports whether a blacklist target names a specific URL rather
// than a host.
func IsURL(target string) bool {
	return strings.Contains(target, "/") || strings.Contains(target, "?")
}
