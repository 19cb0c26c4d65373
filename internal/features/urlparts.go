package features

import "strings"

// WithScheme prefixes "http://" to raw unless it already starts with
// "scheme://".
func WithScheme(raw string) string {
	if i := strings.Index(raw, "://"); i <= 0 || !validScheme(raw[:i]) {
		return "http://" + raw
	}
	return raw
}

// SplitURL returns the lower-cased scheme and the raw authority of a URL
// without ever failing. Strings that do not start with "scheme://" are
// treated as http URLs.
func SplitURL(raw string) (scheme, netloc string) {
	s := WithScheme(raw)
	if i := strings.IndexByte(s, ':'); i > 0 && validScheme(s[:i]) {
		scheme = strings.ToLower(s[:i])
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "//") {
		s = s[2:]
		if end := strings.IndexAny(s, "/?#"); end >= 0 {
			s = s[:end]
		}
		netloc = s
	}
	return scheme, netloc
}

// Hostname is the lower-cased host of raw with userinfo, port and IPv6
// brackets removed.
func Hostname(raw string) string {
	_, netloc := SplitURL(raw)
	return hostFromNetloc(netloc)
}

func hostFromNetloc(netloc string) string {
	if i := strings.LastIndexByte(netloc, '@'); i >= 0 {
		netloc = netloc[i+1:]
	}
	if strings.HasPrefix(netloc, "[") {
		if end := strings.IndexByte(netloc, ']'); end > 0 {
			return strings.ToLower(netloc[1:end])
		}
		return strings.ToLower(netloc[1:])
	}
	if strings.Count(netloc, ":") == 1 {
		netloc = netloc[:strings.IndexByte(netloc, ':')]
	}
	return strings.ToLower(netloc)
}

func validScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return s != ""
}
