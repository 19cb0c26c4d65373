package analysis

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"

	"phishguard/internal/features"
)

// Page is a fetched document. StatusCode is kept even for error statuses;
// error pages are still classified.
type Page struct {
	StatusCode int
	HTML       string
	FinalURL   string
}

// PageFetcher retrieves a page or returns nil. It never fails loudly.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) *Page
}

type FetcherConfig struct {
	Timeout              time.Duration
	MaxBodyBytes         int64
	UserAgent            string
	BlockPrivateNetworks bool
}

type Fetcher struct {
	client  *http.Client
	maxBody int64
	ua      string
}

var errBlockedAddress = errors.New("destination address is not public")

// blockedCIDRs are private/internal networks a fetch must never reach when
// the guard is on.
var blockedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // link-local / cloud metadata
		"0.0.0.0/8",      // unspecified
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, ipNet, _ := net.ParseCIDR(c)
		nets = append(nets, ipNet)
	}
	return nets
}()

func isBlocked(ip net.IP) bool {
	for _, cidr := range blockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if cfg.BlockPrivateNetworks {
		// Checked after DNS resolution, so rebinding tricks are caught too.
		dialer.Control = func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || isBlocked(ip) {
				return fmt.Errorf("%w: %s", errBlockedAddress, address)
			}
			return nil
		}
	}

	tr := &http.Transport{
		DialContext:         dialer.DialContext,
		// Phishing sites often have broken/self-signed certs.
		// We want to scan them anyway, not fail.
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: cfg.Timeout,
		MaxIdleConnsPerHost: 2,
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}

	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout, Transport: tr},
		maxBody: maxBody,
		ua:      cfg.UserAgent,
	}
}

// Fetch downloads rawURL with browser-like headers and decodes the body to
// UTF-8. A URL without a scheme is fetched over http. Any failure, including
// an empty body, yields nil.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *Page {
	page, err := f.fetch(ctx, rawURL)
	if err != nil {
		log.Debug().Err(err).Str("url", rawURL).Msg("page fetch failed")
		return nil
	}
	return page
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*Page, error) {
	// URL features read "example.com/login" as http, so the fetch does too.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, features.WithScheme(rawURL), nil)
	if err != nil {
		return nil, err
	}

	// Look like a real browser so cloaking kits serve the real page.
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Limit reader to avoid memory bombs
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	return &Page{
		StatusCode: resp.StatusCode,
		HTML:       decodeBody(body, resp.Header.Get("Content-Type")),
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func decodeBody(body []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
