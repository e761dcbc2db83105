// Package security validates outbound tool traffic. Model-directed fetches
// reach arbitrary URLs, so every target is checked against SSRF patterns
// before a request leaves the process.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/log"
)

// Errors returned by URL validation.
var (
	ErrDisallowedScheme = errors.New("security: disallowed URL scheme")
	ErrForbiddenHost    = errors.New("security: host resolves to a forbidden address")
)

// maxRedirects bounds redirect chains on validated clients.
const maxRedirects = 3

// URLPolicy decides which URLs outbound tools may touch. The zero value is
// not usable; construct with NewURLPolicy.
type URLPolicy struct {
	allowedSchemes []string
	logger         log.Logger
}

// NewURLPolicy creates a policy allowing http and https targets on public
// addresses.
func NewURLPolicy(logger log.Logger) *URLPolicy {
	if logger == nil {
		logger = log.NewNop()
	}
	return &URLPolicy{
		allowedSchemes: []string{"http", "https"},
		logger:         logger,
	}
}

// Validate rejects URLs that point at internal networks, loopback
// addresses, or cloud metadata services. The hostname is resolved and every
// address it maps to is checked.
func (p *URLPolicy) Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("security: parsing URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(p.allowedSchemes, scheme) {
		return fmt.Errorf("%w: %s", ErrDisallowedScheme, u.Scheme)
	}

	hostname := u.Hostname()
	if hostname == "" {
		return fmt.Errorf("security: URL has no host")
	}

	if forbiddenHostname(hostname) {
		p.logger.Warn("blocked URL with forbidden hostname",
			"url", raw, "hostname", hostname)
		return fmt.Errorf("%w: %s", ErrForbiddenHost, hostname)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("security: resolving %s: %w", hostname, err)
	}
	for _, ip := range ips {
		if privateIP(ip) {
			p.logger.Warn("blocked URL resolving to private address",
				"url", raw, "hostname", hostname, "ip", ip.String())
			return fmt.Errorf("%w: %s -> %s", ErrForbiddenHost, hostname, ip)
		}
	}

	return nil
}

// Client builds an HTTP client that re-validates every redirect hop. A
// public URL must not be allowed to bounce the request onto an internal
// address.
func (p *URLPolicy) Client(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("security: stopped after %d redirects", maxRedirects)
			}
			if err := p.Validate(req.URL.String()); err != nil {
				return fmt.Errorf("security: unsafe redirect: %w", err)
			}
			return nil
		},
	}
}

// forbiddenHostname matches local hostnames and cloud metadata endpoints
// before DNS resolution, catching names that resolve externally but are
// still metadata aliases.
func forbiddenHostname(hostname string) bool {
	hostname = strings.ToLower(hostname)

	local := []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"}
	if slices.Contains(local, hostname) {
		return true
	}

	metadata := []string{
		"169.254.169.254", // AWS, Azure, GCP
		"metadata.google.internal",
		"metadata",
	}
	for _, endpoint := range metadata {
		if hostname == endpoint || strings.Contains(hostname, endpoint) {
			return true
		}
	}
	return false
}

// privateIP reports whether ip falls in a private, loopback, link-local, or
// otherwise non-routable range.
func privateIP(ip net.IP) bool {
	ranges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"224.0.0.0/4",
		"240.0.0.0/4",
	}
	for _, cidr := range ranges {
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if subnet.Contains(ip) {
			return true
		}
	}

	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	// IPv6 unique local addresses, fc00::/7.
	if v6 := ip.To16(); v6 != nil && ip.To4() == nil && (v6[0] == 0xfc || v6[0] == 0xfd) {
		return true
	}
	return false
}
