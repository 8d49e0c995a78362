// Package netguard screens outbound request targets before the engine
// dials them: http/https schemes only, no loopback/private/link-local
// destinations, no file-access patterns in paths or query values.
package netguard

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Guard validates outbound URLs for workflow-driven HTTP calls.
type Guard struct {
	schemes      map[string]bool
	blockedHosts map[string]bool
	lookupIP     func(host string) ([]net.IP, error)
}

// New creates a guard with the default policy
func New() *Guard {
	return &Guard{
		schemes: map[string]bool{"http": true, "https": true},
		blockedHosts: map[string]bool{
			"localhost":        true,
			"127.0.0.1":        true,
			"::1":              true,
			"0.0.0.0":          true,
			"::":               true,
			"::ffff:127.0.0.1": true,
		},
		lookupIP: net.LookupIP,
	}
}

// CheckURL runs every check against a parsed URL
func (g *Guard) CheckURL(u *url.URL) error {
	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	if scheme == "" {
		return fmt.Errorf("url scheme is required")
	}
	if !g.schemes[scheme] {
		return fmt.Errorf("scheme %q is not allowed, only http and https", u.Scheme)
	}

	if err := g.checkHost(u.Hostname()); err != nil {
		return err
	}

	if err := checkPath(u.Path); err != nil {
		return err
	}
	for key, values := range u.Query() {
		for _, value := range values {
			if err := checkPath(value); err != nil {
				return fmt.Errorf("query parameter %q: %w", key, err)
			}
		}
	}
	return nil
}

// checkHost rejects known-bad hostnames, then resolves the name and
// rejects any address in a blocked range. A failed lookup passes: the
// dial will fail on its own, and a transient DNS error must not leak
// into the node result as a policy violation.
func (g *Guard) checkHost(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	host := strings.ToLower(strings.TrimSpace(hostname))
	if g.blockedHosts[host] {
		return fmt.Errorf("host %q is blocked", hostname)
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	ips, err := g.lookupIP(host)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP blocks addresses a tenant workflow must never reach:
// loopback, RFC1918/ULA private ranges, link-local (cloud metadata
// services live at 169.254.169.254), multicast, and unspecified.
func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("address %s is blocked: loopback", ip)
	case ip.IsPrivate():
		return fmt.Errorf("address %s is blocked: private network", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("address %s is blocked: link-local", ip)
	case ip.IsMulticast():
		return fmt.Errorf("address %s is blocked: multicast", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("address %s is blocked: unspecified", ip)
	}
	return nil
}

var blockedPathPatterns = []string{
	"file://",
	"../",
	"..\\",
	"/etc/",
	"/proc/",
	"/sys/",
	"c:/",
	"c:\\",
	"\\\\.\\pipe\\",
	// url-encoded traversal
	"%2e%2e/",
	"%2e%2e%2f",
	"..%2f",
	"%2e%2e\\",
	"%2e%2e%5c",
	"..%5c",
}

func checkPath(p string) error {
	if p == "" {
		return nil
	}
	lowered := strings.ToLower(p)
	for _, pattern := range blockedPathPatterns {
		if strings.Contains(lowered, pattern) {
			return fmt.Errorf("path contains blocked pattern %q", pattern)
		}
	}
	return nil
}
