package netguard

import (
	"net"
	"net/url"
	"strings"
	"testing"
)

func check(t *testing.T, g *Guard, rawURL string) error {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("bad test url %q: %v", rawURL, err)
	}
	return g.CheckURL(u)
}

func TestCheckURL_SchemeAllowlist(t *testing.T) {
	g := New()
	g.lookupIP = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}

	if err := check(t, g, "https://example.com/search"); err != nil {
		t.Errorf("https must pass: %v", err)
	}
	if err := check(t, g, "http://example.com"); err != nil {
		t.Errorf("http must pass: %v", err)
	}

	for _, raw := range []string{
		"file:///etc/passwd",
		"ftp://example.com/data",
		"gopher://example.com",
		"redis://example.com:6379",
	} {
		if err := check(t, g, raw); err == nil {
			t.Errorf("%q must be rejected", raw)
		}
	}
}

func TestCheckURL_BlockedHosts(t *testing.T) {
	g := New()

	for _, raw := range []string{
		"http://localhost:8080/admin",
		"http://127.0.0.1/",
		"http://0.0.0.0:9000",
		"http://[::1]:8080",
	} {
		if err := check(t, g, raw); err == nil {
			t.Errorf("%q must be rejected", raw)
		}
	}
}

func TestCheckURL_BlockedIPRanges(t *testing.T) {
	g := New()

	cases := []struct {
		raw  string
		want string
	}{
		{"http://10.0.0.5/api", "private"},
		{"http://172.16.1.1/", "private"},
		{"http://192.168.1.10:3000", "private"},
		{"http://169.254.169.254/latest/meta-data/", "link-local"},
		{"http://224.0.0.1/", "multicast"},
	}

	for _, tc := range cases {
		err := check(t, g, tc.raw)
		if err == nil {
			t.Errorf("%q must be rejected", tc.raw)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: expected %q in error, got %v", tc.raw, tc.want, err)
		}
	}
}

func TestCheckURL_ResolvedAddressesChecked(t *testing.T) {
	g := New()
	g.lookupIP = func(string) ([]net.IP, error) {
		// a name that resolves to an internal address must be blocked
		return []net.IP{net.ParseIP("10.1.2.3")}, nil
	}

	if err := check(t, g, "http://internal.example.com/"); err == nil {
		t.Error("name resolving to a private address must be rejected")
	}
}

func TestCheckURL_LookupFailurePasses(t *testing.T) {
	g := New()
	g.lookupIP = func(string) ([]net.IP, error) {
		return nil, &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}
	}

	if err := check(t, g, "http://nowhere.invalid/"); err != nil {
		t.Errorf("dns failure must pass through to the dial, got %v", err)
	}
}

func TestCheckURL_PathPatterns(t *testing.T) {
	g := New()
	g.lookupIP = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}

	for _, raw := range []string{
		"http://example.com/../../secret",
		"http://example.com/read?name=/etc/passwd",
		"http://example.com/a%2e%2e%2fb",
	} {
		if err := check(t, g, raw); err == nil {
			t.Errorf("%q must be rejected", raw)
		}
	}
}
