package websecurity

import (
	"net"
	"net/url"
	"strings"

	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// dangerousSchemes are rejected outright before any other check.
var dangerousSchemes = []string{
	"file:", "ftp:", "ftps:", "data:", "javascript:", "vbscript:",
	"about:", "blob:", "gopher:", "dict:", "tftp:",
}

// blockedHosts are cloud metadata endpoints and internal service names.
// A host matches when it equals an entry or is a dot-suffix of one.
var blockedHosts = []string{
	"169.254.169.254",
	"metadata.google.internal",
	"100.100.100.200",
	"fd00:ec2::254",
	"metadata",
	"metadata.azure.com",
}

// privateCIDRs are network ranges a fetch must never reach.
var privateCIDRs = []*net.IPNet{
	mustCIDR("10.0.0.0/8"),
	mustCIDR("172.16.0.0/12"),
	mustCIDR("192.168.0.0/16"),
	mustCIDR("127.0.0.0/8"),
	mustCIDR("169.254.0.0/16"),
}

// trustedSuffixes are well-known public hosts that skip the DNS probe.
var trustedSuffixes = []string{
	"google.com",
	"github.com",
	"stackoverflow.com",
	"wikipedia.org",
	"medium.com",
	"arxiv.org",
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// lookupIP is swappable in tests to avoid real DNS traffic.
var lookupIP = net.LookupIP

// Validate checks a URL before any outbound fetch. It is side-effect-free
// apart from an optional DNS lookup and returns a SECURITY_ERROR AppError
// naming the reason on rejection.
//
// Order of checks: dangerous scheme, non-HTTPS scheme, blocked metadata
// host, private IPv4 literal, DNS resolution into a private range. A DNS
// failure is not an error; the fetch is allowed to fail naturally.
func Validate(rawURL string) error {
	lower := strings.ToLower(strings.TrimSpace(rawURL))

	for _, scheme := range dangerousSchemes {
		if strings.HasPrefix(lower, scheme) {
			return apperrors.NewSecurityError("Dangerous URL scheme blocked: " + scheme)
		}
	}

	if !strings.HasPrefix(lower, "https:") {
		return apperrors.NewSecurityError("Only HTTPS URLs are allowed")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return apperrors.NewSecurityError("Invalid URL: " + err.Error())
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return apperrors.NewSecurityError("URL has no host")
	}

	for _, blocked := range blockedHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return apperrors.NewSecurityError("Blocked cloud metadata endpoint: " + host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil && isPrivate(ip4) {
			return apperrors.NewSecurityError("Blocked private IP address: " + host)
		}
		return nil
	}

	if hasTrustedSuffix(host) {
		return nil
	}

	ips, err := lookupIP(host)
	if err != nil {
		// Unresolvable hosts proceed; the fetch itself will fail.
		return nil
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil && isPrivate(ip4) {
			return apperrors.NewSecurityError("Host resolves to a private address: " + host)
		}
	}

	return nil
}

// ValidateRedirect applies Validate to next and additionally rejects any
// redirect that changes the host.
func ValidateRedirect(original, next string) error {
	if err := Validate(next); err != nil {
		return err
	}

	origURL, err := url.Parse(original)
	if err != nil {
		return apperrors.NewSecurityError("Invalid original URL: " + err.Error())
	}
	nextURL, err := url.Parse(next)
	if err != nil {
		return apperrors.NewSecurityError("Invalid redirect URL: " + err.Error())
	}

	if !strings.EqualFold(origURL.Hostname(), nextURL.Hostname()) {
		return apperrors.NewSecurityError("Cross-host redirect blocked: " +
			origURL.Hostname() + " -> " + nextURL.Hostname())
	}
	return nil
}

func isPrivate(ip net.IP) bool {
	for _, cidr := range privateCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func hasTrustedSuffix(host string) bool {
	for _, suffix := range trustedSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
