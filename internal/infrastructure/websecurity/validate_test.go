package websecurity

import (
	"net"
	"strings"
	"testing"

	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

func TestValidate_DangerousSchemes(t *testing.T) {
	urls := []string{
		"file:///etc/passwd",
		"ftp://example.com/file",
		"data:text/html,<script>alert(1)</script>",
		"javascript:alert(1)",
		"gopher://example.com",
		"Dict://example.com",
	}
	for _, u := range urls {
		if err := Validate(u); err == nil {
			t.Errorf("expected rejection for %q", u)
		} else if !apperrors.IsSecurity(err) {
			t.Errorf("expected security error for %q, got %v", u, err)
		}
	}
}

func TestValidate_HTTPSOnly(t *testing.T) {
	err := Validate("http://169.254.169.254/latest/meta-data")
	if err == nil {
		t.Fatal("expected rejection of plain HTTP")
	}
	// Scheme check fires before the metadata-host check.
	if !strings.Contains(err.Error(), "Only HTTPS URLs are allowed") {
		t.Errorf("unexpected message: %v", err)
	}

	if err := Validate("HTTPS://github.com/vertexmcp"); err != nil {
		t.Errorf("uppercase scheme should pass: %v", err)
	}
}

func TestValidate_MetadataHosts(t *testing.T) {
	urls := []string{
		"https://169.254.169.254/latest/meta-data",
		"https://metadata.google.internal/computeMetadata/v1/",
		"https://foo.metadata.google.internal/",
		"https://metadata/",
		"https://metadata.azure.com/instance",
	}
	for _, u := range urls {
		err := Validate(u)
		if err == nil {
			t.Errorf("expected rejection for %q", u)
			continue
		}
		if !strings.Contains(err.Error(), "metadata") {
			t.Errorf("expected metadata rejection for %q, got %v", u, err)
		}
	}
}

func TestValidate_PrivateIPLiterals(t *testing.T) {
	blocked := []string{
		"https://10.0.0.5/",
		"https://172.16.1.1/",
		"https://172.31.255.255/",
		"https://192.168.0.1/admin",
		"https://127.0.0.1:8080/",
		"https://169.254.1.1/",
	}
	for _, u := range blocked {
		if err := Validate(u); err == nil {
			t.Errorf("expected rejection for %q", u)
		}
	}

	allowed := []string{
		"https://8.8.8.8/",
		"https://172.32.0.1/", // just past 172.16/12
	}
	for _, u := range allowed {
		if err := Validate(u); err != nil {
			t.Errorf("expected %q to pass, got %v", u, err)
		}
	}
}

func TestValidate_DNSProbe(t *testing.T) {
	orig := lookupIP
	defer func() { lookupIP = orig }()

	lookupIP = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("192.168.1.50")}, nil
	}
	if err := Validate("https://internal.example.test/"); err == nil {
		t.Error("expected rejection when DNS resolves to a private address")
	}

	// Allowlisted suffixes never hit DNS.
	lookupIP = func(host string) ([]net.IP, error) {
		t.Fatalf("DNS probe should be skipped for %q", host)
		return nil, nil
	}
	if err := Validate("https://api.github.com/repos"); err != nil {
		t.Errorf("allowlisted host should pass: %v", err)
	}
	if err := Validate("https://en.wikipedia.org/wiki/Go"); err != nil {
		t.Errorf("allowlisted host should pass: %v", err)
	}
}

func TestValidate_DNSFailureIsNotAnError(t *testing.T) {
	orig := lookupIP
	defer func() { lookupIP = orig }()
	lookupIP = func(host string) ([]net.IP, error) {
		return nil, &net.DNSError{Err: "no such host", Name: host}
	}
	if err := Validate("https://does-not-resolve.example.test/"); err != nil {
		t.Errorf("DNS failure should not reject, got %v", err)
	}
}

func TestValidateRedirect(t *testing.T) {
	if err := ValidateRedirect("https://example.com/a", "https://example.com/b"); err != nil {
		t.Errorf("same-host redirect should pass: %v", err)
	}
	if err := ValidateRedirect("https://example.com/a", "https://evil.example.org/b"); err == nil {
		t.Error("cross-host redirect should be rejected")
	}
	if err := ValidateRedirect("https://example.com/a", "http://example.com/b"); err == nil {
		t.Error("redirect downgrade to HTTP should be rejected")
	}
}
