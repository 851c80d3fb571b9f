package runner

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLValidator guards outbound HTTP calls against SSRF: only http/https,
// no loopback, private, link-local, multicast or unspecified targets.
type URLValidator struct {
	allowPrivate bool
}

// NewURLValidator creates a validator. allowPrivate is for test and
// single-tenant deployments only.
func NewURLValidator(allowPrivate bool) *URLValidator {
	return &URLValidator{allowPrivate: allowPrivate}
}

// Validate checks scheme, hostname and every resolved address of a URL
func (v *URLValidator) Validate(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL has no host")
	}
	if v.allowPrivate {
		return nil
	}

	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("host %q is blocked", hostname)
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return v.checkIP(ip)
	}

	addrs, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("failed to resolve host %q: %w", hostname, err)
	}
	for _, ip := range addrs {
		if err := v.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func (v *URLValidator) checkIP(ip net.IP) error {
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
