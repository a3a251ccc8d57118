// Package identifier pulls verification identifiers out of scanned QR strings
// and validates that a scanned URL points at the DGI verification service.
package identifier

import (
	"net/url"
	"regexp"
	"strings"
)

// DGIHost is the verification service host printed in invoice QR codes.
const DGIHost = "services.fne.dgi.gouv.ci"

var reVerificationID = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// Extract returns the first 8-4-4-4-12 hexadecimal group found in s,
// lowercased. ok is false when s contains no such group.
func Extract(s string) (id string, ok bool) {
	m := reVerificationID.FindString(s)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// ValidateDGIURL reports whether raw is an http(s) URL on the DGI
// verification host (or one of its sub-domains). reason explains a rejection.
func ValidateDGIURL(raw string) (ok bool, reason string) {
	return ValidateHost(raw, DGIHost)
}

// ValidateHost is ValidateDGIURL against an arbitrary allowed host.
func ValidateHost(raw, allowed string) (ok bool, reason string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, "empty URL"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false, "malformed URL"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, "URL scheme must be http or https"
	}
	host := strings.ToLower(u.Hostname())
	allowed = strings.ToLower(allowed)
	if host != allowed && !strings.HasSuffix(host, "."+allowed) {
		return false, "URL host is not " + allowed
	}
	return true, ""
}
