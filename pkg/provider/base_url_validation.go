package provider

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ValidateBaseURL vets a provider endpoint before an API key is sent to it.
//
// The URL must be absolute http(s) with no userinfo, query or fragment.
// Unless allowPrivate is set for self-hosted embedding servers, the host
// must be public and the scheme must be https.
func ValidateBaseURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url scheme %q (must be http or https)", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid base_url host %q", u.Host)
	}
	if u.User != nil {
		return fmt.Errorf("base_url must not contain userinfo")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("base_url must not contain query or fragment")
	}

	if allowPrivate {
		return nil
	}
	if internalHost(host) {
		return fmt.Errorf("base_url host %q is internal (set allow_private_base_url for self-hosted providers)", host)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("base_url must use https for public hosts")
	}
	return nil
}

func internalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return !addr.IsGlobalUnicast() || addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}
