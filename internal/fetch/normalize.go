package fetch

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

const viewSourcePrefix = "view-source:"

// hostProfile maps IDN hostnames for lookup but tolerates underscores, which show up in real DNS names.
var hostProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// Target is a normalized fetch target. Addrs is empty until a Guard verdict has confirmed the host.
type Target struct {
	URL   string
	Host  string
	Addrs []netip.Addr
}

// Normalize turns raw user input into an absolute http(s) URL and extracts its hostname.
// Input without a scheme defaults to https; a browser "view-source:" prefix is dropped.
func Normalize(raw string) (Target, error) {
	target := strings.TrimSpace(raw)
	if hasPrefixFold(target, viewSourcePrefix) {
		target = strings.TrimSpace(target[len(viewSourcePrefix):])
	}
	if !hasPrefixFold(target, "http://") && !hasPrefixFold(target, "https://") {
		if strings.Contains(target, "://") {
			return Target{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURL, raw)
		}
		target = "https://" + target
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Target{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURL, raw)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return Target{}, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}

	asciiHost, err := asciiHostname(hostname)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if asciiHost != hostname {
		if port := parsed.Port(); port != "" {
			parsed.Host = asciiHost + ":" + port
		} else {
			parsed.Host = asciiHost
		}
	}

	return Target{URL: parsed.String(), Host: asciiHost}, nil
}

// asciiHostname lowercases DNS names and converts IDN labels to punycode. IP literals pass through.
func asciiHostname(hostname string) (string, error) {
	if _, err := netip.ParseAddr(hostname); err == nil {
		return hostname, nil
	}
	return hostProfile.ToASCII(strings.ToLower(hostname))
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
