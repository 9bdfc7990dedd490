package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// HostFromURL extracts the canonical host from an absolute URL.
func HostFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := CanonicalDNSName(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return host, nil
}

// ParentDomains returns name followed by each parent domain, most-specific
// first, stopping before the bare TLD. "a.b.example.com" yields
// ["a.b.example.com", "b.example.com", "example.com"].
func ParentDomains(name string) []string {
	name = CanonicalDNSName(name)
	if name == "" {
		return nil
	}
	out := []string{name}
	for {
		i := strings.IndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[i+1:]
		if strings.IndexByte(name, '.') < 0 {
			break
		}
		out = append(out, name)
	}
	return out
}
