package utils

import (
	"net"

	"golang.org/x/net/publicsuffix"
)

// GetApexDomain returns the registrable domain (eTLD+1) for name.
// IP literals and names publicsuffix cannot parse are returned as-is.
func GetApexDomain(name string) string {
	name = CanonicalDNSName(name)
	if net.ParseIP(name) != nil {
		return name
	}
	apexDomain, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apexDomain
}

// IsThirdParty reports whether a request to requestHost made from a page on
// pageHost crosses registrable-domain boundaries. An empty pageHost means the
// request is top-level and therefore first-party.
func IsThirdParty(requestHost, pageHost string) bool {
	if CanonicalDNSName(pageHost) == "" {
		return false
	}
	return GetApexDomain(requestHost) != GetApexDomain(pageHost)
}
