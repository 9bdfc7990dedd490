package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ListFormat names the syntax of a remote rule list.
type ListFormat string

const (
	FormatAdblock ListFormat = "adblock"
	FormatHosts   ListFormat = "hosts"
	FormatPlain   ListFormat = "plain"
)

// ParseListFormat normalizes s; the empty string selects FormatAdblock.
func ParseListFormat(s string) (ListFormat, error) {
	switch f := ListFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAdblock, nil
	case FormatAdblock, FormatHosts, FormatPlain:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported list format: %q", s)
	}
}

// RuleSource is one remote filter list.
type RuleSource struct {
	URL    string     `koanf:"url"`
	Format ListFormat `koanf:"format"`
}

// RuleSourceSet is the ordered list of rule sources an engine is compiled from.
type RuleSourceSet []RuleSource

// ErrNoSources is returned when validating an empty RuleSourceSet.
var ErrNoSources = errors.New("rule source set is empty")

// SourcesFromURLs builds a RuleSourceSet of adblock-format lists.
func SourcesFromURLs(urls ...string) RuleSourceSet {
	out := make(RuleSourceSet, 0, len(urls))
	for _, u := range urls {
		out = append(out, RuleSource{URL: u, Format: FormatAdblock})
	}
	return out
}

// Validate checks that the set is non-empty and every entry is a fetchable
// http(s) URL with a known format.
func (s RuleSourceSet) Validate() error {
	if len(s) == 0 {
		return ErrNoSources
	}
	for i, src := range s {
		if err := ValidateListURL(src.URL); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
		if _, err := ParseListFormat(string(src.Format)); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}
	return nil
}

// URLs returns the source URLs in order.
func (s RuleSourceSet) URLs() []string {
	out := make([]string, len(s))
	for i, src := range s {
		out[i] = src.URL
	}
	return out
}

// ValidateListURL accepts absolute http and https URLs with a host.
func ValidateListURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid list url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("list url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("list url %q has no host", raw)
	}
	return nil
}
