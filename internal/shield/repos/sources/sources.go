// Package sources resolves the set of remote filter lists an engine is
// compiled from: an optional yaml/json/toml file, an explicit URL list, or
// the built-in defaults.
package sources

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/haukened/rr-shield/internal/shield/domain"
)

// ErrUnsupportedFile is returned for source files with an unknown extension.
var ErrUnsupportedFile = errors.New("unsupported sources file type")

// defaultURLs is the Brave-compatible list bundle: EasyList, uBlock Origin
// and Brave's own lists.
var defaultURLs = []string{
	"https://easylist.to/easylist/easylist.txt",
	"https://easylist.to/easylist/easyprivacy.txt",

	"https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/filters.txt",
	"https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/privacy.txt",
	"https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/badware.txt",
	"https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/annoyances.txt",
	"https://raw.githubusercontent.com/uBlockOrigin/uAssets/master/filters/unbreak.txt",

	"https://raw.githubusercontent.com/brave/adblock-lists/master/brave-lists/brave-firstparty.txt",
	"https://raw.githubusercontent.com/brave/adblock-lists/master/brave-lists/brave-social.txt",
	"https://raw.githubusercontent.com/brave/adblock-lists/master/brave-lists/brave-specific.txt",
	"https://raw.githubusercontent.com/brave/adblock-lists/master/brave-unbreak.txt",
}

// Default returns a fresh copy of the built-in source set.
func Default() domain.RuleSourceSet {
	return domain.SourcesFromURLs(defaultURLs...)
}

// Resolve picks the source set in priority order: the sources file when path
// is set, then urls, then the defaults. The result is validated.
func Resolve(path string, urls []string) (domain.RuleSourceSet, error) {
	switch {
	case path != "":
		return LoadFile(path)
	case len(urls) > 0:
		set := domain.SourcesFromURLs(urls...)
		if err := set.Validate(); err != nil {
			return nil, err
		}
		return set, nil
	default:
		return Default(), nil
	}
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}

// LoadFile reads a sources document of the form
//
//	sources:
//	  - url: https://easylist.to/easylist/easylist.txt
//	  - url: https://example.com/hosts
//	    format: hosts
//
// Entries without a format are adblock lists.
func LoadFile(path string) (domain.RuleSourceSet, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load sources file %s: %w", path, err)
	}

	var raw []domain.RuleSource
	if err := k.Unmarshal("sources", &raw); err != nil {
		return nil, fmt.Errorf("invalid sources file %s: %w", path, err)
	}

	set := make(domain.RuleSourceSet, 0, len(raw))
	for i, src := range raw {
		format, err := domain.ParseListFormat(string(src.Format))
		if err != nil {
			return nil, fmt.Errorf("sources file %s entry %d: %w", path, i, err)
		}
		set = append(set, domain.RuleSource{URL: strings.TrimSpace(src.URL), Format: format})
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("sources file %s: %w", path, err)
	}
	return set, nil
}
