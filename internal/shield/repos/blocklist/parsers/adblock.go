package parsers

import (
	"bufio"
	"io"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

// adblock option handling: supported options change the rule, ignored options
// are accepted without effect, anything else drops the rule.
var (
	thirdPartyOptions = map[string]struct{}{"third-party": {}, "3p": {}}
	ignoredOptions    = map[string]struct{}{"important": {}, "all": {}, "document": {}, "doc": {}}
)

// maxScanToken raises bufio.Scanner's limit; filter lists carry long
// cosmetic and scriptlet lines that would otherwise abort the scan.
const maxScanToken = 1 << 20

// ParseAdblockList parses EasyList / uBlock Origin style filter lists, keeping
// only host-anchored network rules:
//
//	||ads.example.com^                 suffix block
//	@@||cdn.example.com^               suffix exception
//	||tracker.net^$third-party         suffix block, third-party requests only
//
// Comments ("!"), section headers ("[Adblock Plus 2.0]"), cosmetic filters
// ("##", "#@#", "#?#", "#$#"), path patterns and rules with unsupported
// options are skipped.
func ParseAdblockList(r io.Reader, source string, logger logpkg.Logger, now time.Time) ([]domain.BlockRule, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanToken)
	rules := newDedupe()
	logger.Debug(map[string]any{"source": source}, "parse_adblock_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(stripLineBOM(scanner.Text()))

		switch {
		case line == "", strings.HasPrefix(line, "!"), strings.HasPrefix(line, "["):
			continue
		case isCosmetic(line):
			continue
		}

		rule, ok := parseNetworkRule(line, source, now)
		if !ok {
			logger.Debug(map[string]any{"line": lineNum, "raw": line}, "adblock_skip_unsupported")
			continue
		}
		if !rules.add(rule) {
			logger.Debug(map[string]any{"line": lineNum, "name": rule.Name}, "adblock_skip_duplicate")
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_adblock_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(rules.out)}, "parse_adblock_done")
	return rules.out, nil
}

func isCosmetic(line string) bool {
	for _, marker := range []string{"##", "#@#", "#?#", "#$#", "#%#"} {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// parseNetworkRule turns one "||host^[$options]" line into a suffix rule.
func parseNetworkRule(line, source string, now time.Time) (domain.BlockRule, bool) {
	exception := false
	if strings.HasPrefix(line, "@@") {
		exception = true
		line = line[2:]
	}
	if !strings.HasPrefix(line, "||") {
		return domain.BlockRule{}, false
	}
	line = line[2:]

	pattern, opts, _ := strings.Cut(line, "$")
	pattern = strings.TrimSuffix(pattern, "|")
	pattern = strings.TrimSuffix(pattern, "^")
	if pattern == "" || strings.ContainsAny(pattern, "/*^|:?=&") {
		return domain.BlockRule{}, false
	}

	thirdParty := false
	if opts != "" {
		for _, opt := range strings.Split(opts, ",") {
			opt = strings.ToLower(strings.TrimSpace(opt))
			if _, ok := thirdPartyOptions[opt]; ok {
				thirdParty = true
				continue
			}
			if _, ok := ignoredOptions[opt]; ok {
				continue
			}
			return domain.BlockRule{}, false
		}
	}

	name := normalizeDomainName(pattern)
	if !isValidFQDN(name) {
		return domain.BlockRule{}, false
	}
	rule, err := domain.NewSuffixBlockRule(name, source, now)
	if err != nil {
		return domain.BlockRule{}, false
	}
	rule.Exception = exception
	rule.ThirdParty = thirdParty
	return rule, true
}
