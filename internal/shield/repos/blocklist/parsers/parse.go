package parsers

import (
	"fmt"
	"io"
	"time"

	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

// Parse dispatches to the parser for format.
func Parse(format domain.ListFormat, r io.Reader, source string, logger logpkg.Logger, now time.Time) ([]domain.BlockRule, error) {
	switch format {
	case domain.FormatAdblock, "":
		return ParseAdblockList(r, source, logger, now)
	case domain.FormatHosts:
		return ParseHostsFile(r, source, logger, now)
	case domain.FormatPlain:
		return ParsePlainList(r, source, logger, now)
	default:
		return nil, fmt.Errorf("unsupported list format: %q", format)
	}
}
