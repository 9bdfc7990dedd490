package domain

import (
	"fmt"

	"github.com/haukened/rr-shield/internal/shield/common/utils"
)

// Request is a single outgoing network request as seen by a session's filter.
type Request struct {
	URL      string
	Host     string // canonical request host
	PageHost string // canonical host of the page issuing the request, empty for top-level loads
}

// NewRequest parses rawURL and, when non-empty, pageURL into a Request.
func NewRequest(rawURL, pageURL string) (Request, error) {
	host, err := utils.HostFromURL(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("invalid request url: %w", err)
	}
	req := Request{URL: rawURL, Host: host}
	if pageURL != "" {
		page, err := utils.HostFromURL(pageURL)
		if err != nil {
			return Request{}, fmt.Errorf("invalid page url: %w", err)
		}
		req.PageHost = page
	}
	return req, nil
}

// ThirdParty reports whether the request leaves the page's registrable domain.
func (r Request) ThirdParty() bool {
	return utils.IsThirdParty(r.Host, r.PageHost)
}
