// Package fetch downloads remote filter lists over HTTP(S).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/haukened/rr-shield/internal/shield/common/log"
)

// Error message constants for consistent error handling
const (
	errBuildRequest = "build request for %s: %w"
	errRequest      = "request %s: %w"
	errStatus       = "%w: %s returned %d"
	errReadBody     = "read body of %s: %w"
	errTooLarge     = "%w: %s exceeds %s"
)

var (
	// ErrUnexpectedStatus is wrapped when a list server answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrTooLarge is wrapped when a list body exceeds Options.MaxBytes.
	ErrTooLarge = errors.New("list too large")
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxBytes  = 32 << 20
	defaultUserAgent = "rr-shield/1.0"
)

// Client fetches filter lists. The per-request timeout is the only bound on a
// hung download; callers do not add their own.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	logger    log.Logger
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	// options to inject for testing purposes
	HTTPClient *http.Client
	Logger     log.Logger
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	return &Client{
		http:      opts.HTTPClient,
		timeout:   opts.Timeout,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
		logger:    log.Component(opts.Logger, "fetch"),
	}
}

// Fetch downloads url and returns its body.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf(errBuildRequest, url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/plain, */*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf(errStatus, ErrUnexpectedStatus, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf(errReadBody, url, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf(errTooLarge, ErrTooLarge, url, humanize.IBytes(uint64(c.maxBytes)))
	}

	c.logger.Debug(map[string]any{
		"url":     url,
		"size":    humanize.Bytes(uint64(len(body))),
		"elapsed": time.Since(start).String(),
	}, "list fetched")
	return body, nil
}
