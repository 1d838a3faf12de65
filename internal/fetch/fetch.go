// Package fetch retrieves artifact source content from platform URLs with
// bounded timeouts and per-host rate limits, and scans it for credential
// material.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/ratelimit"
)

// maxBodyBytes caps how much of a source file is read for scanning.
const maxBodyBytes = 1 << 20

// Fetcher retrieves remote content with a per-host fixed-window limit.
type Fetcher struct {
	client   *http.Client
	limiters *ratelimit.Keyed
	window   time.Duration
}

// NewFetcher creates a fetcher with the configured timeout and rate.
func NewFetcher(cfg *config.Config) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.FetchTimeout()},
		limiters: ratelimit.NewKeyed(cfg.Fetch.RatePerMinute, cfg.FetchWindow()),
		window:   cfg.FetchWindow(),
	}
}

// Get fetches a URL, pacing against the per-host rate limit: an exhausted
// host waits for the next window, bounded by the context deadline or one
// window length. A timed-out slot or a non-200 response is an error for
// this one fetch; callers degrade per unit, never the whole run.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	deadline := time.Now().Add(f.window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if !f.limiters.Wait(u.Host, deadline) {
		return nil, fmt.Errorf("rate limit reached for host %s", u.Host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

// Release drops the rate-limit state for the URL's host. Batch callers
// release their hosts after a run so the per-host registry does not grow
// across runs.
func (f *Fetcher) Release(rawURL string) {
	if u, err := url.Parse(rawURL); err == nil {
		f.limiters.Forget(u.Host)
	}
}
