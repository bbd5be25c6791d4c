// Package probe validates candidate streams before they are handed to a
// player: a cheap structural check on the URLs, then a bounded network probe
// that fetches just enough to tell whether the stream is really there.
//
// Probe outcomes are a trichotomy, not a boolean. A definitive dead link is
// Unplayable; a transport-level mishap (DNS, TLS, timeout) is Inconclusive,
// because it condemns the prober's network position, not the stream.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"dowser/pkg/fetch"
	"dowser/pkg/stream"
)

// Verdict is the outcome of a playability probe.
type Verdict string

const (
	// VerdictPlayable means the probe reached the stream and it looks real.
	VerdictPlayable Verdict = "playable"
	// VerdictUnplayable means the stream is definitively dead or malformed.
	VerdictUnplayable Verdict = "unplayable"
	// VerdictInconclusive means the probe itself failed; the stream may
	// still be fine from elsewhere.
	VerdictInconclusive Verdict = "inconclusive"
)

// Report carries the verdict plus the reason it was reached.
type Report struct {
	Verdict Verdict
	Reason  string
	Err     error
}

const (
	// DefaultTimeout bounds one probe round trip.
	DefaultTimeout = 6 * time.Second
	// DefaultMaxBody bounds how much playlist text a probe will read.
	DefaultMaxBody = 256 * 1024
)

// Checker probes streams through an injected fetcher.
type Checker struct {
	fetcher fetch.Doer
	timeout time.Duration
	maxBody int64
}

// NewChecker creates a checker with the default probe bounds.
func NewChecker(fetcher fetch.Doer) *Checker {
	return &Checker{
		fetcher: fetcher,
		timeout: DefaultTimeout,
		maxBody: DefaultMaxBody,
	}
}

// WithTimeout overrides the per-probe timeout.
func (c *Checker) WithTimeout(d time.Duration) *Checker {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// WithMaxBody overrides the playlist read limit.
func (c *Checker) WithMaxBody(n int64) *Checker {
	if n > 0 {
		c.maxBody = n
	}
	return c
}

// Structural checks that the stream's URLs are well-formed absolute http(s)
// URLs without touching the network. An error here means the provider
// emitted garbage.
func (c *Checker) Structural(s stream.Stream) error {
	switch v := s.(type) {
	case *stream.HLS:
		return checkURL(v.PlaylistURL)
	case *stream.File:
		if len(v.Qualities) == 0 {
			return fmt.Errorf("probe: file stream has no qualities")
		}
		for quality, variant := range v.Qualities {
			if err := checkURL(variant.URL); err != nil {
				return fmt.Errorf("probe: quality %s: %w", quality, err)
			}
		}
		return nil
	}
	return fmt.Errorf("probe: unsupported stream type %q", s.Type())
}

func checkURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("probe: empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("probe: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("probe: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("probe: url has no host")
	}
	return nil
}

// Playability probes the stream over the network. HLS streams get their
// playlist fetched and parsed; file streams get a two-byte ranged read of
// the best-quality variant.
func (c *Checker) Playability(ctx context.Context, s stream.Stream) Report {
	switch v := s.(type) {
	case *stream.HLS:
		return c.probePlaylist(ctx, v.PlaylistURL, v.Headers)
	case *stream.File:
		_, variant, ok := stream.BestVariant(v.Qualities)
		if !ok {
			return Report{Verdict: VerdictUnplayable, Reason: "no file variants"}
		}
		return c.probeFile(ctx, variant.URL, v.Headers)
	}
	return Report{Verdict: VerdictUnplayable, Reason: fmt.Sprintf("unsupported stream type %q", s.Type())}
}

// probePlaylist fetches a playlist with timeout and size limit and parses it.
func (c *Checker) probePlaylist(ctx context.Context, playlistURL string, headers map[string]string) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return Report{Verdict: VerdictUnplayable, Reason: "invalid playlist url", Err: err}
	}
	applyHeaders(req, headers)

	resp, err := c.fetcher.Do(req)
	if err != nil {
		return Report{Verdict: VerdictInconclusive, Reason: "playlist fetch failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Report{Verdict: VerdictUnplayable, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return Report{Verdict: VerdictInconclusive, Reason: "playlist read failed", Err: err}
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return Report{Verdict: VerdictUnplayable, Reason: "not a valid HLS playlist", Err: err}
	}

	switch p := pl.(type) {
	case *playlist.Media:
		if len(p.Segments) == 0 {
			return Report{Verdict: VerdictUnplayable, Reason: "media playlist has no segments"}
		}
	case *playlist.Multivariant:
		if len(p.Variants) == 0 {
			return Report{Verdict: VerdictUnplayable, Reason: "multivariant playlist has no variants"}
		}
	default:
		return Report{Verdict: VerdictUnplayable, Reason: "unknown playlist type"}
	}
	return Report{Verdict: VerdictPlayable}
}

// probeFile issues a two-byte ranged GET. Servers that ignore Range and
// answer 200 still count as reachable.
func (c *Checker) probeFile(ctx context.Context, fileURL string, headers map[string]string) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return Report{Verdict: VerdictUnplayable, Reason: "invalid file url", Err: err}
	}
	applyHeaders(req, headers)
	req.Header.Set("Range", "bytes=0-1")

	resp, err := c.fetcher.Do(req)
	if err != nil {
		return Report{Verdict: VerdictInconclusive, Reason: "file fetch failed", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		return Report{Verdict: VerdictPlayable}
	case resp.StatusCode >= 400:
		return Report{Verdict: VerdictUnplayable, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Report{Verdict: VerdictInconclusive, Reason: fmt.Sprintf("unexpected HTTP %d", resp.StatusCode)}
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
