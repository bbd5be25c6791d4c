// Package provider defines the plugin contract for sources and embeds and
// the registry the resolver scans.
//
// A source plugin scrapes a site for a media request and returns direct
// streams and/or embed references. An embed plugin turns one embed reference
// into a stream. Plugins are registered once at startup; the registry is
// read-only for the lifetime of the process and safe for concurrent reads.
package provider

import (
	"context"
	"errors"

	"dowser/pkg/caps"
	"dowser/pkg/fetch"
	"dowser/pkg/media"
	"dowser/pkg/stream"
)

// ErrNotFound signals the normal miss: the plugin looked and the site has
// nothing for this request. Any other error from a plugin is treated as a
// plugin failure.
var ErrNotFound = errors.New("provider: not found")

// IsNotFound reports whether err is the plugin-level normal miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// SourceResult is what a source plugin produced for one request. Embeds keep
// the order the plugin emitted them in; the first listed is the first tried.
type SourceResult struct {
	Streams []stream.Stream
	Embeds  []EmbedRef
}

// EmbedRef points at an embed plugin plus the locator it needs. The locator
// is opaque to this library; it is usually a URL but may carry any
// provider-specific payload.
type EmbedRef struct {
	EmbedID string `json:"embed_id"`
	Locator string `json:"locator"`
}

// EmbedResult is what an embed plugin resolved one reference into. As with
// sources, the first stream listed is the authoritative candidate.
type EmbedResult struct {
	Streams []stream.Stream
}

// ScrapeContext carries everything a source plugin may use during a scrape.
// Plugins must not retain it past the call.
type ScrapeContext struct {
	Request media.Request
	// Fetcher is the only HTTP client plugins should use.
	Fetcher fetch.Doer
	// Features is the negotiated capability set for this run. Plugins may
	// use it to skip work that the environment cannot play anyway.
	Features caps.Features
	// Progress reports scrape progress in percent (0-100). May be nil.
	Progress func(percent int)
}

// ReportProgress invokes the progress callback if one is set.
func (c *ScrapeContext) ReportProgress(percent int) {
	if c != nil && c.Progress != nil {
		c.Progress(percent)
	}
}

// EmbedScrapeContext carries everything an embed plugin may use while
// resolving one reference.
type EmbedScrapeContext struct {
	Ref      EmbedRef
	Fetcher  fetch.Doer
	Features caps.Features
	Progress func(percent int)
}

// ReportProgress invokes the progress callback if one is set.
func (c *EmbedScrapeContext) ReportProgress(percent int) {
	if c != nil && c.Progress != nil {
		c.Progress(percent)
	}
}

// Source is a primary scraper for a site.
type Source interface {
	// ID is the stable identifier used in orderings and run events.
	ID() string
	// Name is the human-readable label.
	Name() string
	// Rank orders the default scan: higher rank is tried first.
	Rank() int
	// Enabled reports whether the plugin participates in runs at all.
	Enabled() bool
	// AppliesTo reports whether the plugin can handle the given media kind.
	AppliesTo(kind media.Kind) bool
	// ResolveSource scrapes the site. It returns ErrNotFound for a normal
	// miss; any other error counts as a plugin failure for this run only.
	ResolveSource(ctx context.Context, sc *ScrapeContext) (*SourceResult, error)
}

// Embed resolves embed references discovered by sources.
type Embed interface {
	ID() string
	Rank() int
	Enabled() bool
	// ResolveEmbed turns one reference into a stream. It returns ErrNotFound
	// for a normal miss; any other error counts as a plugin failure.
	ResolveEmbed(ctx context.Context, ec *EmbedScrapeContext) (*EmbedResult, error)
}
