// Package media defines the request model shared by providers and the resolver.
package media

import "fmt"

// Kind identifies the class of media being requested.
type Kind string

const (
	// KindMovie is a standalone feature request.
	KindMovie Kind = "movie"
	// KindShow is an episodic request; Season and Episode must be set.
	KindShow Kind = "show"
)

// IsValid reports whether k is a known media kind.
func (k Kind) IsValid() bool {
	return k == KindMovie || k == KindShow
}

// String returns the kind as a plain string.
func (k Kind) String() string {
	return string(k)
}

// Ordinal addresses one season or episode of a show. Number is 1-based;
// MetaID is the external metadata identifier for that entry, if known.
type Ordinal struct {
	Number int    `json:"number"`
	MetaID string `json:"meta_id,omitempty"`
}

// Request describes the media a caller wants resolved into a playable stream.
// MetaID is an opaque external metadata identifier (e.g. a TMDB id); this
// library never interprets it, providers do.
type Request struct {
	Kind        Kind    `json:"kind"`
	Title       string  `json:"title"`
	ReleaseYear int     `json:"release_year,omitempty"`
	MetaID      string  `json:"meta_id"`
	Season      Ordinal `json:"season,omitempty"`
	Episode     Ordinal `json:"episode,omitempty"`
}

// Validate checks that the request is complete enough to hand to providers.
func (r Request) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("media: unknown kind %q", r.Kind)
	}
	if r.Title == "" {
		return fmt.Errorf("media: title is required")
	}
	if r.MetaID == "" {
		return fmt.Errorf("media: metaId is required")
	}
	if r.Kind == KindShow {
		if r.Season.Number < 1 {
			return fmt.Errorf("media: show request needs a season number >= 1, got %d", r.Season.Number)
		}
		if r.Episode.Number < 1 {
			return fmt.Errorf("media: show request needs an episode number >= 1, got %d", r.Episode.Number)
		}
	}
	return nil
}
