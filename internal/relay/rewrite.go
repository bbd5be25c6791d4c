package relay

import (
	"fmt"
	"net/url"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"dowser/pkg/proxypolicy"
)

// RewritePlaylist parses an HLS playlist and points every URI in it back at
// the relay, carrying the same upstream headers, so nested fetches stay
// proxied. Relative URIs are resolved against base first. The returned
// count is the number of URIs rewritten.
//
// Media playlists have their segment, key, and init-map URIs rewritten;
// multivariant playlists their variant and rendition URIs.
func RewritePlaylist(data []byte, base *url.URL, headers map[string]string, policy proxypolicy.Policy) ([]byte, int, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing playlist: %w", err)
	}

	rw := &uriRewriter{base: base, headers: headers, policy: policy}

	switch p := pl.(type) {
	case *playlist.Media:
		if p.Map != nil {
			p.Map.URI = rw.rewrite(p.Map.URI)
		}
		for _, seg := range p.Segments {
			seg.URI = rw.rewrite(seg.URI)
			if seg.Key != nil {
				seg.Key.URI = rw.rewrite(seg.Key.URI)
			}
		}
		return rw.marshal(p.Marshal())

	case *playlist.Multivariant:
		for _, v := range p.Variants {
			v.URI = rw.rewrite(v.URI)
		}
		for _, rend := range p.Renditions {
			// Renditions like closed captions carry no URI of their own.
			rend.URI = rw.rewrite(rend.URI)
		}
		return rw.marshal(p.Marshal())

	default:
		return nil, 0, fmt.Errorf("unsupported playlist type %T", pl)
	}
}

// uriRewriter carries the rewrite context across the URI fields of one
// playlist and remembers the first error.
type uriRewriter struct {
	base    *url.URL
	headers map[string]string
	policy  proxypolicy.Policy
	count   int
	err     error
}

// marshal folds the serialization result together with any rewrite error.
func (rw *uriRewriter) marshal(out []byte, err error) ([]byte, int, error) {
	if rw.err != nil {
		return nil, 0, rw.err
	}
	if err != nil {
		return nil, 0, fmt.Errorf("serializing playlist: %w", err)
	}
	return out, rw.count, nil
}

// rewrite maps one playlist URI onto the relay. Empty URIs and URIs already
// pointing at the relay pass through unchanged.
func (rw *uriRewriter) rewrite(uri string) string {
	if uri == "" || rw.err != nil {
		return uri
	}
	abs := absolutizeURL(rw.base, uri)
	if rw.policy.IsProxied(abs) {
		return uri
	}
	proxied, err := rw.policy.EncodeTarget(abs, rw.headers)
	if err != nil {
		rw.err = fmt.Errorf("rewriting %q: %w", uri, err)
		return uri
	}
	rw.count++
	return proxied
}

// absolutizeURL resolves a possibly relative playlist URI against the URL
// the playlist was fetched from.
func absolutizeURL(base *url.URL, uri string) string {
	ref, err := url.Parse(uri)
	if err != nil || ref.IsAbs() || base == nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}
