// Package proxypolicy decides whether a stream must be routed through the
// relay endpoint and performs the URL rewrite.
//
// The wire format is shared with the relay daemon:
//
//	GET <base>?url=<base64url(target)>&h=<base64url(json(headers))>
//
// The h parameter is omitted when the stream carries no request headers.
// EncodeTarget and DecodeTarget are the two halves of that contract.
package proxypolicy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"dowser/pkg/stream"
)

// Query parameter names of the relay wire format.
const (
	ParamURL     = "url"
	ParamHeaders = "h"
)

// Requires reports whether the stream cannot be played as-is: it either
// lacks the CORS-safe flag or needs request headers no generic player will
// attach.
func Requires(s stream.Stream) bool {
	if !s.FlagSet().Has(stream.FlagCORSAllowed) {
		return true
	}
	return len(s.RequestHeaders()) > 0
}

// Policy rewrites stream URLs onto a relay base URL. The zero value is an
// unconfigured policy; construct one per process from config and pass it
// where needed rather than sharing mutable state.
type Policy struct {
	BaseURL string
}

// Validate checks the relay base URL once at construction time.
func (p Policy) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("proxypolicy: base url is empty")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return fmt.Errorf("proxypolicy: invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("proxypolicy: base url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("proxypolicy: base url has no host")
	}
	return nil
}

// IsProxied reports whether rawURL already points at this relay, so rewrites
// never double-wrap. A URL counts as proxied when it shares the relay's host
// and path and carries a url parameter.
func (p Policy) IsProxied(rawURL string) bool {
	if p.BaseURL == "" {
		return false
	}
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Host != base.Host || u.Path != base.Path {
		return false
	}
	return u.Query().Get(ParamURL) != ""
}

// EncodeTarget builds the relay URL for one target URL plus its headers.
func (p Policy) EncodeTarget(target string, headers map[string]string) (string, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", fmt.Errorf("proxypolicy: invalid base url: %w", err)
	}

	q := url.Values{}
	q.Set(ParamURL, base64.RawURLEncoding.EncodeToString([]byte(target)))
	if len(headers) > 0 {
		hj, err := json.Marshal(headers)
		if err != nil {
			return "", fmt.Errorf("proxypolicy: encode headers: %w", err)
		}
		q.Set(ParamHeaders, base64.RawURLEncoding.EncodeToString(hj))
	}

	base.RawQuery = q.Encode()
	return base.String(), nil
}

// DecodeTarget is the relay-side inverse of EncodeTarget.
func DecodeTarget(q url.Values) (target string, headers map[string]string, err error) {
	enc := q.Get(ParamURL)
	if enc == "" {
		return "", nil, fmt.Errorf("proxypolicy: missing %s parameter", ParamURL)
	}
	raw, err := decodeB64(enc)
	if err != nil {
		return "", nil, fmt.Errorf("proxypolicy: decode %s: %w", ParamURL, err)
	}
	target = string(raw)

	if enc := q.Get(ParamHeaders); enc != "" {
		raw, err := decodeB64(enc)
		if err != nil {
			return "", nil, fmt.Errorf("proxypolicy: decode %s: %w", ParamHeaders, err)
		}
		if err := json.Unmarshal(raw, &headers); err != nil {
			return "", nil, fmt.Errorf("proxypolicy: parse %s: %w", ParamHeaders, err)
		}
	}
	return target, headers, nil
}

// decodeB64 accepts both padded and unpadded base64url.
func decodeB64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// Rewrite returns a copy of the stream with every URL moved onto the relay.
// The copy carries no request headers (the relay injects them upstream) and
// its flags collapse to the CORS-safe flag alone. Streams already pointing
// at the relay are returned unchanged.
func (p Policy) Rewrite(s stream.Stream) (stream.Stream, error) {
	switch v := s.(type) {
	case *stream.HLS:
		if p.IsProxied(v.PlaylistURL) {
			return s, nil
		}
		proxied, err := p.EncodeTarget(v.PlaylistURL, v.Headers)
		if err != nil {
			return nil, err
		}
		c := *v
		c.PlaylistURL = proxied
		c.Headers = nil
		c.Flags = stream.NewFlagSet(stream.FlagCORSAllowed)
		return &c, nil

	case *stream.File:
		qualities := make(map[stream.Quality]stream.FileVariant, len(v.Qualities))
		for q, variant := range v.Qualities {
			if p.IsProxied(variant.URL) {
				qualities[q] = variant
				continue
			}
			proxied, err := p.EncodeTarget(variant.URL, v.Headers)
			if err != nil {
				return nil, err
			}
			qualities[q] = stream.FileVariant{URL: proxied}
		}
		c := *v
		c.Qualities = qualities
		c.Headers = nil
		c.Flags = stream.NewFlagSet(stream.FlagCORSAllowed)
		return &c, nil
	}
	return nil, fmt.Errorf("proxypolicy: unsupported stream type %q", s.Type())
}

// Apply is the return-time decision: rewrite only when a policy is
// configured and the stream actually needs it. A nil policy or an already
// playable stream passes through unchanged.
func Apply(p *Policy, s stream.Stream) (stream.Stream, error) {
	if p == nil || !Requires(s) {
		return s, nil
	}
	return p.Rewrite(s)
}
