// Package stream defines the playable stream model: the closed HLS/File
// variant pair plus the flags, quality tiers, and captions they carry.
//
// Streams are treated as immutable once a provider returns them. Layers that
// need to adjust headers or flags (the proxy rewrite in particular) work on
// shallow copies produced by WithoutHeaders and WithFlags.
package stream

// Type discriminates the two stream shapes.
type Type string

const (
	// TypeHLS is a stream addressed by an HLS playlist URL.
	TypeHLS Type = "hls"
	// TypeFile is a stream addressed by direct file URLs per quality tier.
	TypeFile Type = "file"
)

// Stream is the closed interface over HLS and File. The marker method keeps
// the variant set fixed; consumers that need shape-specific fields
// type-switch on *HLS and *File.
type Stream interface {
	Type() Type
	StreamID() string
	// RequestHeaders returns the headers that must accompany every fetch of
	// the stream's URLs. Callers must not mutate the returned map.
	RequestHeaders() map[string]string
	FlagSet() FlagSet
	// WithoutHeaders returns a copy of the stream with no request headers.
	WithoutHeaders() Stream
	// WithFlags returns a copy of the stream carrying the given flag set.
	WithFlags(FlagSet) Stream

	isStream()
}

// FileVariant is one downloadable rendition of a File stream.
type FileVariant struct {
	URL string `json:"url"`
}

// HLS is a stream served as an HLS playlist.
type HLS struct {
	ID          string            `json:"id"`
	PlaylistURL string            `json:"playlist_url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Flags       FlagSet           `json:"-"`
	Captions    []Caption         `json:"captions,omitempty"`
}

func (s *HLS) Type() Type                        { return TypeHLS }
func (s *HLS) StreamID() string                  { return s.ID }
func (s *HLS) RequestHeaders() map[string]string { return s.Headers }
func (s *HLS) FlagSet() FlagSet                  { return s.Flags }
func (s *HLS) isStream()                         {}

// WithoutHeaders returns a copy of the stream with no request headers.
func (s *HLS) WithoutHeaders() Stream {
	c := *s
	c.Headers = nil
	return &c
}

// WithFlags returns a copy of the stream carrying the given flag set.
func (s *HLS) WithFlags(flags FlagSet) Stream {
	c := *s
	c.Flags = flags
	return &c
}

// File is a stream served as direct file URLs keyed by quality tier.
type File struct {
	ID        string                  `json:"id"`
	Qualities map[Quality]FileVariant `json:"qualities"`
	Headers   map[string]string       `json:"headers,omitempty"`
	Flags     FlagSet                 `json:"-"`
	Captions  []Caption               `json:"captions,omitempty"`
}

func (s *File) Type() Type                        { return TypeFile }
func (s *File) StreamID() string                  { return s.ID }
func (s *File) RequestHeaders() map[string]string { return s.Headers }
func (s *File) FlagSet() FlagSet                  { return s.Flags }
func (s *File) isStream()                         {}

// WithoutHeaders returns a copy of the stream with no request headers.
func (s *File) WithoutHeaders() Stream {
	c := *s
	c.Headers = nil
	return &c
}

// WithFlags returns a copy of the stream carrying the given flag set.
func (s *File) WithFlags(flags FlagSet) Stream {
	c := *s
	c.Flags = flags
	return &c
}
