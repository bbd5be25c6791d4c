package stream

import (
	"net/url"
	"path"
	"strings"
)

// CaptionKind identifies a subtitle file format.
type CaptionKind string

const (
	CaptionSRT CaptionKind = "srt"
	CaptionVTT CaptionKind = "vtt"
)

// Caption is a sidecar subtitle track attached to a stream.
type Caption struct {
	ID       string      `json:"id"`
	URL      string      `json:"url"`
	Language string      `json:"language"`
	Kind     CaptionKind `json:"kind"`
}

// DetectCaptionKind infers the caption format from the URL's file extension.
// The second return is false when the extension is missing or unrecognised;
// such captions should be dropped rather than guessed at.
func DetectCaptionKind(rawURL string) (CaptionKind, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".srt":
		return CaptionSRT, true
	case ".vtt", ".webvtt":
		return CaptionVTT, true
	}
	return "", false
}
