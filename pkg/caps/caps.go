// Package caps decides which streams a playback environment can actually
// use. The caller declares its environment as a Features value; the
// negotiator drops streams whose flags do not satisfy it.
package caps

import "dowser/pkg/stream"

// Features describes what the playback environment demands of a stream.
// A stream is admissible when it carries every flag in Requires and none of
// the flags in Disallowed.
type Features struct {
	Requires   stream.FlagSet
	Disallowed stream.FlagSet
}

// Admits reports whether a single stream satisfies the feature set.
func (f Features) Admits(s stream.Stream) bool {
	flags := s.FlagSet()
	if !flags.HasAll(f.Requires) {
		return false
	}
	if flags.Intersects(f.Disallowed) {
		return false
	}
	return true
}

// Negotiate filters streams down to the admissible ones, preserving order.
// The input slice is never modified.
func Negotiate(f Features, streams []stream.Stream) []stream.Stream {
	out := make([]stream.Stream, 0, len(streams))
	for _, s := range streams {
		if f.Admits(s) {
			out = append(out, s)
		}
	}
	return out
}

// TargetBrowser is a plain web player. Without a relay in front of it only
// CORS-safe streams are usable; with one, the relay lifts that restriction.
func TargetBrowser(proxied bool) Features {
	if proxied {
		return Features{}
	}
	return Features{Requires: stream.NewFlagSet(stream.FlagCORSAllowed)}
}

// TargetNative is a native player that fetches directly. IP-locked streams
// only work when the player's requests leave from the same address that
// resolved them; pass consistentIP accordingly.
func TargetNative(consistentIP bool) Features {
	if consistentIP {
		return Features{}
	}
	return Features{Disallowed: stream.NewFlagSet(stream.FlagIPLocked)}
}

// TargetAny admits every stream. Useful for diagnostics and tests.
func TargetAny() Features {
	return Features{}
}
