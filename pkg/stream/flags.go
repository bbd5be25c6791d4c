package stream

import "sort"

// Flag marks a delivery property of a stream that playback environments
// care about when deciding whether the stream is usable as-is.
type Flag string

const (
	// FlagCORSAllowed means the stream URLs can be fetched from a browser
	// without a relay in front of them.
	FlagCORSAllowed Flag = "cors-allowed"
	// FlagIPLocked means the URLs are bound to the IP address that resolved
	// them and will not play from anywhere else.
	FlagIPLocked Flag = "ip-locked"
)

// FlagSet is an unordered set of stream flags.
type FlagSet map[Flag]struct{}

// NewFlagSet builds a set from the given flags.
func NewFlagSet(flags ...Flag) FlagSet {
	fs := make(FlagSet, len(flags))
	for _, f := range flags {
		fs[f] = struct{}{}
	}
	return fs
}

// Has reports whether f is in the set.
func (fs FlagSet) Has(f Flag) bool {
	_, ok := fs[f]
	return ok
}

// HasAll reports whether every flag in other is present in fs.
// An empty or nil other is trivially satisfied.
func (fs FlagSet) HasAll(other FlagSet) bool {
	for f := range other {
		if !fs.Has(f) {
			return false
		}
	}
	return true
}

// Intersects reports whether the two sets share at least one flag.
func (fs FlagSet) Intersects(other FlagSet) bool {
	for f := range other {
		if fs.Has(f) {
			return true
		}
	}
	return false
}

// Add returns fs with f included, allocating if fs is nil.
func (fs FlagSet) Add(f Flag) FlagSet {
	if fs == nil {
		fs = make(FlagSet, 1)
	}
	fs[f] = struct{}{}
	return fs
}

// Union returns a new set containing the flags of both operands.
func (fs FlagSet) Union(other FlagSet) FlagSet {
	out := make(FlagSet, len(fs)+len(other))
	for f := range fs {
		out[f] = struct{}{}
	}
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Clone returns an independent copy of the set.
func (fs FlagSet) Clone() FlagSet {
	if fs == nil {
		return nil
	}
	out := make(FlagSet, len(fs))
	for f := range fs {
		out[f] = struct{}{}
	}
	return out
}

// Slice returns the flags in sorted order for stable logging and JSON output.
func (fs FlagSet) Slice() []Flag {
	out := make([]Flag, 0, len(fs))
	for f := range fs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
