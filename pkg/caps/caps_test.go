package caps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dowser/pkg/stream"
)

func hlsWithFlags(id string, flags ...stream.Flag) stream.Stream {
	return &stream.HLS{
		ID:          id,
		PlaylistURL: "https://cdn.example/" + id + ".m3u8",
		Flags:       stream.NewFlagSet(flags...),
	}
}

func TestAdmits(t *testing.T) {
	tests := []struct {
		name     string
		features Features
		stream   stream.Stream
		want     bool
	}{
		{
			name:     "no requirements admits bare stream",
			features: TargetAny(),
			stream:   hlsWithFlags("a"),
			want:     true,
		},
		{
			name:     "required flag present",
			features: TargetBrowser(false),
			stream:   hlsWithFlags("a", stream.FlagCORSAllowed),
			want:     true,
		},
		{
			name:     "required flag missing",
			features: TargetBrowser(false),
			stream:   hlsWithFlags("a"),
			want:     false,
		},
		{
			name:     "proxied browser lifts the requirement",
			features: TargetBrowser(true),
			stream:   hlsWithFlags("a"),
			want:     true,
		},
		{
			name:     "disallowed flag present",
			features: TargetNative(false),
			stream:   hlsWithFlags("a", stream.FlagIPLocked),
			want:     false,
		},
		{
			name:     "consistent ip tolerates the lock",
			features: TargetNative(true),
			stream:   hlsWithFlags("a", stream.FlagIPLocked),
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.features.Admits(tt.stream))
		})
	}
}

func TestNegotiatePreservesOrder(t *testing.T) {
	in := []stream.Stream{
		hlsWithFlags("first", stream.FlagCORSAllowed),
		hlsWithFlags("blocked"),
		hlsWithFlags("second", stream.FlagCORSAllowed, stream.FlagIPLocked),
	}

	out := Negotiate(TargetBrowser(false), in)

	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].StreamID())
	assert.Equal(t, "second", out[1].StreamID())
	assert.Len(t, in, 3, "input must not be modified")
}

func TestNegotiateEmptyInput(t *testing.T) {
	out := Negotiate(TargetBrowser(false), nil)
	assert.Empty(t, out)
}
