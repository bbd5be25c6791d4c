package relay

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dowser/pkg/proxypolicy"
)

func testPolicy() proxypolicy.Policy {
	return proxypolicy.Policy{BaseURL: "http://relay.example/relay"}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func mustEncode(t *testing.T, policy proxypolicy.Policy, target string, headers map[string]string) string {
	t.Helper()
	proxied, err := policy.EncodeTarget(target, headers)
	require.NoError(t, err)
	return proxied
}

func TestRewritePlaylist_MediaSegments(t *testing.T) {
	input := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:6\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXTINF:6.000,\n" +
		"seg0.ts\n" +
		"#EXTINF:6.000,\n" +
		"https://cdn.example.net/live/seg1.ts\n" +
		"#EXT-X-ENDLIST\n"

	base := mustParseURL(t, "https://origin.example/live/index.m3u8")
	headers := map[string]string{"Referer": "https://embed.example/"}
	policy := testPolicy()

	out, count, err := RewritePlaylist([]byte(input), base, headers, policy)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	text := string(out)
	assert.Contains(t, text, mustEncode(t, policy, "https://origin.example/live/seg0.ts", headers))
	assert.Contains(t, text, mustEncode(t, policy, "https://cdn.example.net/live/seg1.ts", headers))
	assert.NotContains(t, text, "seg0.ts")
	assert.NotContains(t, text, "cdn.example.net")
}

func TestRewritePlaylist_MediaKeyAndMap(t *testing.T) {
	input := "#EXTM3U\n" +
		"#EXT-X-VERSION:7\n" +
		"#EXT-X-TARGETDURATION:4\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXT-X-MAP:URI=\"init.mp4\"\n" +
		"#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n" +
		"#EXTINF:4.000,\n" +
		"seg0.mp4\n" +
		"#EXT-X-ENDLIST\n"

	base := mustParseURL(t, "https://origin.example/vod/index.m3u8")
	policy := testPolicy()

	out, count, err := RewritePlaylist([]byte(input), base, nil, policy)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	text := string(out)
	assert.Contains(t, text, mustEncode(t, policy, "https://origin.example/vod/init.mp4", nil))
	assert.Contains(t, text, mustEncode(t, policy, "https://origin.example/vod/key.bin", nil))
	assert.Contains(t, text, mustEncode(t, policy, "https://origin.example/vod/seg0.mp4", nil))
}

func TestRewritePlaylist_Multivariant(t *testing.T) {
	input := "#EXTM3U\n" +
		"#EXT-X-VERSION:4\n" +
		"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"aud\",NAME=\"English\",DEFAULT=YES,URI=\"audio/eng.m3u8\"\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1280000,CODECS=\"avc1.64001f,mp4a.40.2\",RESOLUTION=1280x720,AUDIO=\"aud\"\n" +
		"720p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2560000,CODECS=\"avc1.640028,mp4a.40.2\",RESOLUTION=1920x1080,AUDIO=\"aud\"\n" +
		"https://cdn.example.net/hls/1080p.m3u8\n"

	base := mustParseURL(t, "https://origin.example/hls/master.m3u8")
	headers := map[string]string{"Origin": "https://embed.example"}
	policy := testPolicy()

	out, count, err := RewritePlaylist([]byte(input), base, headers, policy)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	text := string(out)
	assert.Contains(t, text, mustEncode(t, policy, "https://origin.example/hls/720p.m3u8", headers))
	assert.Contains(t, text, mustEncode(t, policy, "https://cdn.example.net/hls/1080p.m3u8", headers))
	assert.Contains(t, text, mustEncode(t, policy, "https://origin.example/hls/audio/eng.m3u8", headers))
}

func TestRewritePlaylist_AlreadyProxiedLeftAlone(t *testing.T) {
	policy := testPolicy()
	proxied := mustEncode(t, policy, "https://origin.example/live/seg0.ts", nil)

	input := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:6\n" +
		"#EXTINF:6.000,\n" +
		proxied + "\n" +
		"#EXT-X-ENDLIST\n"

	base := mustParseURL(t, "https://origin.example/live/index.m3u8")
	out, count, err := RewritePlaylist([]byte(input), base, nil, policy)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Contains(t, string(out), proxied)
}

func TestRewritePlaylist_Unparseable(t *testing.T) {
	_, _, err := RewritePlaylist([]byte("this is not a playlist"), mustParseURL(t, "https://origin.example/x.m3u8"), nil, testPolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing playlist")
}

func TestURIRewriter_SkipsEmptyAndProxied(t *testing.T) {
	policy := testPolicy()
	rw := &uriRewriter{base: mustParseURL(t, "https://origin.example/a/list.m3u8"), policy: policy}

	assert.Equal(t, "", rw.rewrite(""))

	proxied := mustEncode(t, policy, "https://origin.example/a/seg.ts", nil)
	assert.Equal(t, proxied, rw.rewrite(proxied))

	assert.Equal(t, 0, rw.count)
	assert.NoError(t, rw.err)
}

func TestAbsolutizeURL(t *testing.T) {
	base := mustParseURL(t, "https://origin.example/live/hd/index.m3u8")

	tests := []struct {
		name string
		uri  string
		want string
	}{
		{"relative", "seg0.ts", "https://origin.example/live/hd/seg0.ts"},
		{"parent relative", "../sd/seg0.ts", "https://origin.example/live/sd/seg0.ts"},
		{"root relative", "/other/seg0.ts", "https://origin.example/other/seg0.ts"},
		{"absolute unchanged", "https://cdn.example.net/seg0.ts", "https://cdn.example.net/seg0.ts"},
		{"unparseable unchanged", "::", "::"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, absolutizeURL(base, tt.uri))
		})
	}
}

func TestAbsolutizeURL_NilBase(t *testing.T) {
	assert.Equal(t, "seg0.ts", absolutizeURL(nil, "seg0.ts"))
}
