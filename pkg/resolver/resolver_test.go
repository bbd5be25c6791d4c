package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dowser/pkg/caps"
	"dowser/pkg/fetch"
	"dowser/pkg/media"
	"dowser/pkg/provider"
	"dowser/pkg/proxypolicy"
	"dowser/pkg/stream"
)

const testPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXTINF:9.0,
seg0.ts
#EXT-X-ENDLIST
`

// playlistFetcher answers every request with a valid media playlist, except
// URLs listed in dead, which get a 404.
func playlistFetcher(dead ...string) fetch.Doer {
	return fetch.DoerFunc(func(req *http.Request) (*http.Response, error) {
		status := http.StatusOK
		body := testPlaylist
		for _, d := range dead {
			if strings.Contains(req.URL.String(), d) {
				status = http.StatusNotFound
				body = "gone"
				break
			}
		}
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	})
}

// scriptedSource plays one canned behavior per run.
type scriptedSource struct {
	id       string
	rank     int
	disabled bool
	kinds    []media.Kind
	result   *provider.SourceResult
	err      error
	panicMsg string
	block    bool
	progress []int

	mu    sync.Mutex
	calls int
}

func (s *scriptedSource) ID() string    { return s.id }
func (s *scriptedSource) Name() string  { return strings.ToUpper(s.id) }
func (s *scriptedSource) Rank() int     { return s.rank }
func (s *scriptedSource) Enabled() bool { return !s.disabled }
func (s *scriptedSource) AppliesTo(kind media.Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *scriptedSource) ResolveSource(ctx context.Context, sc *provider.ScrapeContext) (*provider.SourceResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	for _, p := range s.progress {
		sc.ReportProgress(p)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// scriptedEmbed resolves every reference the same way.
type scriptedEmbed struct {
	id       string
	result   *provider.EmbedResult
	err      error
	disabled bool
	calls    int
}

func (e *scriptedEmbed) ID() string    { return e.id }
func (e *scriptedEmbed) Rank() int     { return 0 }
func (e *scriptedEmbed) Enabled() bool { return !e.disabled }
func (e *scriptedEmbed) ResolveEmbed(ctx context.Context, ec *provider.EmbedScrapeContext) (*provider.EmbedResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

// eventLog collects run events in emission order.
type eventLog struct {
	events []Event
}

func (l *eventLog) sink() func(Event) {
	return func(ev Event) { l.events = append(l.events, ev) }
}

func (l *eventLog) startOrder() []string {
	var out []string
	for _, ev := range l.events {
		if st, ok := ev.(StartEvent); ok {
			out = append(out, st.ID)
		}
	}
	return out
}

func (l *eventLog) updatesFor(id string) []UpdateEvent {
	var out []UpdateEvent
	for _, ev := range l.events {
		if up, ok := ev.(UpdateEvent); ok && up.ID == id {
			out = append(out, up)
		}
	}
	return out
}

func (l *eventLog) hasSuccess() bool {
	for _, ev := range l.events {
		if up, ok := ev.(UpdateEvent); ok && up.Status == StatusSuccess {
			return true
		}
	}
	return false
}

func corsHLS(id string) *stream.HLS {
	return &stream.HLS{
		ID:          id,
		PlaylistURL: "https://cdn.example/" + id + "/master.m3u8",
		Flags:       stream.NewFlagSet(stream.FlagCORSAllowed),
	}
}

func movieRequest() media.Request {
	return media.Request{Kind: media.KindMovie, Title: "Dune", ReleaseYear: 2021, MetaID: "438631"}
}

func newRegistry(t *testing.T, sources []provider.Source, embeds []provider.Embed) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry()
	for _, s := range sources {
		require.NoError(t, reg.RegisterSource(s))
	}
	for _, e := range embeds {
		require.NoError(t, reg.RegisterEmbed(e))
	}
	return reg
}

func newRunner(t *testing.T, reg *provider.Registry, cfg Config) *Runner {
	t.Helper()
	if cfg.Fetcher == nil {
		cfg.Fetcher = playlistFetcher()
	}
	r, err := New(reg, cfg)
	require.NoError(t, err)
	return r
}

func TestNewValidation(t *testing.T) {
	reg := provider.NewRegistry()

	_, err := New(nil, Config{Fetcher: playlistFetcher()})
	assert.Error(t, err)

	_, err = New(reg, Config{})
	assert.Error(t, err)

	_, err = New(reg, Config{Fetcher: playlistFetcher(), Proxy: &proxypolicy.Policy{BaseURL: "not a url"}})
	assert.Error(t, err)
}

func TestScanOrderRespectsRankAndPreference(t *testing.T) {
	low := &scriptedSource{id: "low", rank: 10, err: provider.ErrNotFound}
	high := &scriptedSource{id: "high", rank: 200, err: provider.ErrNotFound}
	mid := &scriptedSource{id: "mid", rank: 50, err: provider.ErrNotFound}
	reg := newRegistry(t, []provider.Source{low, high, mid}, nil)

	t.Run("default order is rank descending", func(t *testing.T) {
		log := &eventLog{}
		r := newRunner(t, reg, Config{})

		_, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
		require.True(t, IsNoStream(err))
		assert.Equal(t, []string{"high", "mid", "low"}, log.startOrder())
	})

	t.Run("source order lifts preferred ids", func(t *testing.T) {
		log := &eventLog{}
		r := newRunner(t, reg, Config{})

		_, err := r.Resolve(context.Background(), movieRequest(), RunOptions{
			SourceOrder: []string{"low", "mid"},
			OnEvent:     log.sink(),
		})
		require.True(t, IsNoStream(err))
		assert.Equal(t, []string{"low", "mid", "high"}, log.startOrder())
	})

	t.Run("init announces the scan order", func(t *testing.T) {
		log := &eventLog{}
		r := newRunner(t, reg, Config{})

		_, _ = r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
		require.NotEmpty(t, log.events)

		init, ok := log.events[0].(InitEvent)
		require.True(t, ok, "first event must be Init")
		require.Len(t, init.Sources, 3)
		assert.Equal(t, "high", init.Sources[0].ID)
		assert.Equal(t, "HIGH", init.Sources[0].Name)
		assert.False(t, init.RunID().IsZero())
	})
}

func TestFirstValidatedStreamWins(t *testing.T) {
	winner := &scriptedSource{id: "winner", rank: 100, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("first")},
	}}
	never := &scriptedSource{id: "never", rank: 50, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("second")},
	}}
	reg := newRegistry(t, []provider.Source{winner, never}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "winner", out.ProviderID)
	assert.Empty(t, out.EmbedID)
	assert.Equal(t, "first", out.Stream.StreamID())
	assert.False(t, out.RunID.IsZero())

	assert.Equal(t, 0, never.calls, "run must stop at the first win")

	ups := log.updatesFor("winner")
	require.NotEmpty(t, ups)
	assert.Equal(t, StatusSuccess, ups[len(ups)-1].Status)
	assert.Equal(t, 100, ups[len(ups)-1].Percent)
}

func TestFailureIsolation(t *testing.T) {
	angry := &scriptedSource{id: "angry", rank: 300, panicMsg: "nil map write"}
	broken := &scriptedSource{id: "broken", rank: 200, err: errors.New("selector not found")}
	missing := &scriptedSource{id: "missing", rank: 100, err: provider.ErrNotFound}
	ok := &scriptedSource{id: "ok", rank: 50, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("fine")},
	}}
	reg := newRegistry(t, []provider.Source{angry, broken, missing, ok}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "ok", out.ProviderID)

	angryUps := log.updatesFor("angry")
	require.NotEmpty(t, angryUps)
	assert.Equal(t, StatusFailure, angryUps[len(angryUps)-1].Status)
	assert.Contains(t, angryUps[len(angryUps)-1].Reason, "panic")

	brokenUps := log.updatesFor("broken")
	assert.Equal(t, StatusFailure, brokenUps[len(brokenUps)-1].Status)

	missingUps := log.updatesFor("missing")
	assert.Equal(t, StatusNotFound, missingUps[len(missingUps)-1].Status)
}

func TestPluginTimeoutIsPerPluginFailure(t *testing.T) {
	stuck := &scriptedSource{id: "stuck", rank: 100, block: true}
	ok := &scriptedSource{id: "ok", rank: 50, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("fine")},
	}}
	reg := newRegistry(t, []provider.Source{stuck, ok}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{PluginTimeout: 30 * time.Millisecond})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "ok", out.ProviderID)

	ups := log.updatesFor("stuck")
	require.NotEmpty(t, ups)
	assert.Equal(t, StatusFailure, ups[len(ups)-1].Status)
}

func TestCapabilityFilteringSkipsRestrictedStreams(t *testing.T) {
	p1 := &scriptedSource{id: "p1", rank: 10, err: provider.ErrNotFound}
	lockedStream := &stream.HLS{
		ID:          "locked",
		PlaylistURL: "https://cdn.example/locked/master.m3u8",
	}
	p2 := &scriptedSource{id: "p2", rank: 5, result: &provider.SourceResult{
		Streams: []stream.Stream{lockedStream},
	}}
	p3 := &scriptedSource{id: "p3", rank: 1, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("open")},
	}}
	reg := newRegistry(t, []provider.Source{p1, p2, p3}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{
		Features: caps.TargetBrowser(false),
		OnEvent:  log.sink(),
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "p3", out.ProviderID)
	assert.NotEqual(t, "locked", out.Stream.StreamID(), "restricted stream must never win")

	ups := log.updatesFor("p2")
	require.NotEmpty(t, ups)
	assert.Equal(t, StatusNotFound, ups[len(ups)-1].Status)
}

func TestUnplayableStreamRejectedAndScanContinues(t *testing.T) {
	deadSource := &scriptedSource{id: "dead", rank: 100, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("dead")},
	}}
	live := &scriptedSource{id: "live", rank: 50, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("live")},
	}}
	reg := newRegistry(t, []provider.Source{deadSource, live}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{Fetcher: playlistFetcher("/dead/")})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "live", out.ProviderID)

	ups := log.updatesFor("dead")
	require.NotEmpty(t, ups)
	assert.Equal(t, StatusNotFound, ups[len(ups)-1].Status)
	assert.Contains(t, ups[len(ups)-1].Reason, "404")
}

func TestDeferredEmbedsRunAfterFullScan(t *testing.T) {
	embedded := &scriptedSource{id: "embedded", rank: 100, result: &provider.SourceResult{
		Embeds: []provider.EmbedRef{
			{EmbedID: "upcloud", Locator: "https://embed.example/one"},
			{EmbedID: "vidcloud", Locator: "https://embed.example/two"},
		},
	}}
	direct := &scriptedSource{id: "direct", rank: 50, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("direct")},
	}}
	upcloud := &scriptedEmbed{id: "upcloud", result: &provider.EmbedResult{
		Streams: []stream.Stream{corsHLS("from-upcloud")},
	}}
	vidcloud := &scriptedEmbed{id: "vidcloud"}
	reg := newRegistry(t, []provider.Source{embedded, direct}, []provider.Embed{upcloud, vidcloud})

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.NoError(t, err)
	require.NotNil(t, out)

	// The lower-ranked direct source wins in phase 1; embeds stay untouched.
	assert.Equal(t, "direct", out.ProviderID)
	assert.Empty(t, out.EmbedID)
	assert.Equal(t, 0, upcloud.calls, "phase 2 must not run after a phase 1 win")
	assert.Equal(t, 0, vidcloud.calls)

	// The embeds were still announced during the scan.
	var discovered *DiscoverEmbedsEvent
	for _, ev := range log.events {
		if de, ok := ev.(DiscoverEmbedsEvent); ok {
			discovered = &de
			break
		}
	}
	require.NotNil(t, discovered)
	assert.Equal(t, "embedded", discovered.SourceID)
	require.Len(t, discovered.Embeds, 2)
	assert.Equal(t, "embedded-0", discovered.Embeds[0].EntryID)
	assert.Equal(t, "upcloud", discovered.Embeds[0].EmbedID)
}

func TestEmbedWinStopsQueue(t *testing.T) {
	p4 := &scriptedSource{id: "p4", rank: 100, result: &provider.SourceResult{
		Embeds: []provider.EmbedRef{
			{EmbedID: "e1", Locator: "https://embed.example/a"},
			{EmbedID: "e2", Locator: "https://embed.example/b"},
		},
	}}
	e1 := &scriptedEmbed{id: "e1", result: &provider.EmbedResult{
		Streams: []stream.Stream{corsHLS("via-e1")},
	}}
	e2 := &scriptedEmbed{id: "e2", result: &provider.EmbedResult{
		Streams: []stream.Stream{corsHLS("via-e2")},
	}}
	reg := newRegistry(t, []provider.Source{p4}, []provider.Embed{e1, e2})

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "p4", out.ProviderID)
	assert.Equal(t, "e1", out.EmbedID)
	assert.Equal(t, "via-e1", out.Stream.StreamID())
	assert.Equal(t, 1, e1.calls)
	assert.Equal(t, 0, e2.calls, "queue must stop at the first embed win")

	ups := log.updatesFor("p4-0")
	require.NotEmpty(t, ups)
	assert.Equal(t, StatusSuccess, ups[len(ups)-1].Status)
}

func TestEmbedQueueKeepsSourceThenReferenceOrder(t *testing.T) {
	first := &scriptedSource{id: "first", rank: 100, result: &provider.SourceResult{
		Embeds: []provider.EmbedRef{
			{EmbedID: "shared", Locator: "a"},
			{EmbedID: "shared", Locator: "b"},
		},
	}}
	second := &scriptedSource{id: "second", rank: 50, result: &provider.SourceResult{
		Embeds: []provider.EmbedRef{{EmbedID: "shared", Locator: "c"}},
	}}
	shared := &scriptedEmbed{id: "shared", err: provider.ErrNotFound}
	reg := newRegistry(t, []provider.Source{first, second}, []provider.Embed{shared})

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	_, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.True(t, IsNoStream(err))

	assert.Equal(t, 3, shared.calls, "every queued reference gets its attempt")
	assert.Equal(t,
		[]string{"first", "second", "first-0", "first-1", "second-0"},
		log.startOrder())
}

func TestEmbedOrderPrefersNamedPlugins(t *testing.T) {
	src := &scriptedSource{id: "src", rank: 100, result: &provider.SourceResult{
		Embeds: []provider.EmbedRef{
			{EmbedID: "slow", Locator: "a"},
			{EmbedID: "fast", Locator: "b"},
		},
	}}
	slow := &scriptedEmbed{id: "slow", err: provider.ErrNotFound}
	fast := &scriptedEmbed{id: "fast", result: &provider.EmbedResult{
		Streams: []stream.Stream{corsHLS("quick")},
	}}
	reg := newRegistry(t, []provider.Source{src}, []provider.Embed{slow, fast})

	r := newRunner(t, reg, Config{})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{EmbedOrder: []string{"fast"}})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "fast", out.EmbedID)
	assert.Equal(t, 0, slow.calls, "preferred embed won before the rest ran")
}

func TestUnknownEmbedReferencesAreSkipped(t *testing.T) {
	src := &scriptedSource{id: "src", rank: 100, result: &provider.SourceResult{
		Embeds: []provider.EmbedRef{
			{EmbedID: "ghost", Locator: "a"},
			{EmbedID: "real", Locator: "b"},
		},
	}}
	real := &scriptedEmbed{id: "real", result: &provider.EmbedResult{
		Streams: []stream.Stream{corsHLS("found")},
	}}
	reg := newRegistry(t, []provider.Source{src}, []provider.Embed{real})

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "real", out.EmbedID)

	assert.Empty(t, log.updatesFor("src-0"), "unmatched reference must not produce events")
}

func TestProxyRewriteHappensAtReturnTime(t *testing.T) {
	restricted := &stream.HLS{
		ID:          "restricted",
		PlaylistURL: "https://cdn.example/restricted/master.m3u8",
		Headers:     map[string]string{"Referer": "https://site.example/"},
	}
	src := &scriptedSource{id: "src", rank: 100, result: &provider.SourceResult{
		Streams: []stream.Stream{restricted},
	}}
	reg := newRegistry(t, []provider.Source{src}, nil)

	var probed []string
	fetcher := fetch.DoerFunc(func(req *http.Request) (*http.Response, error) {
		probed = append(probed, req.URL.Host)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(testPlaylist)),
		}, nil
	})

	policy := &proxypolicy.Policy{BaseURL: "https://relay.example/relay"}
	r := newRunner(t, reg, Config{Fetcher: fetcher, Proxy: policy})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, out)

	hls, ok := out.Stream.(*stream.HLS)
	require.True(t, ok)
	assert.True(t, policy.IsProxied(hls.PlaylistURL))
	assert.Nil(t, hls.Headers)
	assert.True(t, hls.Flags.Has(stream.FlagCORSAllowed))

	// Validation probed the origin, not the relay.
	require.NotEmpty(t, probed)
	assert.Equal(t, "cdn.example", probed[0])
}

func TestCancellationMidRun(t *testing.T) {
	done := &scriptedSource{id: "done", rank: 100, err: provider.ErrNotFound}
	hang := &scriptedSource{id: "hang", rank: 50, block: true}
	after := &scriptedSource{id: "after", rank: 10, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("late")},
	}}
	reg := newRegistry(t, []provider.Source{done, hang, after}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	out, err := r.Resolve(ctx, movieRequest(), RunOptions{OnEvent: log.sink()})

	assert.Nil(t, out)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 0, after.calls, "no provider may start after cancellation")
	assert.False(t, log.hasSuccess(), "no success event may follow cancellation")
}

func TestExhaustedRunReportsNoStream(t *testing.T) {
	a := &scriptedSource{id: "a", rank: 100, err: provider.ErrNotFound}
	b := &scriptedSource{id: "b", rank: 50, err: errors.New("boom")}
	reg := newRegistry(t, []provider.Source{a, b}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	out, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})

	assert.Nil(t, out)
	require.Error(t, err)
	assert.True(t, IsNoStream(err))
	assert.False(t, IsCancelled(err))

	for _, id := range []string{"a", "b"} {
		ups := log.updatesFor(id)
		require.NotEmpty(t, ups, "provider %s needs a terminal update", id)
		assert.True(t, ups[len(ups)-1].Status.Terminal())
	}
}

func TestKindFilteringSkipsInapplicableSources(t *testing.T) {
	moviesOnly := &scriptedSource{id: "movies", rank: 100, kinds: []media.Kind{media.KindMovie}, err: provider.ErrNotFound}
	showsOnly := &scriptedSource{id: "shows", rank: 50, kinds: []media.Kind{media.KindShow}, err: provider.ErrNotFound}
	off := &scriptedSource{id: "off", rank: 10, disabled: true}
	reg := newRegistry(t, []provider.Source{moviesOnly, showsOnly, off}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	req := media.Request{
		Kind:    media.KindShow,
		Title:   "The Expanse",
		MetaID:  "63639",
		Season:  media.Ordinal{Number: 2},
		Episode: media.Ordinal{Number: 5},
	}
	_, err := r.Resolve(context.Background(), req, RunOptions{OnEvent: log.sink()})
	require.True(t, IsNoStream(err))

	assert.Equal(t, []string{"shows"}, log.startOrder())
	assert.Equal(t, 0, moviesOnly.calls)
	assert.Equal(t, 0, off.calls)
}

func TestProgressUpdatesAreMonotonic(t *testing.T) {
	jumpy := &scriptedSource{id: "jumpy", rank: 100, progress: []int{40, 10, 70, 200}, err: provider.ErrNotFound}
	reg := newRegistry(t, []provider.Source{jumpy}, nil)

	log := &eventLog{}
	r := newRunner(t, reg, Config{})

	_, err := r.Resolve(context.Background(), movieRequest(), RunOptions{OnEvent: log.sink()})
	require.True(t, IsNoStream(err))

	ups := log.updatesFor("jumpy")
	require.NotEmpty(t, ups)

	last := -1
	for _, up := range ups {
		assert.GreaterOrEqual(t, up.Percent, last, "percentages must never decrease")
		last = up.Percent
	}
	assert.Equal(t, StatusNotFound, ups[len(ups)-1].Status)
	assert.Equal(t, 100, ups[len(ups)-1].Percent)

	// Exactly one terminal update, and it is the last one.
	terminal := 0
	for _, up := range ups {
		if up.Status.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestInvalidRequestRejectedBeforeScanning(t *testing.T) {
	src := &scriptedSource{id: "src", rank: 100}
	reg := newRegistry(t, []provider.Source{src}, nil)
	r := newRunner(t, reg, Config{})

	_, err := r.Resolve(context.Background(), media.Request{Kind: "vhs"}, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, 0, src.calls)
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.RegisterSource(&scriptedSource{id: "src", rank: 100, result: &provider.SourceResult{
		Streams: []stream.Stream{corsHLS("shared")},
	}}))
	r := newRunner(t, reg, Config{})

	const runs = 8
	outputs := make([]*Output, runs)
	errs := make([]error, runs)

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs[i], errs[i] = r.Resolve(context.Background(), movieRequest(), RunOptions{})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, outputs[i])
		assert.False(t, seen[outputs[i].RunID.String()], "run ids must be unique")
		seen[outputs[i].RunID.String()] = true
	}
}
