// Package resolver drives the two-phase resolution run: a fast sequential
// scan of every applicable source plugin, then a deferred pass over the
// embed references those sources discovered. The first stream that survives
// capability negotiation and validation wins and ends the run.
//
// A Runner is immutable after New and safe for concurrent Resolve calls;
// each call gets its own isolated run state. Within one run everything is
// deliberately sequential so that plugin priority stays meaningful.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"dowser/pkg/caps"
	"dowser/pkg/fetch"
	"dowser/pkg/media"
	"dowser/pkg/probe"
	"dowser/pkg/provider"
	"dowser/pkg/proxypolicy"
	"dowser/pkg/stream"
)

// DefaultPluginTimeout bounds one plugin call unless configured otherwise.
const DefaultPluginTimeout = 30 * time.Second

// Config carries the process-wide collaborators of a Runner.
type Config struct {
	// Fetcher is handed to every plugin and to the stream prober. Required.
	Fetcher fetch.Doer
	// Checker validates candidate streams. Built from Fetcher when nil.
	Checker *probe.Checker
	// Proxy, when set, rewrites restricted winning streams onto the relay.
	Proxy *proxypolicy.Policy
	// PluginTimeout bounds each plugin call. Zero means DefaultPluginTimeout;
	// negative disables the per-plugin bound.
	PluginTimeout time.Duration
	// Logger receives run diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// RunOptions carries the per-call choices of one resolution.
type RunOptions struct {
	// SourceOrder lifts the named sources to the front of the scan.
	SourceOrder []string
	// EmbedOrder prefers the named embed plugins within each source's
	// discovered references.
	EmbedOrder []string
	// Features declares what the playback environment can handle.
	Features caps.Features
	// OnEvent observes run progress. Called synchronously and in order;
	// keep it fast. May be nil.
	OnEvent func(Event)
}

// Output is the terminal result of a successful run: the single winning,
// validated, possibly relay-rewritten stream.
type Output struct {
	RunID      ULID          `json:"run_id"`
	ProviderID string        `json:"provider_id"`
	EmbedID    string        `json:"embed_id,omitempty"`
	Stream     stream.Stream `json:"stream"`
}

// Runner resolves media requests against a plugin registry.
type Runner struct {
	registry *provider.Registry
	fetcher  fetch.Doer
	checker  *probe.Checker
	proxy    *proxypolicy.Policy
	timeout  time.Duration
	logger   *slog.Logger
}

// New validates the configuration and builds a Runner.
func New(registry *provider.Registry, cfg Config) (*Runner, error) {
	if registry == nil {
		return nil, fmt.Errorf("resolver: registry is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("resolver: fetcher is required")
	}
	if cfg.Proxy != nil {
		if err := cfg.Proxy.Validate(); err != nil {
			return nil, err
		}
	}

	checker := cfg.Checker
	if checker == nil {
		checker = probe.NewChecker(cfg.Fetcher)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.PluginTimeout
	if timeout == 0 {
		timeout = DefaultPluginTimeout
	}

	return &Runner{
		registry: registry,
		fetcher:  cfg.Fetcher,
		checker:  checker,
		proxy:    cfg.Proxy,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Resolve runs the two-phase algorithm for one request. It returns the
// winning stream, ErrNoStream when every provider came up empty, or
// ErrRunCancelled when ctx ended the run.
func (r *Runner) Resolve(ctx context.Context, req media.Request, opts RunOptions) (*Output, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rn := &run{
		runner:  r,
		id:      NewULID(),
		req:     req,
		opts:    opts,
		percent: make(map[string]int),
		done:    make(map[string]bool),
	}
	rn.logger = r.logger.With(
		slog.String("run_id", rn.id.String()),
		slog.String("kind", req.Kind.String()),
		slog.String("title", req.Title),
	)

	scan := provider.Reorder(opts.SourceOrder, provider.FilterApplicable(req.Kind, r.registry.Sources()))

	briefs := make([]SourceBrief, len(scan))
	for i, src := range scan {
		briefs[i] = SourceBrief{ID: src.ID(), Name: src.Name()}
	}
	rn.emit(InitEvent{Run: rn.id, Sources: briefs})

	rn.logger.InfoContext(ctx, "starting resolution run",
		slog.Int("source_count", len(scan)),
	)
	start := time.Now()

	out, err := rn.execute(ctx, scan)
	if err != nil {
		rn.logger.InfoContext(ctx, "resolution run ended early",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	if out == nil {
		rn.logger.InfoContext(ctx, "resolution run exhausted",
			slog.Duration("duration", time.Since(start)),
		)
		return nil, ErrNoStream
	}

	rn.logger.InfoContext(ctx, "resolution run succeeded",
		slog.String("provider_id", out.ProviderID),
		slog.String("embed_id", out.EmbedID),
		slog.String("stream_type", string(out.Stream.Type())),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// queuedEmbed is one deferred reference: where it came from, which plugin
// handles it, and the entry id its events are keyed by.
type queuedEmbed struct {
	entryID  string
	sourceID string
	ref      provider.EmbedRef
}

// run is the per-resolution state. Never shared across goroutines.
type run struct {
	runner *Runner
	id     ULID
	req    media.Request
	opts   RunOptions
	logger *slog.Logger

	queue   []queuedEmbed
	percent map[string]int
	done    map[string]bool
}

// execute walks both phases and returns the winning output, nil when
// exhausted, or a cancellation error.
func (rn *run) execute(ctx context.Context, scan []provider.Source) (*Output, error) {
	for _, src := range scan {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		out, err := rn.scanSource(ctx, src)
		if err != nil || out != nil {
			return out, err
		}
	}

	if len(rn.queue) > 0 {
		rn.logger.DebugContext(ctx, "entering deferred embed phase",
			slog.Int("queued", len(rn.queue)),
		)
	}
	for _, entry := range rn.queue {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		out, err := rn.resolveEmbed(ctx, entry)
		if err != nil || out != nil {
			return out, err
		}
	}
	return nil, nil
}

// scanSource is phase-1 handling of one source plugin. A nil, nil return
// means "keep scanning".
func (rn *run) scanSource(ctx context.Context, src provider.Source) (*Output, error) {
	id := src.ID()
	rn.emit(StartEvent{Run: rn.id, ID: id})
	rn.update(id, 0, StatusPending, "")

	result, err := rn.callSource(ctx, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		if provider.IsNotFound(err) {
			rn.update(id, 100, StatusNotFound, "nothing found")
		} else {
			rn.logger.WarnContext(ctx, "source plugin failed",
				slog.String("provider_id", id),
				slog.String("error", err.Error()),
			)
			rn.update(id, 100, StatusFailure, err.Error())
		}
		return nil, nil
	}
	if result == nil {
		rn.update(id, 100, StatusFailure, "plugin returned no result")
		return nil, nil
	}

	if out, err := rn.tryStreams(ctx, id, id, "", result.Streams); err != nil || out != nil {
		return out, err
	}

	if len(result.Embeds) > 0 {
		rn.enqueueEmbeds(src.ID(), result.Embeds)
	}

	// No-op when a failed validation already settled this source.
	rn.update(id, 100, StatusNotFound, "no usable direct stream")
	return nil, nil
}

// resolveEmbed is phase-2 handling of one queued reference. A nil, nil
// return means "keep walking the queue".
func (rn *run) resolveEmbed(ctx context.Context, entry queuedEmbed) (*Output, error) {
	embed, ok := rn.runner.registry.EmbedByID(entry.ref.EmbedID)
	if !ok || !embed.Enabled() {
		rn.logger.DebugContext(ctx, "skipping unmatched embed reference",
			slog.String("entry_id", entry.entryID),
			slog.String("embed_id", entry.ref.EmbedID),
		)
		return nil, nil
	}

	rn.emit(StartEvent{Run: rn.id, ID: entry.entryID})
	rn.update(entry.entryID, 0, StatusPending, "")

	result, err := rn.callEmbed(ctx, embed, entry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		if provider.IsNotFound(err) {
			rn.update(entry.entryID, 100, StatusNotFound, "nothing found")
		} else {
			rn.logger.WarnContext(ctx, "embed plugin failed",
				slog.String("entry_id", entry.entryID),
				slog.String("embed_id", embed.ID()),
				slog.String("error", err.Error()),
			)
			rn.update(entry.entryID, 100, StatusFailure, err.Error())
		}
		return nil, nil
	}
	if result == nil {
		rn.update(entry.entryID, 100, StatusFailure, "plugin returned no result")
		return nil, nil
	}

	if out, err := rn.tryStreams(ctx, entry.entryID, entry.sourceID, embed.ID(), result.Streams); err != nil || out != nil {
		return out, err
	}

	rn.update(entry.entryID, 100, StatusNotFound, "no usable stream")
	return nil, nil
}

// tryStreams applies the shared negotiate -> validate-first -> proxy chain.
// A nil, nil return means the attempt produced nothing usable and the walk
// continues; terminal updates for a rejection are emitted here.
func (rn *run) tryStreams(ctx context.Context, eventID, providerID, embedID string, streams []stream.Stream) (*Output, error) {
	if len(streams) == 0 {
		return nil, nil
	}

	admitted := caps.Negotiate(rn.opts.Features, streams)
	if len(admitted) == 0 {
		rn.update(eventID, 100, StatusNotFound, "no stream allowed by playback environment")
		return nil, nil
	}

	// Only the first admitted candidate is authoritative.
	candidate := admitted[0]
	status, reason, ok := rn.validate(ctx, eventID, candidate)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	if !ok {
		rn.update(eventID, 100, status, reason)
		return nil, nil
	}

	final, err := proxypolicy.Apply(rn.runner.proxy, candidate)
	if err != nil {
		rn.logger.ErrorContext(ctx, "relay rewrite failed",
			slog.String("id", eventID),
			slog.String("error", err.Error()),
		)
		rn.update(eventID, 100, StatusFailure, "relay rewrite failed")
		return nil, nil
	}

	rn.update(eventID, 100, StatusSuccess, "")
	return &Output{
		RunID:      rn.id,
		ProviderID: providerID,
		EmbedID:    embedID,
		Stream:     final,
	}, nil
}

// validate runs the structural check and the bounded playability probe.
// Structural garbage is a plugin failure; a definitively dead stream is a
// not-found; an inconclusive probe is accepted with a warning, optionally
// after a second look through the relay.
func (rn *run) validate(ctx context.Context, eventID string, s stream.Stream) (Status, string, bool) {
	if err := rn.runner.checker.Structural(s); err != nil {
		return StatusFailure, fmt.Sprintf("malformed stream: %v", err), false
	}

	report := rn.runner.checker.Playability(ctx, s)
	if report.Verdict == probe.VerdictInconclusive && rn.runner.proxy != nil && ctx.Err() == nil {
		// Origin may be unreachable from here while the relay can still
		// reach it. A relay-side probe can only upgrade the verdict.
		if rewritten, err := rn.runner.proxy.Rewrite(s); err == nil {
			if retry := rn.runner.checker.Playability(ctx, rewritten); retry.Verdict == probe.VerdictPlayable {
				report = retry
			}
		}
	}

	switch report.Verdict {
	case probe.VerdictPlayable:
		return StatusSuccess, "", true
	case probe.VerdictInconclusive:
		rn.logger.WarnContext(ctx, "playability probe inconclusive, accepting stream",
			slog.String("id", eventID),
			slog.String("reason", report.Reason),
		)
		return StatusSuccess, "", true
	default:
		return StatusNotFound, report.Reason, false
	}
}

// enqueueEmbeds defers a source's references, applying the caller's embed
// preference within this source before queueing.
func (rn *run) enqueueEmbeds(sourceID string, refs []provider.EmbedRef) {
	ordered := provider.ReorderRefs(rn.opts.EmbedOrder, refs)

	briefs := make([]EmbedBrief, len(ordered))
	for i, ref := range ordered {
		entryID := fmt.Sprintf("%s-%d", sourceID, i)
		briefs[i] = EmbedBrief{EntryID: entryID, EmbedID: ref.EmbedID}
		rn.queue = append(rn.queue, queuedEmbed{
			entryID:  entryID,
			sourceID: sourceID,
			ref:      ref,
		})
	}
	rn.emit(DiscoverEmbedsEvent{Run: rn.id, SourceID: sourceID, Embeds: briefs})
}

// callSource invokes one source plugin under the per-plugin timeout with
// panic containment. A panic is that plugin's failure, never the run's.
func (rn *run) callSource(ctx context.Context, src provider.Source) (result *provider.SourceResult, err error) {
	callCtx, cancel := rn.pluginContext(ctx)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			rn.logger.ErrorContext(ctx, "source plugin panicked",
				slog.String("provider_id", src.ID()),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("plugin panic: %v", rec)
		}
	}()

	sc := &provider.ScrapeContext{
		Request:  rn.req,
		Fetcher:  rn.runner.fetcher,
		Features: rn.opts.Features,
		Progress: rn.progressFunc(src.ID()),
	}
	return src.ResolveSource(callCtx, sc)
}

// callEmbed invokes one embed plugin under the same isolation as callSource.
func (rn *run) callEmbed(ctx context.Context, embed provider.Embed, entry queuedEmbed) (result *provider.EmbedResult, err error) {
	callCtx, cancel := rn.pluginContext(ctx)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			rn.logger.ErrorContext(ctx, "embed plugin panicked",
				slog.String("entry_id", entry.entryID),
				slog.String("embed_id", embed.ID()),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("plugin panic: %v", rec)
		}
	}()

	ec := &provider.EmbedScrapeContext{
		Ref:      entry.ref,
		Fetcher:  rn.runner.fetcher,
		Features: rn.opts.Features,
		Progress: rn.progressFunc(entry.entryID),
	}
	return embed.ResolveEmbed(callCtx, ec)
}

func (rn *run) pluginContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if rn.runner.timeout > 0 {
		return context.WithTimeout(ctx, rn.runner.timeout)
	}
	return context.WithCancel(ctx)
}

func (rn *run) progressFunc(id string) func(int) {
	return func(percent int) {
		// Plugins only ever report interim progress; the terminal update
		// stays with the runner.
		if percent > 99 {
			percent = 99
		}
		rn.update(id, percent, StatusPending, "")
	}
}

// update emits an Update event, clamping percentages so they never decrease
// and dropping anything after the first terminal status for an id.
func (rn *run) update(id string, percent int, status Status, reason string) {
	if rn.done[id] {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if last, ok := rn.percent[id]; ok && percent < last {
		percent = last
	}
	rn.percent[id] = percent
	if status.Terminal() {
		rn.done[id] = true
	}
	rn.emit(UpdateEvent{Run: rn.id, ID: id, Percent: percent, Status: status, Reason: reason})
}

func (rn *run) emit(ev Event) {
	if rn.opts.OnEvent != nil {
		rn.opts.OnEvent(ev)
	}
}

func cancelled(ctxErr error) error {
	return fmt.Errorf("%w: %w", ErrRunCancelled, ctxErr)
}
