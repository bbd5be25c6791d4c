// Package relay implements the proxy endpoint that replays upstream media
// for players that cannot reach it directly.
//
// A proxied URL has the form
//
//	GET /relay?url=<base64url(target)>&h=<base64url(json(headers))>
//
// shared with pkg/proxypolicy, which mints these URLs at resolve time. The
// relay fetches the target with the decoded headers attached, strips
// hop-by-hop headers in both directions, and serves the body with
// permissive CORS. HLS playlist bodies are rewritten on the way through so
// every nested URI points back at the relay; everything else is piped
// through untouched.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dowser/internal/config"
	"dowser/internal/observability"
	"dowser/internal/version"
	"dowser/pkg/fetch"
	"dowser/pkg/httpclient"
	"dowser/pkg/proxypolicy"
)

// RoutePattern is the path the relay serves; proxypolicy base URLs point here.
const RoutePattern = "/relay"

// ContentTypeHLS is the canonical media type for rewritten playlists.
const ContentTypeHLS = "application/vnd.apple.mpegurl"

// Defaults applied by NewHandler when the config leaves them zero.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxPlaylistSize = 2 << 20
)

// playlistMagic opens every HLS playlist, master and media alike.
const playlistMagic = "#EXTM3U"

// hlsContentTypes are the media types origins use for HLS playlists.
var hlsContentTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"audio/mpegurl":                 true,
	"audio/x-mpegurl":               true,
}

// hopHeaders are the hop-by-hop headers of RFC 9110 section 7.6.1. They
// describe one connection, not the payload, and never survive a proxy.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler serves the relay endpoint.
type Handler struct {
	cfg     config.RelayConfig
	fetcher fetch.Doer
	logger  *slog.Logger
}

// NewHandler creates a relay handler. The fetcher executes every upstream
// request; production wiring passes the client from NewFetcher, tests pass
// fakes.
func NewHandler(cfg config.RelayConfig, fetcher fetch.Doer, logger *slog.Logger) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPlaylistSize <= 0 {
		cfg.MaxPlaylistSize = config.ByteSize(DefaultMaxPlaylistSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  observability.WithComponent(logger, "relay"),
	}
}

// NewFetcher builds the resilient client the relay hands its upstream
// requests to. Streams run for as long as the player keeps reading, so the
// base client carries no overall deadline; the transport bounds dialing,
// TLS, and the wait for response headers instead. Decompression stays on,
// which is why the handler drops upstream Content-Encoding headers.
func NewFetcher(cfg config.RelayConfig, logger *slog.Logger) *httpclient.Client {
	headerTimeout := cfg.Timeout
	if headerTimeout <= 0 {
		headerTimeout = DefaultTimeout
	}
	return httpclient.New(httpclient.Config{
		BaseClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: headerTimeout,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
		// One quick retry only; players resubmit failed segment fetches
		// on their own schedule.
		RetryAttempts:       1,
		RetryDelay:          250 * time.Millisecond,
		RetryMaxDelay:       time.Second,
		BackoffMultiplier:   2,
		CircuitThreshold:    httpclient.DefaultCircuitThreshold,
		CircuitTimeout:      httpclient.DefaultCircuitTimeout,
		CircuitHalfOpenMax:  httpclient.DefaultCircuitHalfOpenMax,
		UserAgent:           httpclient.DefaultUserAgent,
		Logger:              logger,
		EnableDecompression: true,
	})
}

// RegisterChiRoutes registers the relay endpoint as raw chi handlers. CORS
// headers have to land before the body starts streaming, which rules out
// huma's response model here.
func (h *Handler) RegisterChiRoutes(router chi.Router) {
	router.Get(RoutePattern, h.handleStream)
	router.Options(RoutePattern, h.handleStreamOptions)
}

// handleStream relays one upstream URL to the client.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	target, upstreamHeaders, err := proxypolicy.DecodeTarget(r.URL.Query())
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid relay parameters: %v", err), http.StatusBadRequest)
		return
	}

	targetURL, err := url.Parse(target)
	if err != nil || targetURL.Host == "" || (targetURL.Scheme != "http" && targetURL.Scheme != "https") {
		http.Error(w, "target must be an absolute http or https url", http.StatusBadRequest)
		return
	}

	policy := proxypolicy.Policy{BaseURL: h.cfg.PublicURL}
	if policy.BaseURL == "" {
		policy.BaseURL = buildBaseURL(r)
	}
	if policy.IsProxied(target) {
		http.Error(w, "refusing to relay the relay", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if looksLikePlaylist(targetURL) {
		// Playlists are small documents; segment and file fetches stream
		// for as long as the client keeps reading and get no deadline.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid target url: %v", err), http.StatusBadRequest)
		return
	}
	for _, name := range h.cfg.ForwardHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	// Headers baked into the proxied URL win over forwarded client headers.
	for name, value := range upstreamHeaders {
		req.Header.Set(name, value)
	}
	stripHopByHop(req.Header)

	h.logger.Debug("relaying upstream",
		"url", target,
		"headers", upstreamHeaders,
	)

	resp, err := h.fetcher.Do(req)
	if err != nil {
		h.logger.Warn("upstream fetch failed",
			"url", target,
			"error", err,
		)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	isPlaylist, body := sniffPlaylist(resp)
	if isPlaylist && resp.StatusCode == http.StatusOK {
		h.servePlaylist(w, body, resp, targetURL, upstreamHeaders, policy)
		return
	}
	h.serveStream(w, resp, body, target)
}

// handleStreamOptions handles CORS preflight requests for the relay endpoint.
func (h *Handler) handleStreamOptions(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// servePlaylist rewrites an HLS playlist so every URI in it points back at
// the relay, then serves the result. Playlists that cannot be read, are too
// large, or do not parse degrade to plain passthrough of the original bytes.
func (h *Handler) servePlaylist(w http.ResponseWriter, body io.Reader, resp *http.Response, targetURL *url.URL, headers map[string]string, policy proxypolicy.Policy) {
	data, overflow, err := readCapped(body, int64(h.cfg.MaxPlaylistSize))
	if err != nil {
		h.logger.Warn("reading upstream playlist failed",
			"url", targetURL.String(),
			"error", err,
		)
		http.Error(w, "reading upstream playlist failed", http.StatusBadGateway)
		return
	}
	if overflow {
		h.logger.Warn("playlist exceeds rewrite cap, passing through",
			"url", targetURL.String(),
			"cap", int64(h.cfg.MaxPlaylistSize),
		)
		h.serveStream(w, resp, io.MultiReader(bytes.NewReader(data), body), targetURL.String())
		return
	}

	base := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		// Redirects move the document; relative URIs resolve against where
		// it ended up, not where we asked.
		base = resp.Request.URL
	}

	rewritten, count, err := RewritePlaylist(data, base, headers, policy)
	if err != nil {
		// A playlist we cannot parse may still be one the player copes
		// with; serve the original bytes rather than killing the stream.
		h.logger.Warn("playlist rewrite failed, serving original",
			"url", targetURL.String(),
			"error", err,
		)
		rewritten = data
	} else {
		h.logger.Debug("rewrote playlist",
			"url", targetURL.String(),
			"uris", count,
			"bytes", len(rewritten),
		)
	}

	copyUpstreamHeaders(w, resp)
	w.Header().Set("Content-Type", ContentTypeHLS)
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rewritten)
}

// serveStream pipes a non-playlist body through, mirroring the upstream
// status.
func (h *Handler) serveStream(w http.ResponseWriter, resp *http.Response, body io.Reader, target string) {
	copyUpstreamHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, body); err != nil {
		// Routine when the player seeks or the viewer gives up.
		h.logger.Debug("stream copy ended early",
			"url", target,
			"error", err,
		)
	}
}

// copyUpstreamHeaders mirrors the upstream response headers onto the client
// response, minus the ones that no longer apply on this side of the proxy.
func copyUpstreamHeaders(w http.ResponseWriter, resp *http.Response) {
	// The fetch client already decoded any content encoding, so the
	// encoding headers no longer describe the bytes we send.
	decoded := resp.Header.Get("Content-Encoding") != ""

	upstream := resp.Header.Clone()
	stripHopByHop(upstream)
	for name, values := range upstream {
		switch {
		case strings.HasPrefix(name, "Access-Control-"):
			// The relay speaks its own CORS.
			continue
		case name == "Set-Cookie":
			// Origin cookies mean nothing on the relay's host; nested
			// fetches carry their own headers in the proxied URL.
			continue
		case decoded && (name == "Content-Encoding" || name == "Content-Length"):
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}

	setCORSHeaders(w)
	w.Header().Set("X-Dowser-Version", version.Version)
}

// setCORSHeaders sets the CORS headers for cross-origin streaming.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Range")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
}

// stripHopByHop removes hop-by-hop headers, including any named by the
// Connection header itself.
func stripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, field := range strings.Split(v, ",") {
			if field = strings.TrimSpace(field); field != "" {
				h.Del(field)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// sniffPlaylist decides whether the response body is an HLS playlist, by
// content type first and by peeking at the opening bytes otherwise. The
// returned reader re-includes whatever the peek consumed.
func sniffPlaylist(resp *http.Response) (bool, io.Reader) {
	if isHLSContentType(resp.Header.Get("Content-Type")) {
		return true, resp.Body
	}
	peek := make([]byte, len(playlistMagic))
	n, _ := io.ReadFull(resp.Body, peek)
	body := io.MultiReader(bytes.NewReader(peek[:n]), resp.Body)
	return n == len(playlistMagic) && string(peek) == playlistMagic, body
}

// isHLSContentType reports whether a Content-Type header names an HLS
// playlist type.
func isHLSContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return hlsContentTypes[mediaType]
}

// looksLikePlaylist classifies a target by extension, before any bytes have
// been fetched. Used only to pick a fetch deadline; the authoritative call
// is sniffPlaylist on the response.
func looksLikePlaylist(u *url.URL) bool {
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m3u8", ".m3u":
		return true
	}
	return false
}

// readCapped reads at most limit bytes. overflow reports that the reader
// held more, with data holding everything consumed so far.
func readCapped(r io.Reader, limit int64) (data []byte, overflow bool, err error) {
	data, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data, true, nil
	}
	return data, false, nil
}

// buildBaseURL reconstructs the externally visible URL of this request so
// rewritten playlist entries point back at the relay the client actually
// reached, reverse proxies included.
func buildBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}

	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.Path)
}
