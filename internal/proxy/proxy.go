// Package proxy implements the local relay that forwards browser call-creation
// requests to a realtime API, including hosts with self-signed certificates on
// private networks.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/upstream"
)

const (
	RouteAPIURL = "/api-url"
	RouteCalls  = "/proxy/v1/realtime/calls"

	upstreamCallsPath = "/v1/realtime/calls"
)

var tracer = otel.Tracer("github.com/wilsonzlin/aero/proxy/realtime-call/internal/proxy")

// hopByHopHeaders are never copied between the upstream and the caller.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Handler struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	upstreamURL string
	callsURL    string
	client      *http.Client
	insecure    bool
	maxBody     int64
}

// New builds the relay for cfg.UpstreamURL. client may be nil, in which case
// one is built with upstream.NewClient.
func New(cfg config.RelayConfig, client *http.Client, m *metrics.Metrics, logger *slog.Logger) (*Handler, error) {
	target, err := upstream.ParseTarget(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("upstream url: %w", err)
	}
	callsURL := strings.TrimRight(target.String(), "/") + upstreamCallsPath

	insecure := false
	if client == nil {
		client, insecure = upstream.NewClient(target, cfg.UpstreamTimeout)
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		log:         logger,
		metrics:     m,
		upstreamURL: cfg.UpstreamURL,
		callsURL:    callsURL,
		client:      client,
		insecure:    insecure,
		maxBody:     int64(cfg.MaxBodyBytes),
	}, nil
}

// InsecureUpstream reports whether certificate verification toward the
// upstream is disabled.
func (h *Handler) InsecureUpstream() bool { return h.insecure }

func (h *Handler) Register(r chi.Router) {
	r.Get(RouteAPIURL, h.handleAPIURL)
	r.Post(RouteCalls, h.handleCalls)
	r.Options(RouteCalls, h.handlePreflight)
}

func (h *Handler) handleAPIURL(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"apiUrl": h.upstreamURL})
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	hdr.Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCalls(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	log := h.log.With("request_id", r.Header.Get(httpserver.HeaderRequestID))

	auth := r.Header.Get("Authorization")
	if strings.TrimSpace(auth) == "" {
		h.metrics.Inc(metrics.EventMissingAuth)
		httpserver.WriteError(w, http.StatusUnauthorized, "Missing Authorization header")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.Inc(metrics.EventBodyTooLarge)
			httpserver.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		httpserver.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	ctx, span := tracer.Start(r.Context(), "relay.upstream_call")
	defer span.End()
	span.SetAttributes(
		attribute.Int("http.request.body.size", len(body)),
		attribute.Bool("relay.tls_verification_skipped", h.insecure),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.callsURL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		httpserver.WriteError(w, http.StatusInternalServerError, "Proxy error: "+err.Error())
		return
	}
	req.Header.Set("Authorization", auth)
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if h.insecure {
		h.metrics.Inc(metrics.EventUpstreamTLSSkipped)
	}

	h.metrics.InflightRequests.Inc()
	start := time.Now()
	resp, err := h.client.Do(req)
	h.metrics.InflightRequests.Dec()
	if err != nil {
		h.metrics.Inc(metrics.EventUpstreamError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream request failed")
		log.Warn("upstream call failed", "upstream", h.callsURL, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "Proxy error: "+err.Error())
		return
	}
	defer resp.Body.Close()

	h.metrics.ObserveUpstream(resp.StatusCode, time.Since(start))
	h.metrics.Inc(metrics.EventCallsProxied)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	log.Debug("upstream call answered", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "X-Session-Id")
	w.WriteHeader(resp.StatusCode)

	if err := streamBody(w, resp.Body); err != nil {
		// Headers are already sent; all that is left is to log.
		span.RecordError(err)
		log.Warn("copy upstream response", "err", err)
	}
}

func copyResponseHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopByHopHeaders))
	for _, h := range hopByHopHeaders {
		skip[h] = true
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = true
			}
		}
	}
	for k, vs := range src {
		if skip[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// streamBody copies src to w, flushing after every chunk.
func streamBody(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32<<10)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			_ = rc.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
