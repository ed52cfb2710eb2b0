package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilsonzlin/aero/proxy/realtime-call/internal/config"
)

var ErrServerClosed = http.ErrServerClosed

const HeaderRequestID = "X-Request-ID"

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	log   *slog.Logger
	cfg   config.RelayConfig
	build BuildInfo

	// ready is shared with the ops server so /readyz there reports the relay
	// listener.
	ready *atomic.Bool
	ops   bool

	router chi.Router
	srv    *http.Server
}

// New builds the relay server on cfg.ListenAddr. /healthz, /readyz and
// /version are mounted on it only when cfg.OpsListenAddr is empty; otherwise
// they belong to the server returned by NewOps.
func New(cfg config.RelayConfig, logger *slog.Logger, build BuildInfo) *Server {
	return newServer(cfg, cfg.ListenAddr, logger, build, new(atomic.Bool), false)
}

// NewOps builds the operational server on cfg.OpsListenAddr. Its readiness
// follows relay.
func NewOps(relay *Server) *Server {
	return newServer(relay.cfg, relay.cfg.OpsListenAddr, relay.log, relay.build, relay.ready, true)
}

func newServer(cfg config.RelayConfig, addr string, logger *slog.Logger, build BuildInfo, ready *atomic.Bool, ops bool) *Server {
	s := &Server{
		log:    logger,
		cfg:    cfg,
		build:  build,
		ready:  ready,
		ops:    ops,
		router: chi.NewRouter(),
	}

	s.router.Use(
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)
	s.router.NotFound(notFound)
	// Unknown method/path pairs are reported the same way as unknown paths.
	s.router.MethodNotAllowed(notFound)
	if ops || cfg.OpsListenAddr == "" {
		s.registerRoutes()
	}

	handler := otelhttp.NewHandler(s.router, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Router returns the chi router for registering additional routes. It must
// only be used during startup before Serve is called.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Serve(l net.Listener) error {
	if !s.ops {
		s.ready.Store(true)
	}
	s.log.Info("http server serving", "addr", l.Addr().String(), "ops", s.ops)
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if !s.ops {
		s.ready.Store(false)
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	if !s.ops {
		s.ready.Store(false)
	}
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})
}

type Middleware func(http.Handler) http.Handler

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					WriteError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(HeaderRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			r.Header.Set(HeaderRequestID, reqID)
			w.Header().Set(HeaderRequestID, reqID)
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// Flush lets streamed proxy responses reach the client as they arrive.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get(HeaderRequestID),
			)
		})
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

// WriteError writes {"detail": msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"detail": msg})
}
