// Besides Redis, memo serves a small JSON API over HTTP for humans and health checkers: liveness, cache stats,
// Prometheus metrics and key-by-key access.

package port

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nobletooth/memo/pkg/cache"
	"github.com/nobletooth/memo/pkg/scan"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpAddress = flag.String("http_address", ":8080",
		"The ip:port to listen on for the HTTP API; empty disables the HTTP server.")
	httpShutdownTimeout = flag.Duration("http_shutdown_timeout", 5*time.Second,
		"How long in-flight HTTP requests may take to finish on shutdown.")
)

const maxRequestBodySize = 1 << 20 // 1MB

// apiError is the error body of every failed HTTP request.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func badRequest(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: msg}
}

func notFound(msg string) *apiError {
	return &apiError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write HTTP response.", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		slog.Error("Unexpected HTTP handler error.", "error", err)
		apiErr = &apiError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "unexpected error"}
	}
	writeJSON(w, apiErr.Status, struct {
		Err *apiError `json:"error"`
	}{Err: apiErr})
}

// handlerFunc is an HTTP handler that may fail; errors are rendered by writeError.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			writeError(w, err)
		}
	}
}

// accessLog logs every served request at debug level.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Served HTTP request.", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
	})
}

type kvHandler struct {
	store cache.Layer[string, []byte]
}

type putRequest struct {
	Value string `json:"value"`
	TTL   string `json:"ttl,omitempty"` // Go duration, e.g. "10s"; empty uses the default TTL.
}

type valueResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type deleteResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

type keysResponse struct {
	Keys []string `json:"keys"`
}

// mount routes single keys both as `/kvs/{key}` and as `/kvs?key=...`. Only the query form reaches the empty key and
// keys containing `/`, unless the slash is sent percent-encoded.
func (h *kvHandler) mount(r chi.Router) {
	r.Route("/kvs", func(r chi.Router) {
		r.Get("/", wrap(h.listOrGet))
		r.Put("/", wrap(h.put))
		r.Delete("/", wrap(h.del))
		r.Put("/{key}", wrap(h.put))
		r.Get("/{key}", wrap(h.get))
		r.Delete("/{key}", wrap(h.del))
	})
}

// requestKey returns the key a request addresses, from the path if routed as `/kvs/{key}`, else from the `key` query
// parameter.
func requestKey(r *http.Request) (string, error) {
	if key := chi.URLParam(r, "key"); key != "" {
		if r.URL.RawPath == "" {
			return key, nil
		}
		// chi routes on the raw path when the request holds escapes such as %2F.
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			return "", badRequest(fmt.Sprintf("invalid key %q", key))
		}
		return unescaped, nil
	}
	if query := r.URL.Query(); query.Has("key") {
		return query.Get("key"), nil
	}
	return "", badRequest("missing key")
}

func (h *kvHandler) listOrGet(w http.ResponseWriter, r *http.Request) error {
	if r.URL.Query().Has("key") {
		return h.get(w, r)
	}
	return h.list(w, r)
}

// list returns the live keys in sorted order, optionally filtered by the `pattern` glob query parameter.
func (h *kvHandler) list(w http.ResponseWriter, r *http.Request) error {
	keys := h.store.Keys()
	slices.Sort(keys)
	if pattern := r.URL.Query().Get("pattern"); pattern != "" {
		keys = slices.Collect(scan.MatchGlob(pattern, slices.Values(keys)))
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keysResponse{Keys: keys})
	return nil
}

func (h *kvHandler) put(w http.ResponseWriter, r *http.Request) error {
	key, err := requestKey(r)
	if err != nil {
		return err
	}
	var req putRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return badRequest("invalid json")
	}
	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			return badRequest(fmt.Sprintf("invalid ttl %q", req.TTL))
		}
		ttl = parsed
	}
	if ttl > 0 {
		h.store.PutWithTTL(key, []byte(req.Value), ttl)
	} else {
		h.store.Put(key, []byte(req.Value))
	}
	writeJSON(w, http.StatusOK, valueResponse{Key: key, Value: req.Value})
	return nil
}

func (h *kvHandler) get(w http.ResponseWriter, r *http.Request) error {
	key, err := requestKey(r)
	if err != nil {
		return err
	}
	value, found := h.store.Get(key)
	if !found {
		return notFound("key not found")
	}
	writeJSON(w, http.StatusOK, valueResponse{Key: key, Value: string(value)})
	return nil
}

func (h *kvHandler) del(w http.ResponseWriter, r *http.Request) error {
	key, err := requestKey(r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, deleteResponse{Key: key, Deleted: h.store.Delete(key)})
	return nil
}

// newHTTPRouter routes the HTTP API over `store`; /metrics exposes whatever `gatherer` collects.
func newHTTPRouter(store cache.Layer[string, []byte], gatherer prometheus.Gatherer) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID, accessLog, middleware.Recoverer)
	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, store.Stats())
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	(&kvHandler{store: store}).mount(router)
	router.NotFound(wrap(func(http.ResponseWriter, *http.Request) error { return notFound("no such route") }))
	return router
}

// serveHTTP serves `server` on `listener` until `ctx` is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, server *http.Server, listener net.Listener) error {
	serverErrSignal := make(chan error, 1)
	go func() { serverErrSignal <- server.Serve(listener) }()
	slog.Info("HTTP server is listening.", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *httpShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("http server stopped unexpectedly: %w", err)
	}
	return nil // Exited with no errors.
}

// RunHTTPServer serves the HTTP API on --http_address until `ctx` is done. It returns immediately if the flag is
// empty.
func RunHTTPServer(ctx context.Context, store cache.Layer[string, []byte], gatherer prometheus.Gatherer) error {
	if *httpAddress == "" {
		slog.Info("HTTP server is disabled.")
		return nil
	}
	if store == nil {
		return errors.New("expected a non-nil store")
	}
	listener, err := net.Listen("tcp", *httpAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", *httpAddress, err)
	}
	server := &http.Server{Handler: newHTTPRouter(store, gatherer), ReadHeaderTimeout: 5 * time.Second}
	return serveHTTP(ctx, server, listener)
}
