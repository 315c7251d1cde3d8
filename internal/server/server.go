// Package server exposes the query engine over HTTP.
//
//	POST /query    run one QueryRequest, or a JSON array of them
//	GET  /schema   describe the schema and its graph (?edges=1 lists edges)
//	GET  /healthz  liveness
//	GET  /metrics  Prometheus metrics, when a handler is configured
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"

	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/introspection"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/queryid"
	"github.com/hanpama/typegraph/internal/typed"
)

// Handler is an http.Handler serving the query endpoints.
type Handler struct {
	engine *query.Engine
	opt    Options
	mux    *http.ServeMux
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers to forward into gRPC metadata.
	// Header names are case-insensitive. Default is none.
	MetadataHeaders []string

	// Trace includes the evaluated paths in every response.
	Trace bool

	// Metrics, when set, is served on /metrics.
	Metrics http.Handler

	// Bus receives HTTPStart and HTTPFinish events.
	Bus *eventbus.Bus
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithTrace() Option                  { return func(o *Options) { o.Trace = true } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithMetrics(h http.Handler) Option   { return func(o *Options) { o.Metrics = h } }
func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler answering queries with engine.
func New(engine *query.Engine, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{engine: engine, opt: op, mux: http.NewServeMux()}
	h.mux.HandleFunc("/query", h.serveQuery)
	h.mux.HandleFunc("/schema", h.serveSchema)
	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	if op.Metrics != nil {
		h.mux.Handle("/metrics", op.Metrics)
	}
	return h
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	eventbus.Publish(r.Context(), h.opt.Bus, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(r.Context(), h.opt.Bus, events.HTTPFinish{Request: r, Status: sw.status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(sw, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		sw.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(sw, r)
}

func (h *Handler) serveSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.opt.Pretty)
		return
	}
	opts := []introspection.Option{introspection.WithInvokers(h.engine.InvokerFor)}
	if v := r.URL.Query().Get("edges"); v == "1" || v == "true" {
		opts = append(opts, introspection.WithEdges())
	}
	writeJSON(w, http.StatusOK, introspection.Describe(h.engine.Schema(), h.engine.Graph(), opts...), h.opt.Pretty)
}

func (h *Handler) serveQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", h.opt.Pretty)
		return
	}
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	// Map configured headers into metadata
	if len(h.opt.MetadataHeaders) > 0 {
		md := metadata.MD{}
		allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
		for _, hdr := range h.opt.MetadataHeaders {
			allowed[strings.ToLower(hdr)] = struct{}{}
		}
		for k, v := range r.Header {
			if _, ok := allowed[strings.ToLower(k)]; ok {
				md[strings.ToLower(k)] = v
			}
		}
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	req, batch, status, msg := parseRequest(r, h.opt.MaxBodyBytes)
	if msg != "" {
		writeError(w, status, msg, h.opt.Pretty)
		return
	}

	if batch != nil {
		out := make([]QueryResponse, len(batch))
		for i := range batch {
			out[i], _ = h.executeOne(ctx, batch[i])
		}
		writeJSON(w, http.StatusOK, out, h.opt.Pretty)
		return
	}
	res, status := h.executeOne(ctx, req)
	writeJSON(w, status, res, h.opt.Pretty)
}

// executeOne runs req and picks the status a lone request would answer
// with: 400 for undecodable requests, 504 for timeouts, 500 for other
// aborted queries.
func (h *Handler) executeOne(ctx context.Context, req QueryRequest) (QueryResponse, int) {
	facts, goals, err := Decode(h.engine.Schema(), req)
	if err != nil {
		return Encode(nil, err, false), http.StatusBadRequest
	}
	ctx, id := queryid.NewContext(ctx)
	res, err := h.engine.Find(ctx, facts, goals...)
	out := Encode(res, err, h.opt.Trace)
	out.ID = id
	switch {
	case err == nil:
		return out, http.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return out, http.StatusGatewayTimeout
	default:
		ctxlog.FromContext(ctx).WarnContext(ctx, "query aborted", "query", id, "error", err)
		return out, http.StatusInternalServerError
	}
}

// ------------------ Request parsing ------------------

func parseRequest(r *http.Request, maxBody int64) (QueryRequest, []QueryRequest, int, string) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return QueryRequest{}, nil, http.StatusUnsupportedMediaType, "unsupported Content-Type"
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return QueryRequest{}, nil, http.StatusBadRequest, "failed to read body"
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return QueryRequest{}, nil, http.StatusRequestEntityTooLarge, "body too large"
	}

	// Try array (batch)
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var arr []QueryRequest
		if err := typed.DecodeJSON(body, &arr); err != nil {
			return QueryRequest{}, nil, http.StatusBadRequest, "invalid JSON"
		}
		if len(arr) == 0 {
			return QueryRequest{}, nil, http.StatusBadRequest, "empty batch"
		}
		return QueryRequest{}, arr, 0, ""
	}
	var req QueryRequest
	if err := typed.DecodeJSON(body, &req); err != nil {
		return QueryRequest{}, nil, http.StatusBadRequest, "invalid JSON"
	}
	return req, nil, 0, ""
}

// ------------------ Response formatting ------------------

func writeError(w http.ResponseWriter, status int, msg string, pretty bool) {
	writeJSON(w, status, map[string]string{"error": msg}, pretty)
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
