package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// HTTPOptions configures the HTTP front of the MCP server.
type HTTPOptions struct {
	// BearerToken, when set, is required on every MCP request.
	BearerToken string
	// ResourceURL is the public URL of this server, advertised in protected-resource metadata.
	ResourceURL string
	// AuthServerURL points clients at the OAuth server that issues BearerToken.
	AuthServerURL string
	// Metrics is served on /metrics when non-nil.
	Metrics http.Handler
}

// NewHTTPHandler routes /health, /metrics, protected-resource metadata and the streamable MCP
// endpoint.
func NewHTTPHandler(srv *mcp.Server, opts HTTPOptions, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	if opts.AuthServerURL != "" {
		mux.HandleFunc("GET "+protectedResourcePath, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"resource":              opts.ResourceURL,
				"authorization_servers": []string{opts.AuthServerURL},
			})
		})
	}

	var mcpHandler http.Handler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return srv
	}, nil)
	if opts.BearerToken != "" {
		mcpHandler = bearerAuth(opts, mcpHandler)
	}
	mux.Handle("/", mcpHandler)

	return loggingMiddleware(logger, mux)
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func bearerAuth(opts HTTPOptions, next http.Handler) http.Handler {
	want := []byte(opts.BearerToken)
	challenge := "Bearer"
	if opts.AuthServerURL != "" {
		challenge = `Bearer resource_metadata="` + strings.TrimRight(opts.ResourceURL, "/") + protectedResourcePath + `"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			w.Header().Set("WWW-Authenticate", challenge)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":             "invalid_token",
				"error_description": "missing or invalid bearer token",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streamed MCP responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("Request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
