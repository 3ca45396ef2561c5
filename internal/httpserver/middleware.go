package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// statusWriter captures the response code for the log line and metric label.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Logging logs every agent API request. The caller is the device's own UI or
// native layer, so the remote address is worth keeping: anything non-local is
// suspicious.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		slog.Info("agent api request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

// Metrics counts requests per endpoint and status on the given counter.
func Metrics(counter *prometheus.CounterVec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			counter.WithLabelValues(endpointLabel(r), strconv.Itoa(sw.status)).Inc()
		})
	}
}

// endpointLabel prefers the mux route template over the raw path so task ids
// don't explode the label cardinality.
func endpointLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}
	if tpl, err := route.GetPathTemplate(); err == nil {
		return tpl
	}
	return r.URL.Path
}
