package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDMiddleware tags every request with an ID, honoring one supplied
// by the client.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// loggingMiddleware logs each request with method, path, status and latency.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.log.Debug("request",
			logging.String("method", r.Method),
			logging.Path(r.URL.Path),
			logging.Int("status", wrapper.statusCode),
			logging.String("request_id", requestID(r)),
			logging.Latency(time.Since(start)),
		)
	})
}

// metricsMiddleware tracks HTTP request metrics.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.met.HTTPRequestsInFlight.Inc()
		defer s.met.HTTPRequestsInFlight.Dec()

		wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)
		statusStr := strconv.Itoa(wrapper.statusCode)

		s.met.RecordHTTPRequest(r.Method, r.URL.Path, statusStr, duration)
		s.met.HTTPResponseSizeBytes.WithLabelValues(r.Method, r.URL.Path).Observe(float64(wrapper.bytesWritten))
	})
}

// statusResponseWriter wraps http.ResponseWriter to capture status code and
// bytes written.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}
