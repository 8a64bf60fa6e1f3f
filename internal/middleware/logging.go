package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"FedSearch/internal/metrics"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the identifier attached by Logging, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Logging assigns a request ID, recovers panics, records HTTP metrics and
// writes one access log line per request.
func Logging(logger *logrus.Logger, collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

			rec := &statusRecorder{ResponseWriter: w}
			if collector != nil {
				collector.StartHTTPRequest()
			}

			defer func() {
				if err := recover(); err != nil {
					logger.WithFields(logrus.Fields{
						"request_id": id,
						"method":     r.Method,
						"path":       r.URL.Path,
						"panic":      err,
					}).Error("Panic while serving request")
					if rec.status == 0 {
						http.Error(rec, "Internal Server Error", http.StatusInternalServerError)
					}
				}

				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)
				if collector != nil {
					collector.EndHTTPRequest(status, elapsed)
				}
				logger.WithFields(logrus.Fields{
					"request_id": id,
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     status,
					"bytes":      rec.bytes,
					"duration":   elapsed,
					"remote":     r.RemoteAddr,
				}).Info("Request handled")
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
