package middleware

import (
	"net/http"
	"time"

	"github.com/rpattn/certrecon/internal/auth"

	"github.com/sirupsen/logrus"
)

const (
	ActorHeader   = "X-Actor"
	SessionHeader = "X-Session-ID"
)

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one access line per HTTP request.
func LoggingMiddleware(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			entry := log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rw.statusCode,
				"duration": time.Since(start).String(),
				"remote":   r.RemoteAddr,
			})
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("http request failed")
				return
			}
			entry.Info("http request")
		})
	}
}

// IdentityMiddleware copies the actor and session headers into the request context.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = auth.ContextWithActor(ctx, actor)
		}
		if session := r.Header.Get(SessionHeader); session != "" {
			ctx = auth.ContextWithSession(ctx, session)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
