// Package httpapi serves the State Entity's HTTP surface (spec.md §6) over
// gorilla/mux, translating wire requests into driver calls and error kinds
// into HTTP status codes (spec.md §7).
package httpapi

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// requestLogger logs one structured line per request, mirroring the
// teacher's cmd/xchainserver/server middleware.
func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Info("incoming request")
			next.ServeHTTP(w, r)
		})
	}
}

// jsonHeaders sets Content-Type application/json on every response.
func jsonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
