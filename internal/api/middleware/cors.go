package middleware

import (
	"net/http"
	"strings"

	"auction-sync/pkg/logger"
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Accept, Content-Type, Authorization, X-Requested-With, X-SignalR-User-Agent"
)

// CORS allows the listed origins to open hub connections. An empty list or
// "*" allows every origin.
func CORS(origins []string, log logger.Logger) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; !ok && !allowAll {
					log.Warn("Rejected cross-origin request", "origin", origin, "path", r.URL.Path)
					http.Error(w, "origin not allowed", http.StatusForbidden)
					return
				}
				// Credentials cannot be combined with a wildcard origin.
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", allowMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				log.Debug("Handling CORS preflight", "path", r.URL.Path, "origin", origin)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
