package server

import (
	"net/http"
)

// originValidationMiddleware enforces the Origin header on every incoming
// request. A request without an Origin header (no browser involved) is
// always allowed through. One that carries an Origin header must match an
// entry in allowed, where "*" matches any; an empty allowed list matches
// none, so every cross-origin request is denied by default (spec §4.6:
// the absence of --allow-origin is the secure default, not a no-op).
func originValidationMiddleware(allowed []string) Middleware {
	allowedMap := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		allowedMap[v] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if allowedMap["*"] || allowedMap[origin] {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "origin not allowed", http.StatusForbidden)
		})
	}
}
