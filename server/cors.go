package server

import (
	"net/http"
	"strings"
)

const (
	AllowOriginHeader   = "Access-Control-Allow-Origin"
	AllowHeadersHeader  = "Access-Control-Allow-Headers"
	AllowMethodsHeader  = "Access-Control-Allow-Methods"
	RequestMethodHeader = "Access-Control-Request-Method"
)

// allowedRequestHeaders is fixed rather than configurable: it covers the
// body content type, the two authorization headers, and the Streamable
// HTTP session and protocol-version headers these routes read, and no CLI
// flag exposes a way to change it.
var allowedRequestHeaders = []string{"Content-Type", "Authorization", "X-MCP-Authorization", "Mcp-Session-Id", "MCP-Protocol-Version"}

// Cors sets CORS response headers for the origins AllowOrigins names.
// It shares that list with originValidationMiddleware (spec §4.6: an
// empty list is default-secure, denying every cross-origin request)
// rather than carrying its own separate allow-list.
type Cors struct {
	AllowOrigins []string
}

func newCors(allowOrigins []string) *Cors {
	return &Cors{AllowOrigins: allowOrigins}
}

func (c *Cors) allowed(origin string) bool {
	for _, o := range c.AllowOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// corsHandler is a handler that sets CORS headers
type corsHandler struct {
	*Cors
}

func (h *corsHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Cors.setHeaders(w, r)
		next.ServeHTTP(w, r)
	})
}

func (c *Cors) setHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && c.allowed(origin) {
		w.Header().Set(AllowOriginHeader, origin)
	}
	if r.Method == http.MethodOptions {
		if requestMethod := r.Header.Get(RequestMethodHeader); requestMethod != "" {
			w.Header().Set(AllowMethodsHeader, requestMethod)
		}
		w.Header().Set(AllowHeadersHeader, strings.Join(allowedRequestHeaders, ", "))
	}
}
