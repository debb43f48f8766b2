// Package middleware provides HTTP middleware for the dynvoke server shell.
// Each middleware has the shape func(http.Handler) http.Handler and is
// installed with Server.WithMiddleware.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig holds the configuration for CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists origins allowed to call the server.
	// "*" allows any origin. Default: ["*"]
	AllowOrigins []string `yaml:"allow_origins"`

	// AllowHeaders lists request headers a browser may send.
	// Default: ["Content-Type", "X-Request-Id"]
	AllowHeaders []string `yaml:"allow_headers"`

	// AllowCredentials permits cookies and HTTP auth on cross-origin calls.
	AllowCredentials bool `yaml:"allow_credentials"`

	// MaxAge is how long in seconds a preflight result may be cached. 0 omits the header.
	MaxAge int `yaml:"max_age"`
}

// Browser stubs only POST, and fetch the script itself with GET.
const corsMethods = "GET, POST, OPTIONS"

// CORS returns an HTTP middleware that answers preflight requests and sets
// the Access-Control headers a browser needs to call actions from another origin.
// A nil config allows every origin.
func CORS(cfg *CORSConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = &CORSConfig{}
	}
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	headers := cfg.AllowHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", RequestIDHeader}
	}
	wildcard := slices.Contains(origins, "*")
	allowHeaders := strings.Join(headers, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()

			switch {
			case origin == "":
			case wildcard && !cfg.AllowCredentials:
				h.Set("Access-Control-Allow-Origin", "*")
			case wildcard || slices.Contains(origins, origin):
				// Credentials forbid "*", so echo the caller's origin.
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}
			if origin != "" {
				h.Set("Access-Control-Expose-Headers", RequestIDHeader)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
