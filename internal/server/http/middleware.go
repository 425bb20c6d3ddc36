package httpserver

import (
	"crypto/subtle"
	"net/http"
)

// requireAPIKey rejects requests without the configured x-api-key header.
// Disabled when the config does not require a key. The health endpoint stays
// open so load balancers can probe without credentials.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.rt.Config()
		if !cfg.RequireAPIKey || r.URL.Path == "/v1/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("x-api-key")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
