package gateway

import (
	"crypto/subtle"
	"net/http"
)

// SecretHeader carries the shared secret on every authenticated request.
const SecretHeader = "X-Vigil-Secret"

func (s *Server) authorized(r *http.Request) bool {
	secret := r.Header.Get(SecretHeader)
	if secret == "" {
		// Browser websocket clients cannot set headers; allow the query
		// form there.
		secret = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.sharedSecret)) == 1
}

// requireAuth wraps a handler with the shared-secret check.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			s.logger.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Unauthorized request")
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}
