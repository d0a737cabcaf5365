package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorize checks the Bearer token on a request. An empty configured
// token disables auth entirely, for local single-user deployments.
func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	token := extractBearer(r)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

// extractBearer pulls the token from Authorization: Bearer <token>,
// falling back to the access_token query param for SSE clients that
// cannot set headers.
func extractBearer(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(authz, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	}
	return r.URL.Query().Get("access_token")
}
