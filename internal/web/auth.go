package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}

	// Query token first: websocket clients cannot set headers from browsers.
	if queryToken := strings.TrimSpace(r.URL.Query().Get("token")); queryToken != "" {
		if secureEqual(queryToken, s.cfg.Token) {
			return true
		}
	}

	if headerToken := bearerToken(r.Header.Get("Authorization")); headerToken != "" {
		if secureEqual(headerToken, s.cfg.Token) {
			return true
		}
	}
	return false
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
