package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/kirikou/kirikou/internal/ratelimit"
)

// identity resolves the rate limiting key for r: the first X-Forwarded-For
// entry when proxies are trusted, otherwise the peer host
func (s *Server) identity(r *http.Request) string {
	if s.config.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return ratelimit.Identity(host)
}
