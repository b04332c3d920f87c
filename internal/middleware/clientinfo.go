package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const clientInfoKey contextKey = "clientInfo"

// ClientInfo carries the request attributes the tool dispatcher needs
// for identity resolution and usage accounting.
type ClientInfo struct {
	Token     string
	IP        string
	UserAgent string
}

// ClientInfoFromContext retrieves the client info set by ExtractClientInfo.
func ClientInfoFromContext(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey).(ClientInfo)
	if info.IP == "" {
		info.IP = "unknown"
	}
	return info
}

// WithClientInfo returns a context with the given client info set.
// Useful for testing handlers that depend on this middleware.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey, info)
}

// ExtractClientInfo stores the bearer token, resolved client IP, and
// user agent in the request context for downstream tool handlers.
func ExtractClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := ClientInfo{
			Token:     extractBearerToken(r),
			IP:        ClientIP(r),
			UserAgent: r.Header.Get("User-Agent"),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientInfoKey, info)))
	})
}

// ClientIP resolves the client address using proxy header precedence:
// cf-connecting-ip, then the first x-forwarded-for entry, then
// x-real-ip, then the direct peer. Returns "unknown" when none is set.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("Cf-Connecting-Ip")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
