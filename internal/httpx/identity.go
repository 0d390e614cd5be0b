package httpx

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Caller identity is established upstream by the auth layer and forwarded
// as trusted headers. This core consumes it as a fact; it never issues or
// validates sessions itself.

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
)

type Identity struct {
	UserID string
	Role   Role
	Member bool
}

type identityKey struct{}

// WithIdentity extracts the caller identity headers and stores the
// identity in the request context. Requests without an identity pass
// through; handlers that require one use IdentityFrom.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		role := Role(r.Header.Get("X-User-Role"))
		if role == "" {
			role = RoleCustomer
		}

		id := Identity{
			UserID: userID,
			Role:   role,
			Member: r.Header.Get("X-User-Member") == "true",
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// IdentityFrom returns the caller identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// ClientIP returns the originating client address, preferring the first
// X-Forwarded-For hop set by the edge proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// OriginAllowed checks the Origin (or, failing that, Referer) header
// against the configured allow-list. Requests carrying neither header are
// rejected.
func OriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin != "" {
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		return false
	}

	referer := r.Header.Get("Referer")
	if referer == "" {
		return false
	}
	for _, a := range allowed {
		if strings.HasPrefix(referer, a) {
			return true
		}
	}
	return false
}
