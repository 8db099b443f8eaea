package daemon

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// ControlAuth guards the TCP control listener with an optional bearer token
// and an optional CIDR allowlist. The unix socket is protected by file
// permissions and is never wrapped.
type ControlAuth struct {
	token []byte
	allow []netip.Prefix
}

// NewControlAuth returns nil when neither a token nor an allowlist is set.
func NewControlAuth(token string, allowCIDRs []string) (*ControlAuth, error) {
	token = strings.TrimSpace(token)
	allow := make([]netip.Prefix, 0, len(allowCIDRs))
	for _, raw := range allowCIDRs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("allow cidr %q: %w", value, err)
		}
		allow = append(allow, prefix.Masked())
	}
	if token == "" && len(allow) == 0 {
		return nil, nil
	}
	return &ControlAuth{token: []byte(token), allow: allow}, nil
}

// Wrap enforces the allowlist and then the token on /v1 paths. Anything
// else, /healthz included, passes through.
func (a *ControlAuth) Wrap(next http.Handler) http.Handler {
	if a == nil || next == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1" && !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		if !a.permits(r.RemoteAddr) {
			writeError(w, http.StatusForbidden, "remote address not allowed")
			return
		}
		if len(a.token) > 0 {
			presented := bearerToken(r.Header.Get("Authorization"))
			switch {
			case presented == "":
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			case subtle.ConstantTimeCompare([]byte(presented), a.token) != 1:
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *ControlAuth) permits(remote string) bool {
	if len(a.allow) == 0 {
		return true
	}
	addr, ok := remoteAddr(remote)
	if !ok {
		return false
	}
	for _, prefix := range a.allow {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// remoteAddr parses an http.Request RemoteAddr, with or without a port.
// Zones are dropped and IPv4-mapped IPv6 addresses are unmapped so they
// match IPv4 prefixes.
func remoteAddr(remote string) (netip.Addr, bool) {
	remote = strings.TrimSpace(remote)
	var addr netip.Addr
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		addr = ap.Addr()
	} else {
		parsed, err := netip.ParseAddr(strings.Trim(remote, "[]"))
		if err != nil {
			return netip.Addr{}, false
		}
		addr = parsed
	}
	return addr.WithZone("").Unmap(), true
}
