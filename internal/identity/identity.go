// Package identity carries the already-verified caller identity through a
// request. Per §6, "the gate never parses credentials itself": mTLS,
// bearer-token, and API-key verification happen upstream (a sidecar, a
// mesh, or a dedicated auth proxy); this package only recognizes the
// resulting opaque identity string and attaches it to the request context,
// the way the teacher's pkg/auth attaches a Principal.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Identity is the opaque "identity:<principal>" string §6 specifies.
type Identity string

const prefix = "identity:"

// New validates and wraps a raw principal string into the canonical form.
func New(principal string) (Identity, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return "", errors.New("identity: empty principal")
	}
	if strings.HasPrefix(principal, prefix) {
		return Identity(principal), nil
	}
	return Identity(prefix + principal), nil
}

func (id Identity) String() string {
	return string(id)
}

func (id Identity) Empty() bool {
	return id == ""
}

type contextKey string

const identityContextKey contextKey = "governor.identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityContextKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(Identity)
	return id, ok && !id.Empty()
}

// HeaderName is the header an upstream verifier is expected to set once it
// has authenticated the caller.
const HeaderName = "X-Verified-Identity"

// Middleware reads the pre-verified identity header and attaches it to the
// request context. Requests without the header proceed with no identity in
// context; admission then denies with UNAUTHENTICATED, matching §6's error
// taxonomy rather than failing the request at this layer.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderName)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := New(raw)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
