package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_AddsPrefixIfMissing(t *testing.T) {
	id, err := New("alice")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id.String() != "identity:alice" {
		t.Fatalf("got %q, want identity:alice", id)
	}
}

func TestNew_KeepsExistingPrefix(t *testing.T) {
	id, err := New("identity:alice")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id.String() != "identity:alice" {
		t.Fatalf("got %q, want identity:alice", id)
	}
}

func TestNew_RejectsEmpty(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatalf("expected error for empty principal")
	}
}

func TestMiddleware_AttachesIdentityFromHeader(t *testing.T) {
	var gotOK bool
	var got Identity
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, gotOK = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderName, "identity:bob")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !gotOK {
		t.Fatalf("expected identity in context")
	}
	if got.String() != "identity:bob" {
		t.Fatalf("got %q, want identity:bob", got)
	}
}

func TestMiddleware_NoHeaderLeavesContextEmpty(t *testing.T) {
	var gotOK bool
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotOK = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotOK {
		t.Fatalf("expected no identity without header")
	}
}
