package consent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClient_Check_Allowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"allowed": true})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	allowed, found, err := c.Check(context.Background(), "identity:alice", "dnsOperations")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !found || !allowed {
		t.Fatalf("got found=%v allowed=%v, want found=true allowed=true", found, allowed)
	}
}

func TestHTTPClient_Check_NoRecordFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	allowed, found, err := c.Check(context.Background(), "identity:bob", "dnsOperations")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if found || allowed {
		t.Fatalf("got found=%v allowed=%v, want both false for a missing record", found, allowed)
	}
}

func TestStaticClient_UnsetDefaultsToNotFound(t *testing.T) {
	c := NewStaticClient()
	_, found, err := c.Check(context.Background(), "identity:carol", "dnsOperations")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if found {
		t.Fatalf("expected no record for unset identity")
	}

	c.Set("identity:carol", "dnsOperations", true)
	allowed, found, err := c.Check(context.Background(), "identity:carol", "dnsOperations")
	if err != nil || !found || !allowed {
		t.Fatalf("got allowed=%v found=%v err=%v, want allowed=true found=true", allowed, found, err)
	}
}
