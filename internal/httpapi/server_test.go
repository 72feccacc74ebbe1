package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomgate/governor/internal/audit"
	"github.com/axiomgate/governor/internal/executor"
	"github.com/axiomgate/governor/internal/gate"
	"github.com/axiomgate/governor/internal/identity"
	"github.com/axiomgate/governor/internal/policy"
	"github.com/axiomgate/governor/internal/ratelimit"
	"github.com/axiomgate/governor/internal/store/memory"
)

type staticPolicy struct{ snap *policy.Snapshot }

func (s staticPolicy) Current() *policy.Snapshot { return s.snap }

func testDoc() policy.Document {
	return policy.Document{
		Version: "1",
		Capabilities: policy.Capabilities{
			Maintainer:         "file://maintainers.yaml",
			TrustedContributor: "file://trusted.yaml",
			DefaultConsent:     "file://consent.yaml",
		},
		Mutations: []policy.Mutation{
			{Name: "mutate_dns", Approvals: 1, TimelockHours: 1},
		},
		Roles: []policy.Role{
			{Name: "maintainer", Members: []string{"identity:alice"}, Privileges: []string{"mutate_dns"}},
		},
		Routes: []policy.Route{
			{Path: "/*", Plane: policy.PlaneControl, Methods: []string{"POST"}, Guards: []string{policy.GuardMTLS, policy.GuardPolicyGate}},
		},
		Constraints: policy.Constraints{RequireMTLS: true, LogAllMutations: true, MaxRateRPM: 60},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	raw, err := policy.Encode(testDoc())
	require.NoError(t, err)
	snap, issues, err := policy.Load(raw)
	require.NoError(t, err)
	require.Empty(t, issues)

	g := gate.New(staticPolicy{snap: snap}, ratelimit.NewInMemory(), memory.NewProposalStore(), audit.NewMemoryLog(), nil, executor.NewMemoryExecutor())
	return NewServer(g)
}

func withIdentity(req *http.Request, id string) *http.Request {
	return req.WithContext(identity.WithIdentity(req.Context(), identity.Identity(id)))
}

func TestGetPolicy_ReturnsActiveSnapshot(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/policy", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostPropose_RequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/proposals", bytes.NewBufferString(`{"mutation_name":"mutate_dns"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostPropose_ForbiddenWithoutPrivilege(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/proposals", bytes.NewBufferString(`{"mutation_name":"mutate_dns"}`))
	req = withIdentity(req, "identity:bob")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProposeApproveExecute_EndToEnd(t *testing.T) {
	s := newTestServer(t)

	proposeReq := httptest.NewRequest(http.MethodPost, "/v1/proposals", bytes.NewBufferString(`{"mutation_name":"mutate_dns","payload":{"zone":"example.com"}}`))
	proposeReq = withIdentity(proposeReq, "identity:alice")
	proposeRec := httptest.NewRecorder()
	s.Router().ServeHTTP(proposeRec, proposeReq)
	require.Equal(t, http.StatusCreated, proposeRec.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, decodeJSON(proposeRec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	approveReq := httptest.NewRequest(http.MethodPost, "/v1/proposals/"+created.ID+"/approve", nil)
	approveReq = withIdentity(approveReq, "identity:alice")
	approveRec := httptest.NewRecorder()
	s.Router().ServeHTTP(approveRec, approveReq)
	assert.Equal(t, http.StatusOK, approveRec.Code)

	// Step past the one-hour timelock before executing.
	s.Gate.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	executeReq := httptest.NewRequest(http.MethodPost, "/v1/proposals/"+created.ID+"/execute", nil)
	executeReq = withIdentity(executeReq, "identity:alice")
	executeRec := httptest.NewRecorder()
	s.Router().ServeHTTP(executeRec, executeReq)
	assert.Equal(t, http.StatusOK, executeRec.Code)

	var executed struct {
		Status string `json:"status"`
	}
	require.NoError(t, decodeJSON(executeRec.Body.Bytes(), &executed))
	assert.Equal(t, "EXECUTED", executed.Status)
}

func TestGetHasPrivilege(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/privileges/identity:alice/mutate_dns", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		HasPrivilege bool `json:"has_privilege"`
	}
	require.NoError(t, decodeJSON(rec.Body.Bytes(), &body))
	assert.True(t, body.HasPrivilege)
}

func decodeJSON(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
