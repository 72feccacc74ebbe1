// Package httpapi exposes the gate's six abstract operations (§6) over
// HTTP/JSON with chi, adapted from the teacher's cmd/policy Server/route
// table shape: a thin Server struct, handlers that take the caller identity
// from the request context, a consistent httpx.WriteJSON/Error response
// convention.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/axiomgate/governor/internal/gate"
	"github.com/axiomgate/governor/internal/httpx"
	"github.com/axiomgate/governor/internal/identity"
	"github.com/axiomgate/governor/internal/proposal"
)

type Server struct {
	Gate *gate.Gate
}

func NewServer(g *gate.Gate) *Server {
	return &Server{Gate: g}
}

// Router assembles the chi route table for the gate's inbound surface.
// Callers mount it behind whatever transport middleware (telemetry, CORS,
// security headers, identity extraction) the process wires in.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/v1/policy", s.getPolicy)
	r.Get("/v1/privileges/{identity}/{privilege}", s.getHasPrivilege)
	r.Post("/v1/proposals", s.postPropose)
	r.Get("/v1/proposals", s.getProposals)
	r.Get("/v1/proposals/{id}", s.getProposal)
	r.Post("/v1/proposals/{id}/approve", s.postApprove)
	r.Post("/v1/proposals/{id}/execute", s.postExecute)
	r.Get("/healthz", s.getHealthz)
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "governor"})
}

// getPolicy is the policy() operation.
func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	snap := s.Gate.PolicyView()
	if snap == nil {
		httpx.Error(w, http.StatusInternalServerError, "no active policy snapshot")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"version":     snap.Doc.Version,
		"loaded_at":   snap.LoadedAt,
		"development": snap.Development,
		"mutations":   snap.Doc.Mutations,
		"roles":       snap.Doc.Roles,
		"crypto":      snap.Doc.Crypto,
	})
}

// getHasPrivilege is the hasPrivilege(identity, privilege) operation.
func (s *Server) getHasPrivilege(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identity")
	privilege := chi.URLParam(r, "privilege")
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"has_privilege": s.Gate.HasPrivilege(id, privilege)})
}

type proposeRequest struct {
	MutationName string          `json:"mutation_name"`
	Payload      json.RawMessage `json:"payload"`
}

// postPropose is the proposeMutation(mutation_name, payload) operation.
func (s *Server) postPropose(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeDenial(w, &gate.Denial{Kind: gate.Unauthenticated, Message: "no verified identity on request"})
		return
	}
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	payload, err := gate.DecodePayload(req.Payload)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid payload")
		return
	}
	p, err := s.Gate.Propose(r.Context(), id.String(), strings.TrimSpace(req.MutationName), payload, req.Payload)
	if err != nil {
		writeGateErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

// postApprove is the approveMutation(proposal_id) operation. The caller
// identity is implicit from the request context, never from the body.
func (s *Server) postApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeDenial(w, &gate.Denial{Kind: gate.Unauthenticated, Message: "no verified identity on request"})
		return
	}
	proposalID := chi.URLParam(r, "id")
	p, err := s.Gate.Approve(r.Context(), id.String(), proposalID)
	if err != nil {
		writeGateErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// postExecute is the executeMutation(proposal_id) operation.
func (s *Server) postExecute(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeDenial(w, &gate.Denial{Kind: gate.Unauthenticated, Message: "no verified identity on request"})
		return
	}
	proposalID := chi.URLParam(r, "id")
	p, err := s.Gate.Execute(r.Context(), id.String(), proposalID)
	if err != nil {
		writeGateErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "id")
	p, err := s.Gate.Get(r.Context(), proposalID)
	if err != nil {
		writeGateErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// getProposals is the proposals(filter?) operation.
func (s *Server) getProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := proposal.Filter{
		Status:       proposal.Status(strings.ToUpper(q.Get("status"))),
		Proposer:     q.Get("proposer"),
		MutationName: q.Get("mutation_name"),
	}
	list, err := s.Gate.Proposals(r.Context(), filter)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func writeGateErr(w http.ResponseWriter, err error) {
	if d, ok := gate.AsDenial(err); ok {
		writeDenial(w, d)
		return
	}
	httpx.Error(w, http.StatusInternalServerError, "internal error")
}

func writeDenial(w http.ResponseWriter, d *gate.Denial) {
	httpx.WriteJSON(w, statusForKind(d.Kind), map[string]string{"kind": string(d.Kind), "message": d.Message})
}

func statusForKind(kind gate.Kind) int {
	switch kind {
	case gate.Unauthenticated:
		return http.StatusUnauthorized
	case gate.Forbidden, gate.ConsentDenied:
		return http.StatusForbidden
	case gate.RateLimited:
		return http.StatusTooManyRequests
	case gate.UnknownMutation, gate.NotFound:
		return http.StatusNotFound
	case gate.TimelockActive, gate.AlreadyTerminal, gate.PolicyChanged:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
