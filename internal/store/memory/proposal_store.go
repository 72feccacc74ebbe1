// Package memory implements an in-process Store used by unit tests that do
// not need a real Postgres instance.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/axiomgate/governor/internal/proposal"
)

type record struct {
	mu sync.Mutex
	p  *proposal.Proposal
}

// ProposalStore is a lock-per-proposal in-memory implementation of
// proposal.Store, mirroring the per-identity mutex pattern the teacher uses
// in its rate limiter (pkg/ratelimit.InMemoryLimiter) but keyed by
// proposal id instead of identity.
type ProposalStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

func NewProposalStore() *ProposalStore {
	return &ProposalStore{records: make(map[string]*record)}
}

func (s *ProposalStore) Create(ctx context.Context, p *proposal.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[p.ID]; exists {
		return proposal.ErrAlreadyTerminal
	}
	s.records[p.ID] = &record{p: p.Clone()}
	return nil
}

func (s *ProposalStore) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *ProposalStore) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, proposal.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p.Clone(), nil
}

func (s *ProposalStore) List(ctx context.Context, filter proposal.Filter) ([]*proposal.Proposal, error) {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	out := make([]*proposal.Proposal, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		p := r.p
		if filter.Matches(p) {
			out = append(out, p.Clone())
		}
		r.mu.Unlock()
	}
	return out, nil
}

func (s *ProposalStore) Approve(ctx context.Context, id, identity string, now time.Time) (*proposal.Proposal, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, proposal.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if proposal.IsTerminal(r.p.Status) {
		return nil, proposal.ErrAlreadyTerminal
	}
	r.p.AddApproval(identity)
	r.p.Status = proposal.NextAfterApproval(r.p, now)
	return r.p.Clone(), nil
}

func (s *ProposalStore) BeginExecute(ctx context.Context, id string, now time.Time) (*proposal.Proposal, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, proposal.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.p.Status == proposal.Executing {
		return nil, proposal.ErrInProgress
	}
	if err := proposal.CanExecute(r.p, now); err != nil {
		return nil, err
	}
	r.p.Status = proposal.Executing
	return r.p.Clone(), nil
}

func (s *ProposalStore) FinishExecute(ctx context.Context, id string, status proposal.Status, outcome proposal.Outcome) (*proposal.Proposal, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, proposal.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !proposal.CanTransition(r.p.Status, status) && r.p.Status != status {
		return nil, proposal.ErrInvalidTransition
	}
	r.p.Status = status
	r.p.Outcome = &outcome
	return r.p.Clone(), nil
}

func (s *ProposalStore) RecoverStuckExecuting(ctx context.Context, olderThan time.Time) ([]*proposal.Proposal, error) {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	var out []*proposal.Proposal
	for _, r := range recs {
		r.mu.Lock()
		if r.p.Status == proposal.Executing && r.p.ProposedAt.Before(olderThan) {
			out = append(out, r.p.Clone())
		}
		r.mu.Unlock()
	}
	return out, nil
}
