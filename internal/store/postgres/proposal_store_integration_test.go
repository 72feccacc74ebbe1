//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/axiomgate/governor/internal/proposal"
)

// TestProposalStore_RealPostgres exercises Create/Get/Approve/BeginExecute/
// FinishExecute against a real Postgres container, grounded on the teacher's
// cmd/policy/integration_test.go container-boot-then-migrate shape.
//
// Run with: go test -tags=integration ./internal/store/postgres/...
func TestProposalStore_RealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("governor_test"),
		postgres.WithUsername("governor"),
		postgres.WithPassword("governor"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	if err := applyMigrations(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := NewProposalStore(pool)
	now := time.Now().UTC()
	p := &proposal.Proposal{
		ID:                "prop-1",
		MutationName:      "rotate_keys",
		Payload:           []byte(`{}`),
		Proposer:          "identity:alice",
		ProposedAt:        now,
		TimelockUntil:     now,
		RequiredApprovals: 1,
		Status:            proposal.Approved,
		IdempotencyKey:    "idem-1",
	}
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != proposal.Approved {
		t.Fatalf("status = %s, want APPROVED", got.Status)
	}

	if _, err := store.BeginExecute(ctx, p.ID, now); err != nil {
		t.Fatalf("begin execute: %v", err)
	}
	if _, err := store.BeginExecute(ctx, p.ID, now); err != proposal.ErrInProgress {
		t.Fatalf("second BeginExecute = %v, want ErrInProgress", err)
	}

	executed, err := store.FinishExecute(ctx, p.ID, proposal.Executed, proposal.Outcome{Kind: proposal.OutcomeOK, At: now})
	if err != nil {
		t.Fatalf("finish execute: %v", err)
	}
	if executed.Status != proposal.Executed {
		t.Fatalf("final status = %s, want EXECUTED", executed.Status)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, file, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return err
		}
	}
	return nil
}
