package syncworker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/quartzline/docforge/internal/docs"
	"github.com/quartzline/docforge/internal/docstore"
	"github.com/quartzline/docforge/internal/doctypes"
	"gorm.io/gorm"
)

type recordingPropagator struct {
	headers []docs.SyncHeader
	failure error
}

func (p *recordingPropagator) Propagate(_ context.Context, header docs.SyncHeader) error {
	if p.failure != nil {
		return p.failure
	}
	p.headers = append(p.headers, header)
	return nil
}

func newWorkerFixture(t *testing.T, propagator Propagator) (*Worker, *docs.Service) {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "worker.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(docstore.Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := docstore.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	registry := doctypes.NewRegistry()
	docType, err := doctypes.NewType("profile", doctypes.Policy{}, nil)
	if err != nil {
		t.Fatalf("failed to build document type: %v", err)
	}
	if err := registry.Register(docType); err != nil {
		t.Fatalf("failed to register document type: %v", err)
	}

	service, err := docs.NewService(docs.ServiceConfig{
		Store: store,
		Types: registry,
		Clock: func() time.Time { return time.UnixMilli(1700000000000).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Service:      service,
		Propagator:   propagator,
		DocTypeNames: registry.Names(),
	})
	if err != nil {
		t.Fatalf("failed to construct worker: %v", err)
	}
	return worker, service
}

func TestDrainOncePropagatesAndClearsFlag(t *testing.T) {
	propagator := &recordingPropagator{}
	worker, service := newWorkerFixture(t, propagator)
	ctx := context.Background()

	if _, err := service.Construct(ctx, docs.ConstructRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
		Fields: map[string]any{"name": "Ada"}, UserID: "user-1",
	}); err != nil {
		t.Fatalf("unexpected construct error: %v", err)
	}

	worker.DrainOnce(ctx)

	if len(propagator.headers) != 1 {
		t.Fatalf("expected one propagated header, got %d", len(propagator.headers))
	}
	if propagator.headers[0].ID != "doc-1" {
		t.Fatalf("unexpected header: %#v", propagator.headers[0])
	}

	pending, err := service.SelectPendingSync(ctx, "profile", nil)
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the ledger drained, got %#v", pending)
	}
}

func TestDrainOnceLeavesFlagOnPropagationFailure(t *testing.T) {
	propagator := &recordingPropagator{failure: errors.New("secondary unavailable")}
	worker, service := newWorkerFixture(t, propagator)
	ctx := context.Background()

	if _, err := service.Construct(ctx, docs.ConstructRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
		Fields: map[string]any{"name": "Ada"}, UserID: "user-1",
	}); err != nil {
		t.Fatalf("unexpected construct error: %v", err)
	}

	worker.DrainOnce(ctx)

	pending, err := service.SelectPendingSync(ctx, "profile", nil)
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("a failed propagation must leave the record flagged, got %#v", pending)
	}

	// The next scan retries once the secondary recovers.
	propagator.failure = nil
	worker.DrainOnce(ctx)

	pending, err = service.SelectPendingSync(ctx, "profile", nil)
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the retry to drain the ledger, got %#v", pending)
	}
}

func TestNewWorkerRequiresCollaborators(t *testing.T) {
	if _, err := NewWorker(WorkerConfig{}); err == nil {
		t.Fatalf("expected a configuration error")
	}
	if _, err := NewWorker(WorkerConfig{Propagator: &recordingPropagator{}}); err == nil {
		t.Fatalf("expected a missing service error")
	}
}
