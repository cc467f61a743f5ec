package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/quartzline/docforge/internal/docs"
	"github.com/quartzline/docforge/internal/doctypes"
)

func newIntegrationService(t *testing.T) *docs.Service {
	t.Helper()
	registry := doctypes.NewRegistry()
	docType, err := doctypes.NewType("profile", doctypes.Policy{
		CanDeleteDocuments: true,
	}, []string{"name"})
	if err != nil {
		t.Fatalf("failed to build document type: %v", err)
	}
	if err := registry.Register(docType); err != nil {
		t.Fatalf("failed to register document type: %v", err)
	}

	service, err := docs.NewService(docs.ServiceConfig{
		Store: newTestStore(t),
		Types: registry,
		Clock: func() time.Time { return time.UnixMilli(1700000000000).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestPipelineOverSQLiteAppliesAndReplaysPatch(t *testing.T) {
	service := newIntegrationService(t)
	ctx := context.Background()

	constructed, err := service.Construct(ctx, docs.ConstructRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
		Fields: map[string]any{"name": "Ada", "city": "London"},
		UserID: "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected construct error: %v", err)
	}
	if !constructed.IsNew {
		t.Fatalf("expected a fresh record")
	}

	patched, err := service.Patch(ctx, docs.PatchRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
		OperationID: "op-1",
		Patch:       docs.PatchBody{"name": "Grace"},
		UserID:      "user-2",
	})
	if err != nil {
		t.Fatalf("unexpected patch error: %v", err)
	}
	if !patched.IsUpdated || patched.Doc.Fields["name"] != "Grace" {
		t.Fatalf("unexpected patch outcome: %#v", patched)
	}
	if patched.Doc.DocVersion == constructed.Doc.DocVersion {
		t.Fatalf("the patch must mint a fresh version")
	}

	replay, err := service.Patch(ctx, docs.PatchRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
		OperationID: "op-1",
		Patch:       docs.PatchBody{"name": "Replayed"},
		UserID:      "user-2",
	})
	if err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}
	if replay.IsUpdated {
		t.Fatalf("the replayed op id must be a no-op")
	}
	if replay.Doc.DocVersion != patched.Doc.DocVersion {
		t.Fatalf("replay must not advance the version")
	}

	audit, err := service.Patches(ctx, "p1", "doc-1", 0, 10)
	if err != nil {
		t.Fatalf("unexpected audit fetch error: %v", err)
	}
	if len(audit) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(audit))
	}
	if audit[0].Patch["name"] != "Grace" {
		t.Fatalf("unexpected audit payload: %#v", audit[0].Patch)
	}
}

func TestPipelineOverSQLiteDrainsSyncLedger(t *testing.T) {
	service := newIntegrationService(t)
	ctx := context.Background()

	if _, err := service.Construct(ctx, docs.ConstructRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
		Fields: map[string]any{"name": "Ada"}, UserID: "user-1",
	}); err != nil {
		t.Fatalf("unexpected construct error: %v", err)
	}

	headers, err := service.SelectPendingSync(ctx, "profile", nil)
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(headers) != 1 {
		t.Fatalf("expected one pending record, got %d", len(headers))
	}
	scanned := headers[0]

	// A mutation after the scan leaves the stale req version a no-op.
	if _, err := service.Patch(ctx, docs.PatchRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
		OperationID: "op-1", Patch: docs.PatchBody{"name": "Grace"}, UserID: "user-1",
	}); err != nil {
		t.Fatalf("unexpected patch error: %v", err)
	}
	if err := service.MarkSynced(ctx, scanned.DocType, scanned.ID, scanned.Partition, scanned.DocVersion, nil); err != nil {
		t.Fatalf("a stale req version must be a silent no-op, got %v", err)
	}

	headers, err = service.SelectPendingSync(ctx, "profile", nil)
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(headers) != 1 {
		t.Fatalf("the newer state must stay flagged, got %d headers", len(headers))
	}

	if err := service.MarkSynced(ctx, headers[0].DocType, headers[0].ID, headers[0].Partition, headers[0].DocVersion, nil); err != nil {
		t.Fatalf("unexpected mark synced error: %v", err)
	}
	headers, err = service.SelectPendingSync(ctx, "profile", nil)
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(headers) != 0 {
		t.Fatalf("expected the ledger drained, got %#v", headers)
	}
}

func TestPipelineOverSQLiteDeletesRecord(t *testing.T) {
	service := newIntegrationService(t)
	ctx := context.Background()

	if _, err := service.Construct(ctx, docs.ConstructRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
		Fields: map[string]any{"name": "Ada"}, UserID: "user-1",
	}); err != nil {
		t.Fatalf("unexpected construct error: %v", err)
	}

	deleted, err := service.Delete(ctx, docs.DeleteRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1", UserID: "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if !deleted.IsDeleted {
		t.Fatalf("expected the record removed")
	}

	result, err := service.SelectByID(ctx, docs.SelectRequest{
		DocTypeName: "profile", Partition: "p1", ID: "doc-1",
	})
	if err != nil {
		t.Fatalf("unexpected select error: %v", err)
	}
	if result.Doc != nil {
		t.Fatalf("expected the record gone, got %#v", result.Doc)
	}
}
