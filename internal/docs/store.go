package docs

import "context"

// StoreOptions carries store-specific knobs through the adapter boundary
// without the core depending on any concrete store.
type StoreOptions map[string]any

// Filter is a field-equality filter evaluated by the store adapter. Richer
// query languages stay outside the core.
type Filter map[string]any

// FetchResult reports a single-record read and its relative query cost.
type FetchResult struct {
	Doc       *Document
	QueryCost float64
}

// QueryResult reports a multi-record read and its relative query cost.
type QueryResult struct {
	Docs      []Document
	QueryCost float64
}

// PendingSyncResult reports a pending-sync scan and its relative query cost.
type PendingSyncResult struct {
	Headers   []SyncHeader
	QueryCost float64
}

// Store is the document store adapter boundary. Implementations own network
// calls, query execution and partitioning; the core owns every mutation rule.
//
// UpsertNew must fail with ErrVersionConflict when a record with the same id
// already exists. UpdateGuarded must commit only while the stored version
// still equals expectedVersion, reporting ErrVersionConflict otherwise and
// ErrNotFound when the record is missing. MarkSynced clears the sync flag
// only when the stored version still equals reqVersion; a mismatch is a
// silent no-op so the newer state stays flagged for propagation.
type Store interface {
	Fetch(ctx context.Context, docTypeName, partition, id string, options StoreOptions) (FetchResult, error)
	UpsertNew(ctx context.Context, record Document, options StoreOptions) error
	UpdateGuarded(ctx context.Context, record Document, expectedVersion string, options StoreOptions) error
	Delete(ctx context.Context, docTypeName, partition, id string, options StoreOptions) error
	SelectByIDs(ctx context.Context, docTypeName, partition string, ids []string, options StoreOptions) (QueryResult, error)
	SelectByFilter(ctx context.Context, docTypeName, partition string, filter Filter, options StoreOptions) (QueryResult, error)
	SelectAll(ctx context.Context, docTypeName, partition string, options StoreOptions) (QueryResult, error)
	SelectPendingSync(ctx context.Context, docTypeName string, options StoreOptions) (PendingSyncResult, error)
	MarkSynced(ctx context.Context, docTypeName, id, partition, reqVersion string, options StoreOptions) error
	InsertPatch(ctx context.Context, partition string, patch PatchRecord) error
	FetchPatches(ctx context.Context, partition, documentID string, from, limit int) ([]PatchRecord, error)
}

// ChangeEmitter receives derived change events. Delivery is at-least-once:
// the pipeline reports the mutation successful even when emission fails and
// leaves retry to the emitter implementation.
type ChangeEmitter interface {
	EmitChange(ctx context.Context, event ChangeEvent) error
}
