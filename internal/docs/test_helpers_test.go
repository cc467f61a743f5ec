package docs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quartzline/docforge/internal/doctypes"
)

func mustDocID(t *testing.T, value string) DocID {
	t.Helper()
	id, err := NewDocID(value)
	if err != nil {
		t.Fatalf("unexpected doc id error: %v", err)
	}
	return id
}

func mustPartition(t *testing.T, value string) Partition {
	t.Helper()
	partition, err := NewPartition(value)
	if err != nil {
		t.Fatalf("unexpected partition error: %v", err)
	}
	return partition
}

func mustOperationID(t *testing.T, value string) OperationID {
	t.Helper()
	id, err := NewOperationID(value)
	if err != nil {
		t.Fatalf("unexpected operation id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustType(t *testing.T, name string, policy doctypes.Policy, fieldNames []string) doctypes.Type {
	t.Helper()
	docType, err := doctypes.NewType(name, policy, fieldNames)
	if err != nil {
		t.Fatalf("unexpected document type error: %v", err)
	}
	return docType
}

// sequenceVersionProvider mints v1, v2, ... so tests can assert on exact
// version tokens.
type sequenceVersionProvider struct {
	counter int
}

func (p *sequenceVersionProvider) NextVersion(string) (string, error) {
	p.counter++
	return fmt.Sprintf("v%d", p.counter), nil
}

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type captureEmitter struct {
	events  []ChangeEvent
	failure error
}

func (e *captureEmitter) EmitChange(_ context.Context, event ChangeEvent) error {
	if e.failure != nil {
		return e.failure
	}
	e.events = append(e.events, event)
	return nil
}

// memStore is an in-memory docs.Store with the same guard semantics as the
// production adapter. afterFetch, when set, runs after every Fetch so tests
// can interleave a concurrent writer between read and guarded write.
type memStore struct {
	records    map[string]Document
	patches    []PatchRecord
	afterFetch func()
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Document)}
}

func storeKey(docTypeName, partition, id string) string {
	return docTypeName + "/" + partition + "/" + id
}

func (s *memStore) Fetch(_ context.Context, docTypeName, partition, id string, _ StoreOptions) (FetchResult, error) {
	record, exists := s.records[storeKey(docTypeName, partition, id)]
	if s.afterFetch != nil {
		defer s.afterFetch()
	}
	if !exists {
		return FetchResult{QueryCost: 1}, nil
	}
	copied := record.Clone()
	return FetchResult{Doc: &copied, QueryCost: 1}, nil
}

func (s *memStore) UpsertNew(_ context.Context, record Document, _ StoreOptions) error {
	key := storeKey(record.DocType, record.Partition, record.ID)
	if _, exists := s.records[key]; exists {
		return fmt.Errorf("%w: %s already exists", ErrVersionConflict, key)
	}
	s.records[key] = record.Clone()
	return nil
}

func (s *memStore) UpdateGuarded(_ context.Context, record Document, expectedVersion string, _ StoreOptions) error {
	key := storeKey(record.DocType, record.Partition, record.ID)
	existing, exists := s.records[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if existing.DocVersion != expectedVersion {
		return fmt.Errorf("%w: expected %s, stored %s", ErrVersionConflict, expectedVersion, existing.DocVersion)
	}
	s.records[key] = record.Clone()
	return nil
}

func (s *memStore) Delete(_ context.Context, docTypeName, partition, id string, _ StoreOptions) error {
	key := storeKey(docTypeName, partition, id)
	if _, exists := s.records[key]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.records, key)
	return nil
}

func (s *memStore) SelectByIDs(_ context.Context, docTypeName, partition string, ids []string, _ StoreOptions) (QueryResult, error) {
	matched := make([]Document, 0, len(ids))
	for _, id := range ids {
		if record, exists := s.records[storeKey(docTypeName, partition, id)]; exists {
			matched = append(matched, record.Clone())
		}
	}
	return QueryResult{Docs: matched, QueryCost: float64(len(ids))}, nil
}

func (s *memStore) SelectByFilter(_ context.Context, docTypeName, partition string, filter Filter, _ StoreOptions) (QueryResult, error) {
	matched := make([]Document, 0)
	for _, record := range s.records {
		if record.DocType != docTypeName || record.Partition != partition {
			continue
		}
		matches := true
		for fieldName, expected := range filter {
			if record.Fields[fieldName] != expected {
				matches = false
				break
			}
		}
		if matches {
			matched = append(matched, record.Clone())
		}
	}
	return QueryResult{Docs: matched, QueryCost: float64(len(s.records))}, nil
}

func (s *memStore) SelectAll(_ context.Context, docTypeName, partition string, _ StoreOptions) (QueryResult, error) {
	matched := make([]Document, 0)
	for _, record := range s.records {
		if record.DocType == docTypeName && record.Partition == partition {
			matched = append(matched, record.Clone())
		}
	}
	return QueryResult{Docs: matched, QueryCost: float64(len(matched))}, nil
}

func (s *memStore) SelectPendingSync(_ context.Context, docTypeName string, _ StoreOptions) (PendingSyncResult, error) {
	headers := make([]SyncHeader, 0)
	for _, record := range s.records {
		if record.DocType == docTypeName && record.DocSyncNeeded {
			headers = append(headers, SyncHeader{
				ID:         record.ID,
				Partition:  record.Partition,
				DocType:    record.DocType,
				DocVersion: record.DocVersion,
			})
		}
	}
	return PendingSyncResult{Headers: headers, QueryCost: float64(len(headers))}, nil
}

func (s *memStore) MarkSynced(_ context.Context, docTypeName, id, partition, reqVersion string, _ StoreOptions) error {
	key := storeKey(docTypeName, partition, id)
	existing, exists := s.records[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if existing.DocVersion != reqVersion {
		return fmt.Errorf("%w: expected %s, stored %s", ErrVersionConflict, reqVersion, existing.DocVersion)
	}
	existing.DocSyncNeeded = false
	s.records[key] = existing
	return nil
}

func (s *memStore) InsertPatch(_ context.Context, _ string, patch PatchRecord) error {
	s.patches = append(s.patches, patch)
	return nil
}

func (s *memStore) FetchPatches(_ context.Context, _ string, documentID string, from, limit int) ([]PatchRecord, error) {
	matched := make([]PatchRecord, 0)
	for _, patch := range s.patches {
		if patch.PatchedDocID == documentID {
			matched = append(matched, patch)
		}
	}
	if from >= len(matched) {
		return nil, nil
	}
	matched = matched[from:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type testServiceConfig struct {
	policy     doctypes.Policy
	fieldNames []string
	cacheTTL   time.Duration
}

func newTestService(t *testing.T, cfg testServiceConfig) (*Service, *memStore, *captureEmitter) {
	t.Helper()
	registry := doctypes.NewRegistry()
	if err := registry.Register(mustType(t, "profile", cfg.policy, cfg.fieldNames)); err != nil {
		t.Fatalf("failed to register document type: %v", err)
	}

	store := newMemStore()
	emitter := &captureEmitter{}
	baseTime := time.UnixMilli(1700000000000).UTC()

	service, err := NewService(ServiceConfig{
		Store:      store,
		Types:      registry,
		Emitter:    emitter,
		Cache:      NewRecordCache(cfg.cacheTTL, func() time.Time { return baseTime }),
		Clock:      func() time.Time { return baseTime },
		IDProvider: &staticIDGenerator{ids: []string{"patch-1", "patch-2", "patch-3", "patch-4"}},
		Versions:   &sequenceVersionProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, store, emitter
}
