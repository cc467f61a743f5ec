package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/quartzline/docforge/internal/docs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryDocKey        = "doc_type = ? AND partition_key = ? AND doc_id = ?"
	queryDocKeyVersion = queryDocKey + " AND doc_version = ?"
	queryTypePartition = "doc_type = ? AND partition_key = ?"
	queryDocIDsIn      = queryTypePartition + " AND doc_id IN ?"
	queryPendingSync   = "doc_type = ? AND doc_sync_needed = ?"
	queryPatchesForDoc = "partition_key = ? AND patched_doc_id = ?"
	orderPatchRowAsc   = "row_id ASC"
)

var errMissingDatabase = errors.New("docstore: database handle is required")

// GormStore implements docs.Store over a GORM-managed database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a store adapter bound to the given database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

// Fetch reads one record. A miss reports a nil Doc, never an error.
func (store *GormStore) Fetch(ctx context.Context, docTypeName, partition, id string, _ docs.StoreOptions) (docs.FetchResult, error) {
	var row storedDocument
	err := store.db.WithContext(ctx).
		Where(queryDocKey, docTypeName, partition, id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return docs.FetchResult{QueryCost: 1}, nil
	}
	if err != nil {
		return docs.FetchResult{}, err
	}
	record, decodeErr := decodeDocument(row)
	if decodeErr != nil {
		return docs.FetchResult{}, decodeErr
	}
	return docs.FetchResult{Doc: &record, QueryCost: 1}, nil
}

// UpsertNew inserts a fresh record, reporting ErrVersionConflict when a row
// with the same key already exists.
func (store *GormStore) UpsertNew(ctx context.Context, record docs.Document, _ docs.StoreOptions) error {
	row, err := encodeDocument(record)
	if err != nil {
		return err
	}
	createResult := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if createResult.Error != nil {
		return createResult.Error
	}
	if createResult.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s already exists", docs.ErrVersionConflict, record.Partition, record.ID)
	}
	return nil
}

// UpdateGuarded overwrites the record only while the stored version still
// equals expectedVersion. Zero rows affected means either the guard failed or
// the record is gone; a follow-up read distinguishes the two.
func (store *GormStore) UpdateGuarded(ctx context.Context, record docs.Document, expectedVersion string, _ docs.StoreOptions) error {
	row, err := encodeDocument(record)
	if err != nil {
		return err
	}
	updateResult := store.db.WithContext(ctx).
		Model(&storedDocument{}).
		Where(queryDocKeyVersion, record.DocType, record.Partition, record.ID, expectedVersion).
		Select("*").
		Updates(row)
	if updateResult.Error != nil {
		return updateResult.Error
	}
	if updateResult.RowsAffected > 0 {
		return nil
	}

	var existing storedDocument
	lookupErr := store.db.WithContext(ctx).
		Where(queryDocKey, record.DocType, record.Partition, record.ID).
		Take(&existing).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s/%s", docs.ErrNotFound, record.Partition, record.ID)
	}
	if lookupErr != nil {
		return lookupErr
	}
	return fmt.Errorf("%w: expected %s, stored %s", docs.ErrVersionConflict, expectedVersion, existing.DocVersion)
}

// Delete hard-removes the record.
func (store *GormStore) Delete(ctx context.Context, docTypeName, partition, id string, _ docs.StoreOptions) error {
	deleteResult := store.db.WithContext(ctx).
		Where(queryDocKey, docTypeName, partition, id).
		Delete(&storedDocument{})
	if deleteResult.Error != nil {
		return deleteResult.Error
	}
	if deleteResult.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", docs.ErrNotFound, partition, id)
	}
	return nil
}

// SelectByIDs returns the records matching ids within a partition.
func (store *GormStore) SelectByIDs(ctx context.Context, docTypeName, partition string, ids []string, _ docs.StoreOptions) (docs.QueryResult, error) {
	if len(ids) == 0 {
		return docs.QueryResult{}, nil
	}
	var rows []storedDocument
	err := store.db.WithContext(ctx).
		Where(queryDocIDsIn, docTypeName, partition, ids).
		Find(&rows).Error
	if err != nil {
		return docs.QueryResult{}, err
	}
	return decodeDocuments(rows, float64(len(ids)))
}

// SelectByFilter returns the records whose fields match every filter entry.
// Domain fields are serialized JSON, so filtering happens after the scan and
// the query cost reflects the rows scanned, not the rows returned.
func (store *GormStore) SelectByFilter(ctx context.Context, docTypeName, partition string, filter docs.Filter, _ docs.StoreOptions) (docs.QueryResult, error) {
	var rows []storedDocument
	err := store.db.WithContext(ctx).
		Where(queryTypePartition, docTypeName, partition).
		Find(&rows).Error
	if err != nil {
		return docs.QueryResult{}, err
	}

	matched := make([]docs.Document, 0, len(rows))
	for _, row := range rows {
		record, decodeErr := decodeDocument(row)
		if decodeErr != nil {
			return docs.QueryResult{}, decodeErr
		}
		if matchesFilter(record.Fields, filter) {
			matched = append(matched, record)
		}
	}
	return docs.QueryResult{Docs: matched, QueryCost: float64(len(rows))}, nil
}

// SelectAll returns every record of the type within a partition.
func (store *GormStore) SelectAll(ctx context.Context, docTypeName, partition string, _ docs.StoreOptions) (docs.QueryResult, error) {
	var rows []storedDocument
	err := store.db.WithContext(ctx).
		Where(queryTypePartition, docTypeName, partition).
		Find(&rows).Error
	if err != nil {
		return docs.QueryResult{}, err
	}
	return decodeDocuments(rows, float64(len(rows)))
}

// SelectPendingSync returns lightweight headers for records awaiting
// propagation.
func (store *GormStore) SelectPendingSync(ctx context.Context, docTypeName string, _ docs.StoreOptions) (docs.PendingSyncResult, error) {
	var rows []storedDocument
	err := store.db.WithContext(ctx).
		Select("doc_type", "partition_key", "doc_id", "doc_version").
		Where(queryPendingSync, docTypeName, true).
		Find(&rows).Error
	if err != nil {
		return docs.PendingSyncResult{}, err
	}
	headers := make([]docs.SyncHeader, 0, len(rows))
	for _, row := range rows {
		headers = append(headers, docs.SyncHeader{
			ID:         row.DocID,
			Partition:  row.PartitionKey,
			DocType:    row.DocType,
			DocVersion: row.DocVersion,
		})
	}
	return docs.PendingSyncResult{Headers: headers, QueryCost: float64(len(rows))}, nil
}

// MarkSynced clears the pending-sync flag while the stored version still
// equals reqVersion. A stale reqVersion reports ErrVersionConflict so the
// ledger can treat it as a silent no-op.
func (store *GormStore) MarkSynced(ctx context.Context, docTypeName, id, partition, reqVersion string, _ docs.StoreOptions) error {
	updateResult := store.db.WithContext(ctx).
		Model(&storedDocument{}).
		Where(queryDocKeyVersion, docTypeName, partition, id, reqVersion).
		Update("doc_sync_needed", false)
	if updateResult.Error != nil {
		return updateResult.Error
	}
	if updateResult.RowsAffected > 0 {
		return nil
	}

	var existing storedDocument
	lookupErr := store.db.WithContext(ctx).
		Where(queryDocKey, docTypeName, partition, id).
		Take(&existing).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s/%s", docs.ErrNotFound, partition, id)
	}
	if lookupErr != nil {
		return lookupErr
	}
	return fmt.Errorf("%w: expected %s, stored %s", docs.ErrVersionConflict, reqVersion, existing.DocVersion)
}

// InsertPatch appends one audit record.
func (store *GormStore) InsertPatch(ctx context.Context, partition string, patch docs.PatchRecord) error {
	patchJSON, err := json.Marshal(patch.Patch)
	if err != nil {
		return err
	}
	row := storedPatch{
		PatchID:        patch.ID,
		OperationID:    patch.OperationID,
		PartitionKey:   partition,
		PatchedDocID:   patch.PatchedDocID,
		PatchedDocType: patch.PatchedDocType,
		PatchJSON:      string(patchJSON),
		CreatedMillis:  patch.DocCreatedMillisecondsSinceEpoch,
		CreatedBy:      patch.DocCreatedByUserID,
	}
	return store.db.WithContext(ctx).Create(&row).Error
}

// FetchPatches returns audit records for a document in creation order,
// skipping from rows and returning at most limit.
func (store *GormStore) FetchPatches(ctx context.Context, partition, documentID string, from, limit int) ([]docs.PatchRecord, error) {
	if from < 0 {
		from = 0
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []storedPatch
	err := store.db.WithContext(ctx).
		Where(queryPatchesForDoc, partition, documentID).
		Order(orderPatchRowAsc).
		Offset(from).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]docs.PatchRecord, 0, len(rows))
	for _, row := range rows {
		var patchFields map[string]any
		if decodeErr := json.Unmarshal([]byte(row.PatchJSON), &patchFields); decodeErr != nil {
			return nil, decodeErr
		}
		records = append(records, docs.PatchRecord{
			ID:                               row.PatchID,
			OperationID:                      row.OperationID,
			PatchedDocID:                     row.PatchedDocID,
			PatchedDocType:                   row.PatchedDocType,
			Patch:                            patchFields,
			DocCreatedMillisecondsSinceEpoch: row.CreatedMillis,
			DocCreatedByUserID:               row.CreatedBy,
		})
	}
	return records, nil
}

func encodeDocument(record docs.Document) (storedDocument, error) {
	fieldsJSON, err := json.Marshal(record.Fields)
	if err != nil {
		return storedDocument{}, err
	}
	opIDsJSON, err := json.Marshal(emptyIfNil(record.DocOpIDs))
	if err != nil {
		return storedDocument{}, err
	}
	digestsJSON, err := json.Marshal(emptyIfNil(record.DocDigests))
	if err != nil {
		return storedDocument{}, err
	}
	return storedDocument{
		DocType:             record.DocType,
		PartitionKey:        record.Partition,
		DocID:               record.ID,
		FieldsJSON:          string(fieldsJSON),
		DocVersion:          record.DocVersion,
		DocOpIDsJSON:        string(opIDsJSON),
		DocDigestsJSON:      string(digestsJSON),
		DocSyncNeeded:       record.DocSyncNeeded,
		DocArchived:         record.DocArchived,
		CreatedMillis:       record.CreatedMillis,
		CreatedByUserID:     record.CreatedByUserID,
		LastUpdatedMillis:   record.LastUpdatedMillis,
		LastUpdatedByUserID: record.LastUpdatedByUserID,
	}, nil
}

func decodeDocument(row storedDocument) (docs.Document, error) {
	var fields map[string]any
	if row.FieldsJSON != "" {
		if err := json.Unmarshal([]byte(row.FieldsJSON), &fields); err != nil {
			return docs.Document{}, err
		}
	}
	var opIDs []string
	if row.DocOpIDsJSON != "" {
		if err := json.Unmarshal([]byte(row.DocOpIDsJSON), &opIDs); err != nil {
			return docs.Document{}, err
		}
	}
	var digests []string
	if row.DocDigestsJSON != "" {
		if err := json.Unmarshal([]byte(row.DocDigestsJSON), &digests); err != nil {
			return docs.Document{}, err
		}
	}
	return docs.Document{
		ID:                  row.DocID,
		Partition:           row.PartitionKey,
		DocType:             row.DocType,
		Fields:              fields,
		DocVersion:          row.DocVersion,
		DocOpIDs:            opIDs,
		DocDigests:          digests,
		DocSyncNeeded:       row.DocSyncNeeded,
		DocArchived:         row.DocArchived,
		CreatedMillis:       row.CreatedMillis,
		CreatedByUserID:     row.CreatedByUserID,
		LastUpdatedMillis:   row.LastUpdatedMillis,
		LastUpdatedByUserID: row.LastUpdatedByUserID,
	}, nil
}

func decodeDocuments(rows []storedDocument, queryCost float64) (docs.QueryResult, error) {
	records := make([]docs.Document, 0, len(rows))
	for _, row := range rows {
		record, err := decodeDocument(row)
		if err != nil {
			return docs.QueryResult{}, err
		}
		records = append(records, record)
	}
	return docs.QueryResult{Docs: records, QueryCost: queryCost}, nil
}

func matchesFilter(fields map[string]any, filter docs.Filter) bool {
	for fieldName, expected := range filter {
		actual, exists := fields[fieldName]
		if !exists {
			return false
		}
		if !reflect.DeepEqual(actual, expected) {
			return false
		}
	}
	return true
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
