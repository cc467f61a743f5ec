// Package docstore implements the document store adapter over GORM. It owns
// persistence only; every mutation rule lives in the docs pipeline.
package docstore

// Models lists the GORM models the adapter persists, for schema migration.
func Models() []any {
	return []any{&storedDocument{}, &storedPatch{}}
}

// storedDocument is the persisted layout of a document record. The envelope
// fields live directly on the row; domain fields are serialized JSON.
type storedDocument struct {
	DocType             string `gorm:"column:doc_type;primaryKey;size:190;not null"`
	PartitionKey        string `gorm:"column:partition_key;primaryKey;size:190;not null"`
	DocID               string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	FieldsJSON          string `gorm:"column:fields_json;type:text;not null"`
	DocVersion          string `gorm:"column:doc_version;size:190;not null"`
	DocOpIDsJSON        string `gorm:"column:doc_op_ids_json;type:text;not null;default:'[]'"`
	DocDigestsJSON      string `gorm:"column:doc_digests_json;type:text;not null;default:'[]'"`
	DocSyncNeeded       bool   `gorm:"column:doc_sync_needed;not null;default:false;index:idx_documents_sync_needed"`
	DocArchived         bool   `gorm:"column:doc_archived;not null;default:false"`
	CreatedMillis       int64  `gorm:"column:created_ms;not null"`
	CreatedByUserID     string `gorm:"column:created_by;size:190;not null;default:''"`
	LastUpdatedMillis   int64  `gorm:"column:last_updated_ms;not null"`
	LastUpdatedByUserID string `gorm:"column:last_updated_by;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (storedDocument) TableName() string {
	return "documents"
}

// storedPatch is one append-only audit row. RowID preserves creation order
// for range queries.
type storedPatch struct {
	RowID          int64  `gorm:"column:row_id;primaryKey;autoIncrement"`
	PatchID        string `gorm:"column:patch_id;size:190;not null;uniqueIndex:idx_patches_patch_id"`
	OperationID    string `gorm:"column:operation_id;size:190;not null"`
	PartitionKey   string `gorm:"column:partition_key;size:190;not null;index:idx_patches_doc,priority:1"`
	PatchedDocID   string `gorm:"column:patched_doc_id;size:190;not null;index:idx_patches_doc,priority:2"`
	PatchedDocType string `gorm:"column:patched_doc_type;size:190;not null"`
	PatchJSON      string `gorm:"column:patch_json;type:text;not null"`
	CreatedMillis  int64  `gorm:"column:created_ms;not null"`
	CreatedBy      string `gorm:"column:created_by;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (storedPatch) TableName() string {
	return "document_patches"
}
