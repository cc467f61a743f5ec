// Package docs implements the document mutation pipeline: versioned record
// handling, idempotent retries, patch application, change-event derivation,
// and the synchronization ledger consumed by propagation workers.
package docs

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocID = errors.New("docs: invalid document id")
	// ErrInvalidPartition indicates that a partition key is empty or exceeds storage bounds.
	ErrInvalidPartition = errors.New("docs: invalid partition")
	// ErrInvalidOperationID indicates that an operation identifier is empty or exceeds storage bounds.
	ErrInvalidOperationID = errors.New("docs: invalid operation id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("docs: invalid user id")

	// ErrNotFound indicates that no record exists for the requested id and partition.
	ErrNotFound = errors.New("docs: document not found")
	// ErrVersionConflict indicates that a guarded write lost the race against a concurrent mutation.
	ErrVersionConflict = errors.New("docs: document version conflict")
	// ErrPolicyViolation indicates that the document type policy disallows the operation.
	ErrPolicyViolation = errors.New("docs: operation disallowed by document type policy")
	// ErrValidation indicates that an external validator rejected the document fields.
	ErrValidation = errors.New("docs: document validation failed")
)

// DocID represents a validated document identifier.
type DocID string

// NewDocID validates raw input and returns a DocID.
func NewDocID(rawInput string) (DocID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocID, maxIdentifierLength)
	}
	return DocID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocID) String() string {
	return string(id)
}

// Partition represents a validated logical shard key.
type Partition string

// NewPartition validates raw input and returns a Partition.
func NewPartition(rawInput string) (Partition, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPartition)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPartition, maxIdentifierLength)
	}
	return Partition(trimmed), nil
}

// String returns the underlying string key.
func (p Partition) String() string {
	return string(p)
}

// OperationID represents a validated caller-supplied mutation identifier.
type OperationID string

// NewOperationID validates raw input and returns an OperationID.
func NewOperationID(rawInput string) (OperationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOperationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOperationID, maxIdentifierLength)
	}
	return OperationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OperationID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Document is the versioned unit of data the pipeline mutates. Domain fields
// live in Fields; the remaining attributes form the mutation envelope.
type Document struct {
	ID                  string
	Partition           string
	DocType             string
	Fields              map[string]any
	DocVersion          string
	DocOpIDs            []string
	DocDigests          []string
	DocSyncNeeded       bool
	DocArchived         bool
	CreatedMillis       int64
	CreatedByUserID     string
	LastUpdatedMillis   int64
	LastUpdatedByUserID string
}

// Clone returns a deep copy so callers can hold results without aliasing
// the pipeline's working state.
func (d Document) Clone() Document {
	copied := d
	copied.Fields = cloneFields(d.Fields)
	copied.DocOpIDs = append([]string(nil), d.DocOpIDs...)
	copied.DocDigests = append([]string(nil), d.DocDigests...)
	return copied
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	copied := make(map[string]any, len(fields))
	for name, value := range fields {
		copied[name] = value
	}
	return copied
}

// PatchRecord is the append-only audit trail entry for one applied patch.
// It captures only the fields that actually changed.
type PatchRecord struct {
	ID                               string
	OperationID                      string
	PatchedDocID                     string
	PatchedDocType                   string
	Patch                            map[string]any
	DocCreatedMillisecondsSinceEpoch int64
	DocCreatedByUserID               string
}

// SyncHeader is the lightweight projection of a pending-sync record handed
// to propagation workers.
type SyncHeader struct {
	ID         string
	Partition  string
	DocType    string
	DocVersion string
}

// ConstructResult reports the outcome of a construct-or-fetch operation.
type ConstructResult struct {
	IsNew  bool
	Doc    Document
	Change *ChangeEvent
}

// PatchResult reports the outcome of a patch operation.
type PatchResult struct {
	IsUpdated bool
	Doc       Document
	Change    *ChangeEvent
}

// ReplaceResult reports the outcome of a replace operation.
type ReplaceResult struct {
	Doc Document
}

// DeleteResult reports the outcome of a hard delete.
type DeleteResult struct {
	IsDeleted bool
	Change    *ChangeEvent
}

// ArchiveResult reports the outcome of an archive operation.
type ArchiveResult struct {
	IsArchived bool
	Doc        Document
	Change     *ChangeEvent
}

// RedactResult reports the outcome of a redaction.
type RedactResult struct {
	IsRedacted bool
	Doc        Document
	Change     *ChangeEvent
}

// SelectResult reports a read along with the store's relative query cost.
type SelectResult struct {
	Doc       *Document
	QueryCost float64
}

// SelectManyResult reports a multi-document read and its query cost.
type SelectManyResult struct {
	Docs      []Document
	QueryCost float64
}
