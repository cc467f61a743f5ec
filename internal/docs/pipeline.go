package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quartzline/docforge/internal/doctypes"
	"go.uber.org/zap"
)

var (
	errMissingStore    = errors.New("store adapter is required")
	errMissingRegistry = errors.New("document type registry is required")
	errMissingProvider = errors.New("id provider is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError wraps a pipeline failure with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "docs.service.new"
	opConstruct   = "docs.construct"
	opPatch       = "docs.patch"
	opReplace     = "docs.replace"
	opDelete      = "docs.delete"
	opArchive     = "docs.archive"
	opRedact      = "docs.redact"
	opSelect      = "docs.select"
	opPatchAudit  = "docs.patch_audit"
	opPendingSync = "docs.pending_sync"
	opMarkSynced  = "docs.mark_synced"

	reasonInvalidInput    = "invalid_input"
	reasonUnknownType     = "unknown_type"
	reasonFetchFailed     = "fetch_failed"
	reasonWriteFailed     = "write_failed"
	reasonVersionConflict = "version_conflict"
	reasonNotFound        = "not_found"
	reasonPolicyViolation = "policy_violation"
	reasonVersionFailed   = "version_mint_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonValidation      = "validation_failed"
	reasonAuditFailed     = "audit_insert_failed"
	reasonQueryFailed     = "query_failed"

	fieldDocType     = "doc_type"
	fieldPartition   = "partition"
	fieldDocID       = "doc_id"
	fieldOperationID = "operation_id"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for audit patch records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// FieldValidator is the external schema-validation collaborator. Errors it
// returns are surfaced unchanged; wrap with ErrValidation to let callers
// classify them.
type FieldValidator interface {
	ValidateFields(docTypeName string, fields map[string]any) error
}

// ServiceConfig wires the mutation pipeline's collaborators.
type ServiceConfig struct {
	Store      Store
	Types      *doctypes.Registry
	Emitter    ChangeEmitter
	Validator  FieldValidator
	Cache      *RecordCache
	Clock      func() time.Time
	IDProvider IDProvider
	Versions   VersionProvider
	Logger     *zap.Logger
}

// Service is the mutation pipeline: it owns every rule that makes document
// mutations safe, idempotent and observable, and delegates raw persistence to
// the store adapter.
type Service struct {
	store      Store
	types      *doctypes.Registry
	emitter    ChangeEmitter
	validator  FieldValidator
	cache      *RecordCache
	clock      func() time.Time
	idProvider IDProvider
	versions   VersionProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Types == nil {
		return nil, newServiceError(opServiceNew, "missing_registry", errMissingRegistry)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	versions := cfg.Versions
	if versions == nil {
		versions = NewUUIDVersionProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		types:      cfg.Types,
		emitter:    cfg.Emitter,
		validator:  cfg.Validator,
		cache:      cfg.Cache,
		clock:      clock,
		idProvider: idProvider,
		versions:   versions,
		logger:     logger,
	}, nil
}

// ConstructRequest describes a construct-or-fetch call. The fragment must
// carry the document identifier; construction is idempotent by id.
type ConstructRequest struct {
	DocTypeName string
	Partition   string
	ID          string
	Fields      map[string]any
	UserID      string
	Options     StoreOptions
}

// Construct writes a fresh record or returns the existing one unchanged.
// A concurrent first-write loses gracefully: the loser re-fetches and reports
// IsNew=false with the record the winner committed.
func (service *Service) Construct(ctx context.Context, request ConstructRequest) (ConstructResult, error) {
	docType, docID, partition, userID, err := service.resolveCommon(opConstruct, request.DocTypeName, request.Partition, request.ID, request.UserID)
	if err != nil {
		return ConstructResult{}, err
	}

	if service.validator != nil {
		if validationErr := service.validator.ValidateFields(docType.Name, request.Fields); validationErr != nil {
			service.logError(opConstruct, reasonValidation, validationErr, zap.String(fieldDocID, docID.String()))
			return ConstructResult{}, validationErr
		}
	}

	nowMillis := service.clock().UTC().UnixMilli()
	version, err := service.versions.NextVersion("")
	if err != nil {
		service.logError(opConstruct, reasonVersionFailed, err)
		return ConstructResult{}, newServiceError(opConstruct, reasonVersionFailed, err)
	}

	record := Document{
		ID:                  docID.String(),
		Partition:           partition.String(),
		DocType:             docType.Name,
		Fields:              cloneFields(request.Fields),
		DocVersion:          version,
		DocSyncNeeded:       true,
		CreatedMillis:       nowMillis,
		CreatedByUserID:     userID.String(),
		LastUpdatedMillis:   nowMillis,
		LastUpdatedByUserID: userID.String(),
	}

	upsertErr := service.store.UpsertNew(ctx, record, request.Options)
	if errors.Is(upsertErr, ErrVersionConflict) {
		existing, fetchErr := service.fetchRecord(ctx, opConstruct, docType.Name, partition.String(), docID.String(), request.Options)
		if fetchErr != nil {
			return ConstructResult{}, fetchErr
		}
		return ConstructResult{IsNew: false, Doc: existing}, nil
	}
	if upsertErr != nil {
		service.logError(opConstruct, reasonWriteFailed, upsertErr, zap.String(fieldDocID, docID.String()))
		return ConstructResult{}, newServiceError(opConstruct, reasonWriteFailed, upsertErr)
	}

	service.cache.Invalidate(docType.Name, partition.String(), docID.String())
	event := DeriveChange(ChangeActionCreate, record, nil, docType, nowMillis, userID)
	service.emitChange(ctx, opConstruct, event)

	return ConstructResult{IsNew: true, Doc: record.Clone(), Change: &event}, nil
}

// PatchRequest describes a field-level mutation.
type PatchRequest struct {
	DocTypeName string
	Partition   string
	ID          string
	OperationID string
	Patch       PatchBody
	UserID      string
	Options     StoreOptions
}

// Patch applies a declarative field patch with exactly-once semantics per
// operation id. A replayed operation returns the current record with
// IsUpdated=false and emits no second event. A concurrent mutation between
// read and write surfaces ErrVersionConflict; the pipeline never retries
// across the version boundary because a blind retry could overwrite
// intervening intent.
func (service *Service) Patch(ctx context.Context, request PatchRequest) (PatchResult, error) {
	docType, docID, partition, userID, err := service.resolveCommon(opPatch, request.DocTypeName, request.Partition, request.ID, request.UserID)
	if err != nil {
		return PatchResult{}, err
	}
	operationID, err := NewOperationID(request.OperationID)
	if err != nil {
		service.logError(opPatch, reasonInvalidInput, err)
		return PatchResult{}, newServiceError(opPatch, reasonInvalidInput, err)
	}

	if service.validator != nil {
		if validationErr := service.validator.ValidateFields(docType.Name, map[string]any(request.Patch)); validationErr != nil {
			service.logError(opPatch, reasonValidation, validationErr, zap.String(fieldDocID, docID.String()))
			return PatchResult{}, validationErr
		}
	}

	digest := RequestDigest(ChangeActionPatch, docType.Name, partition.String(), docID.String(), request.Patch)
	return service.applyPatchAction(ctx, opPatch, ChangeActionPatch, docType, partition, docID, operationID, digest, request.Patch, userID, request.Options)
}

// ReplaceRequest describes a whole-document replacement.
type ReplaceRequest struct {
	DocTypeName string
	Partition   string
	ID          string
	Fields      map[string]any
	UserID      string
	Options     StoreOptions
}

// Replace swaps a record's full field state, bypassing validation and event
// emission. It exists as a migration escape hatch and still guards against
// clobbering a concurrent write.
func (service *Service) Replace(ctx context.Context, request ReplaceRequest) (ReplaceResult, error) {
	docType, docID, partition, userID, err := service.resolveCommon(opReplace, request.DocTypeName, request.Partition, request.ID, request.UserID)
	if err != nil {
		return ReplaceResult{}, err
	}
	if !docType.Policy.CanReplaceDocuments {
		service.logError(opReplace, reasonPolicyViolation, ErrPolicyViolation, zap.String(fieldDocType, docType.Name))
		return ReplaceResult{}, newServiceError(opReplace, reasonPolicyViolation, ErrPolicyViolation)
	}

	current, err := service.fetchRecord(ctx, opReplace, docType.Name, partition.String(), docID.String(), request.Options)
	if err != nil {
		return ReplaceResult{}, err
	}

	version, err := service.versions.NextVersion(current.DocVersion)
	if err != nil {
		service.logError(opReplace, reasonVersionFailed, err)
		return ReplaceResult{}, newServiceError(opReplace, reasonVersionFailed, err)
	}

	nowMillis := service.clock().UTC().UnixMilli()
	updated := current.Clone()
	updated.Fields = cloneFields(request.Fields)
	updated.DocVersion = version
	updated.DocSyncNeeded = true
	updated.LastUpdatedMillis = nowMillis
	updated.LastUpdatedByUserID = userID.String()

	if writeErr := service.writeGuarded(ctx, opReplace, updated, current.DocVersion, request.Options); writeErr != nil {
		return ReplaceResult{}, writeErr
	}
	service.cache.Invalidate(docType.Name, partition.String(), docID.String())

	return ReplaceResult{Doc: updated.Clone()}, nil
}

// DeleteRequest describes a hard removal.
type DeleteRequest struct {
	DocTypeName string
	Partition   string
	ID          string
	UserID      string
	Options     StoreOptions
}

// Delete hard-removes a record when the document type policy allows it and
// emits a delete event carrying the pre-removal field projection.
func (service *Service) Delete(ctx context.Context, request DeleteRequest) (DeleteResult, error) {
	docType, docID, partition, userID, err := service.resolveCommon(opDelete, request.DocTypeName, request.Partition, request.ID, request.UserID)
	if err != nil {
		return DeleteResult{}, err
	}
	if !docType.Policy.CanDeleteDocuments {
		service.logError(opDelete, reasonPolicyViolation, ErrPolicyViolation, zap.String(fieldDocType, docType.Name))
		return DeleteResult{}, newServiceError(opDelete, reasonPolicyViolation, ErrPolicyViolation)
	}

	current, err := service.fetchRecord(ctx, opDelete, docType.Name, partition.String(), docID.String(), request.Options)
	if err != nil {
		return DeleteResult{}, err
	}

	if deleteErr := service.store.Delete(ctx, docType.Name, partition.String(), docID.String(), request.Options); deleteErr != nil {
		if errors.Is(deleteErr, ErrNotFound) {
			service.logError(opDelete, reasonNotFound, deleteErr, zap.String(fieldDocID, docID.String()))
			return DeleteResult{}, newServiceError(opDelete, reasonNotFound, deleteErr)
		}
		service.logError(opDelete, reasonWriteFailed, deleteErr, zap.String(fieldDocID, docID.String()))
		return DeleteResult{}, newServiceError(opDelete, reasonWriteFailed, deleteErr)
	}

	service.cache.Invalidate(docType.Name, partition.String(), docID.String())
	event := DeriveChange(ChangeActionDelete, current, nil, docType, service.clock().UTC().UnixMilli(), userID)
	service.emitChange(ctx, opDelete, event)

	return DeleteResult{IsDeleted: true, Change: &event}, nil
}

// ArchiveRequest describes a soft removal.
type ArchiveRequest struct {
	DocTypeName string
	Partition   string
	ID          string
	OperationID string
	UserID      string
	Options     StoreOptions
}

// Archive flips the archived marker without removing the record. Replaying
// the same operation id, or archiving an already-archived record, is a no-op
// that reports IsArchived=true with the current document.
func (service *Service) Archive(ctx context.Context, request ArchiveRequest) (ArchiveResult, error) {
	docType, docID, partition, userID, err := service.resolveCommon(opArchive, request.DocTypeName, request.Partition, request.ID, request.UserID)
	if err != nil {
		return ArchiveResult{}, err
	}
	operationID, err := NewOperationID(request.OperationID)
	if err != nil {
		service.logError(opArchive, reasonInvalidInput, err)
		return ArchiveResult{}, newServiceError(opArchive, reasonInvalidInput, err)
	}

	current, err := service.fetchRecord(ctx, opArchive, docType.Name, partition.String(), docID.String(), request.Options)
	if err != nil {
		return ArchiveResult{}, err
	}

	if IsDuplicate(current, operationID.String(), "") || current.DocArchived {
		return ArchiveResult{IsArchived: true, Doc: current}, nil
	}

	version, err := service.versions.NextVersion(current.DocVersion)
	if err != nil {
		service.logError(opArchive, reasonVersionFailed, err)
		return ArchiveResult{}, newServiceError(opArchive, reasonVersionFailed, err)
	}

	nowMillis := service.clock().UTC().UnixMilli()
	updated := current.Clone()
	updated.DocArchived = true
	updated.DocVersion = version
	updated.DocSyncNeeded = true
	updated.LastUpdatedMillis = nowMillis
	updated.LastUpdatedByUserID = userID.String()
	AppendOpID(&updated, operationID.String(), docType.Policy.MaxOpIDs)

	if writeErr := service.writeGuarded(ctx, opArchive, updated, current.DocVersion, request.Options); writeErr != nil {
		return ArchiveResult{}, writeErr
	}

	service.cache.Invalidate(docType.Name, partition.String(), docID.String())
	event := DeriveChange(ChangeActionArchive, current, nil, docType, nowMillis, userID)
	service.emitChange(ctx, opArchive, event)

	return ArchiveResult{IsArchived: true, Doc: updated.Clone(), Change: &event}, nil
}

// RedactRequest describes a compliance redaction. RedactValue replaces every
// RedactSentinel in the patch, pointing at the record that explains the scrub.
type RedactRequest struct {
	DocTypeName string
	Partition   string
	ID          string
	OperationID string
	Patch       PatchBody
	RedactValue string
	UserID      string
	Options     StoreOptions
}

// Redact applies a redaction patch with the same dedup discipline as Patch.
func (service *Service) Redact(ctx context.Context, request RedactRequest) (RedactResult, error) {
	docType, docID, partition, userID, err := service.resolveCommon(opRedact, request.DocTypeName, request.Partition, request.ID, request.UserID)
	if err != nil {
		return RedactResult{}, err
	}
	operationID, err := NewOperationID(request.OperationID)
	if err != nil {
		service.logError(opRedact, reasonInvalidInput, err)
		return RedactResult{}, newServiceError(opRedact, reasonInvalidInput, err)
	}

	resolved := ResolveRedaction(request.Patch, request.RedactValue)
	digest := RequestDigest(ChangeActionRedact, docType.Name, partition.String(), docID.String(), resolved)
	patchResult, err := service.applyPatchAction(ctx, opRedact, ChangeActionRedact, docType, partition, docID, operationID, digest, resolved, userID, request.Options)
	if err != nil {
		return RedactResult{}, err
	}
	return RedactResult{IsRedacted: patchResult.IsUpdated, Doc: patchResult.Doc, Change: patchResult.Change}, nil
}

// applyPatchAction is the shared read-dedup-apply-write-emit path behind
// Patch and Redact.
func (service *Service) applyPatchAction(ctx context.Context, operation string, action ChangeAction, docType doctypes.Type, partition Partition, docID DocID, operationID OperationID, digest string, patch PatchBody, userID UserID, options StoreOptions) (PatchResult, error) {
	current, err := service.fetchRecord(ctx, operation, docType.Name, partition.String(), docID.String(), options)
	if err != nil {
		return PatchResult{}, err
	}

	if IsDuplicate(current, operationID.String(), digest) {
		return PatchResult{IsUpdated: false, Doc: current}, nil
	}

	outcome := ApplyPatch(current, patch)
	if !outcome.Changed() && !docType.Policy.MintVersionOnEmptyPatch {
		return PatchResult{IsUpdated: false, Doc: current}, nil
	}

	version, err := service.versions.NextVersion(current.DocVersion)
	if err != nil {
		service.logError(operation, reasonVersionFailed, err)
		return PatchResult{}, newServiceError(operation, reasonVersionFailed, err)
	}

	nowMillis := service.clock().UTC().UnixMilli()
	updated := current.Clone()
	updated.Fields = outcome.NewFields
	updated.DocVersion = version
	updated.DocSyncNeeded = true
	updated.LastUpdatedMillis = nowMillis
	updated.LastUpdatedByUserID = userID.String()
	AppendOpID(&updated, operationID.String(), docType.Policy.MaxOpIDs)
	AppendDigest(&updated, digest, docType.Policy.MaxDigests)

	if writeErr := service.writeGuarded(ctx, operation, updated, current.DocVersion, options); writeErr != nil {
		return PatchResult{}, writeErr
	}

	patchID, idErr := service.idProvider.NewID()
	if idErr != nil {
		service.logError(operation, reasonIDFailed, idErr, zap.String(fieldDocID, docID.String()))
		return PatchResult{}, newServiceError(operation, reasonIDFailed, idErr)
	}
	auditRecord := BuildPatchRecord(patchID, operationID, updated, outcome, nowMillis, userID)
	if auditErr := service.store.InsertPatch(ctx, partition.String(), auditRecord); auditErr != nil {
		// The mutation is committed; a failed audit insert must not undo it.
		service.logError(operation, reasonAuditFailed, auditErr, zap.String(fieldDocID, docID.String()))
	}

	service.cache.Invalidate(docType.Name, partition.String(), docID.String())
	event := DeriveChange(action, current, outcome.ChangedFields, docType, nowMillis, userID)
	service.emitChange(ctx, operation, event)

	return PatchResult{IsUpdated: true, Doc: updated.Clone(), Change: &event}, nil
}

// SelectRequest describes a read of a single record.
type SelectRequest struct {
	DocTypeName string
	Partition   string
	ID          string
	FieldNames  []string
	Options     StoreOptions
}

// SelectByID returns the record or a nil Doc on miss. Reads are cache-assisted
// when a cache is configured.
func (service *Service) SelectByID(ctx context.Context, request SelectRequest) (SelectResult, error) {
	docType, err := service.resolveType(opSelect, request.DocTypeName)
	if err != nil {
		return SelectResult{}, err
	}

	if cached, hit := service.cache.Get(docType.Name, request.Partition, request.ID); hit {
		projected := projectDocument(cached, request.FieldNames)
		return SelectResult{Doc: &projected}, nil
	}

	fetched, fetchErr := service.store.Fetch(ctx, docType.Name, request.Partition, request.ID, request.Options)
	if fetchErr != nil {
		service.logError(opSelect, reasonQueryFailed, fetchErr, zap.String(fieldDocID, request.ID))
		return SelectResult{}, newServiceError(opSelect, reasonQueryFailed, fetchErr)
	}
	if fetched.Doc == nil {
		return SelectResult{QueryCost: fetched.QueryCost}, nil
	}

	service.cache.Put(*fetched.Doc)
	projected := projectDocument(*fetched.Doc, request.FieldNames)
	return SelectResult{Doc: &projected, QueryCost: fetched.QueryCost}, nil
}

// GetByID returns the record or fails with ErrNotFound on miss.
func (service *Service) GetByID(ctx context.Context, request SelectRequest) (Document, error) {
	result, err := service.SelectByID(ctx, request)
	if err != nil {
		return Document{}, err
	}
	if result.Doc == nil {
		return Document{}, newServiceError(opSelect, reasonNotFound, fmt.Errorf("%w: %s/%s", ErrNotFound, request.Partition, request.ID))
	}
	return *result.Doc, nil
}

// SelectByIDs returns the records matching the provided ids.
func (service *Service) SelectByIDs(ctx context.Context, docTypeName, partition string, ids []string, fieldNames []string, options StoreOptions) (SelectManyResult, error) {
	docType, err := service.resolveType(opSelect, docTypeName)
	if err != nil {
		return SelectManyResult{}, err
	}
	result, queryErr := service.store.SelectByIDs(ctx, docType.Name, partition, ids, options)
	if queryErr != nil {
		service.logError(opSelect, reasonQueryFailed, queryErr, zap.String(fieldPartition, partition))
		return SelectManyResult{}, newServiceError(opSelect, reasonQueryFailed, queryErr)
	}
	return SelectManyResult{Docs: projectDocuments(result.Docs, fieldNames), QueryCost: result.QueryCost}, nil
}

// SelectByFilter returns the records matching a field-equality filter.
func (service *Service) SelectByFilter(ctx context.Context, docTypeName, partition string, filter Filter, fieldNames []string, options StoreOptions) (SelectManyResult, error) {
	docType, err := service.resolveType(opSelect, docTypeName)
	if err != nil {
		return SelectManyResult{}, err
	}
	result, queryErr := service.store.SelectByFilter(ctx, docType.Name, partition, filter, options)
	if queryErr != nil {
		service.logError(opSelect, reasonQueryFailed, queryErr, zap.String(fieldPartition, partition))
		return SelectManyResult{}, newServiceError(opSelect, reasonQueryFailed, queryErr)
	}
	return SelectManyResult{Docs: projectDocuments(result.Docs, fieldNames), QueryCost: result.QueryCost}, nil
}

// SelectAll returns every record in a partition when policy allows whole
// collection fetches.
func (service *Service) SelectAll(ctx context.Context, docTypeName, partition string, fieldNames []string, options StoreOptions) (SelectManyResult, error) {
	docType, err := service.resolveType(opSelect, docTypeName)
	if err != nil {
		return SelectManyResult{}, err
	}
	if !docType.Policy.CanFetchWholeCollection {
		service.logError(opSelect, reasonPolicyViolation, ErrPolicyViolation, zap.String(fieldDocType, docType.Name))
		return SelectManyResult{}, newServiceError(opSelect, reasonPolicyViolation, ErrPolicyViolation)
	}
	result, queryErr := service.store.SelectAll(ctx, docType.Name, partition, options)
	if queryErr != nil {
		service.logError(opSelect, reasonQueryFailed, queryErr, zap.String(fieldPartition, partition))
		return SelectManyResult{}, newServiceError(opSelect, reasonQueryFailed, queryErr)
	}
	return SelectManyResult{Docs: projectDocuments(result.Docs, fieldNames), QueryCost: result.QueryCost}, nil
}

// Patches returns the audit records for a document in creation order.
func (service *Service) Patches(ctx context.Context, partition, documentID string, from, limit int) ([]PatchRecord, error) {
	records, err := service.store.FetchPatches(ctx, partition, documentID, from, limit)
	if err != nil {
		service.logError(opPatchAudit, reasonQueryFailed, err, zap.String(fieldDocID, documentID))
		return nil, newServiceError(opPatchAudit, reasonQueryFailed, err)
	}
	return records, nil
}

func (service *Service) resolveCommon(operation, docTypeName, rawPartition, rawID, rawUserID string) (doctypes.Type, DocID, Partition, UserID, error) {
	docType, err := service.resolveType(operation, docTypeName)
	if err != nil {
		return doctypes.Type{}, "", "", "", err
	}
	docID, err := NewDocID(rawID)
	if err != nil {
		service.logError(operation, reasonInvalidInput, err)
		return doctypes.Type{}, "", "", "", newServiceError(operation, reasonInvalidInput, err)
	}
	partition, err := NewPartition(rawPartition)
	if err != nil {
		service.logError(operation, reasonInvalidInput, err)
		return doctypes.Type{}, "", "", "", newServiceError(operation, reasonInvalidInput, err)
	}
	userID, err := NewUserID(rawUserID)
	if err != nil {
		service.logError(operation, reasonInvalidInput, err)
		return doctypes.Type{}, "", "", "", newServiceError(operation, reasonInvalidInput, err)
	}
	return docType, docID, partition, userID, nil
}

func (service *Service) resolveType(operation, docTypeName string) (doctypes.Type, error) {
	docType, err := service.types.Resolve(docTypeName)
	if err != nil {
		service.logError(operation, reasonUnknownType, err, zap.String(fieldDocType, docTypeName))
		return doctypes.Type{}, newServiceError(operation, reasonUnknownType, err)
	}
	return docType, nil
}

// fetchRecord reads the current record straight from the store. Mutations
// never consult the cache: a cached version must not feed a write guard.
func (service *Service) fetchRecord(ctx context.Context, operation, docTypeName, partition, id string, options StoreOptions) (Document, error) {
	fetched, err := service.store.Fetch(ctx, docTypeName, partition, id, options)
	if err != nil {
		service.logError(operation, reasonFetchFailed, err, zap.String(fieldDocID, id))
		return Document{}, newServiceError(operation, reasonFetchFailed, err)
	}
	if fetched.Doc == nil {
		return Document{}, newServiceError(operation, reasonNotFound, fmt.Errorf("%w: %s/%s", ErrNotFound, partition, id))
	}
	return *fetched.Doc, nil
}

func (service *Service) writeGuarded(ctx context.Context, operation string, record Document, expectedVersion string, options StoreOptions) error {
	err := service.store.UpdateGuarded(ctx, record, expectedVersion, options)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		service.logError(operation, reasonVersionConflict, err,
			zap.String(fieldDocID, record.ID),
			zap.String(fieldPartition, record.Partition))
		return newServiceError(operation, reasonVersionConflict, err)
	}
	if errors.Is(err, ErrNotFound) {
		service.logError(operation, reasonNotFound, err, zap.String(fieldDocID, record.ID))
		return newServiceError(operation, reasonNotFound, err)
	}
	service.logError(operation, reasonWriteFailed, err, zap.String(fieldDocID, record.ID))
	return newServiceError(operation, reasonWriteFailed, err)
}

// emitChange hands the event to the emitter. Emission is at-least-once and
// never fails the mutation; a failed emit is logged for out-of-band retry.
func (service *Service) emitChange(ctx context.Context, operation string, event ChangeEvent) {
	if service.emitter == nil {
		return
	}
	if err := service.emitter.EmitChange(ctx, event); err != nil {
		service.logError(operation, "event_emit_failed", err,
			zap.String(fieldDocID, event.SubjectID),
			zap.String("digest", event.Digest))
	}
}

func projectDocument(doc Document, fieldNames []string) Document {
	if len(fieldNames) == 0 {
		return doc.Clone()
	}
	projected := doc.Clone()
	kept := make(map[string]any, len(fieldNames))
	for _, fieldName := range fieldNames {
		if value, exists := projected.Fields[fieldName]; exists {
			kept[fieldName] = value
		}
	}
	projected.Fields = kept
	return projected
}

func projectDocuments(documents []Document, fieldNames []string) []Document {
	projected := make([]Document, 0, len(documents))
	for _, doc := range documents {
		projected = append(projected, projectDocument(doc, fieldNames))
	}
	return projected
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil || service.logger == nil {
		return noOpLogger
	}
	return service.logger
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("docs service error", attrs...)
}
