package docs

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// SelectPendingSync returns headers for every record of the document type
// still awaiting propagation to a secondary system.
func (service *Service) SelectPendingSync(ctx context.Context, docTypeName string, options StoreOptions) ([]SyncHeader, error) {
	docType, err := service.resolveType(opPendingSync, docTypeName)
	if err != nil {
		return nil, err
	}
	result, scanErr := service.store.SelectPendingSync(ctx, docType.Name, options)
	if scanErr != nil {
		service.logError(opPendingSync, reasonQueryFailed, scanErr, zap.String(fieldDocType, docType.Name))
		return nil, newServiceError(opPendingSync, reasonQueryFailed, scanErr)
	}
	return result.Headers, nil
}

// MarkSynced clears a record's pending-sync flag only while its stored
// version still equals reqVersion, the version observed at scan time. When a
// later mutation advanced the version the call is a silent no-op and the
// record stays flagged, so the newer state is still propagated. The version
// token is the only concurrency guard the ledger needs.
func (service *Service) MarkSynced(ctx context.Context, docTypeName, id, partition, reqVersion string, options StoreOptions) error {
	docType, err := service.resolveType(opMarkSynced, docTypeName)
	if err != nil {
		return err
	}
	markErr := service.store.MarkSynced(ctx, docType.Name, id, partition, reqVersion, options)
	if markErr == nil {
		return nil
	}
	if errors.Is(markErr, ErrVersionConflict) {
		service.loggerOrDefault().Debug("mark synced skipped, version advanced",
			zap.String(fieldDocID, id),
			zap.String(fieldPartition, partition))
		return nil
	}
	if errors.Is(markErr, ErrNotFound) {
		service.logError(opMarkSynced, reasonNotFound, markErr, zap.String(fieldDocID, id))
		return newServiceError(opMarkSynced, reasonNotFound, markErr)
	}
	service.logError(opMarkSynced, reasonWriteFailed, markErr, zap.String(fieldDocID, id))
	return newServiceError(opMarkSynced, reasonWriteFailed, markErr)
}
