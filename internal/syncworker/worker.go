// Package syncworker drains the synchronization ledger: it periodically scans
// for documents pending propagation, hands their headers to a propagator, and
// clears the flag with the version observed at scan time.
package syncworker

import (
	"context"
	"errors"
	"time"

	"github.com/quartzline/docforge/internal/docs"
	"go.uber.org/zap"
)

var (
	errMissingService    = errors.New("docs service is required")
	errMissingPropagator = errors.New("propagator is required")
)

// Propagator pushes one document header to a secondary system. Returning an
// error leaves the document flagged for the next scan.
type Propagator interface {
	Propagate(ctx context.Context, header docs.SyncHeader) error
}

// WorkerConfig wires the propagation worker.
type WorkerConfig struct {
	Service      *docs.Service
	Propagator   Propagator
	DocTypeNames []string
	ScanInterval time.Duration
	Logger       *zap.Logger
}

// Worker runs the scan/propagate/mark-synced loop.
type Worker struct {
	service      *docs.Service
	propagator   Propagator
	docTypeNames []string
	scanInterval time.Duration
	logger       *zap.Logger
}

// NewWorker validates the configuration and constructs a Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	if cfg.Propagator == nil {
		return nil, errMissingPropagator
	}
	interval := cfg.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		service:      cfg.Service,
		propagator:   cfg.Propagator,
		docTypeNames: cfg.DocTypeNames,
		scanInterval: interval,
		logger:       logger,
	}, nil
}

// Run drains the ledger until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce performs a single scan across all configured document types.
// MarkSynced carries the scan-time version, so a document mutated between
// scan and propagation keeps its flag and is picked up again.
func (w *Worker) DrainOnce(ctx context.Context) {
	for _, docTypeName := range w.docTypeNames {
		headers, err := w.service.SelectPendingSync(ctx, docTypeName, nil)
		if err != nil {
			w.logger.Error("pending sync scan failed",
				zap.String("doc_type", docTypeName),
				zap.Error(err))
			continue
		}
		for _, header := range headers {
			if ctx.Err() != nil {
				return
			}
			if err := w.propagator.Propagate(ctx, header); err != nil {
				w.logger.Warn("propagation failed, document stays pending",
					zap.String("doc_type", header.DocType),
					zap.String("doc_id", header.ID),
					zap.Error(err))
				continue
			}
			if err := w.service.MarkSynced(ctx, header.DocType, header.ID, header.Partition, header.DocVersion, nil); err != nil {
				w.logger.Warn("mark synced failed",
					zap.String("doc_type", header.DocType),
					zap.String("doc_id", header.ID),
					zap.Error(err))
			}
		}
	}
}

// LoggingPropagator is the default propagator: it records each header and
// succeeds, useful until a real secondary store is attached.
type LoggingPropagator struct {
	Logger *zap.Logger
}

// Propagate implements Propagator.
func (p *LoggingPropagator) Propagate(_ context.Context, header docs.SyncHeader) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("document propagated",
		zap.String("doc_type", header.DocType),
		zap.String("partition", header.Partition),
		zap.String("doc_id", header.ID),
		zap.String("doc_version", header.DocVersion))
	return nil
}
