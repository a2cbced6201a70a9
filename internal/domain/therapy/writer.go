package therapy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultBatchSize is the flush threshold for buffered writes.
const DefaultBatchSize = 25

// IndexWriter buffers identity and lookup items and flushes them to the sink
// in batches. Within one concept the identity item is always buffered before
// its lookup items, and batches flush in buffer order, so a reader never
// observes a lookup record ahead of its identity record. Per-item write
// failures are collected and surfaced; they never abort the batch or block
// unrelated concepts.
type IndexWriter struct {
	sink      Sink
	log       zerolog.Logger
	batchSize int
	buf       []Item
	failures  []WriteFailure
	written   int
}

// NewIndexWriter creates a writer flushing every batchSize items.
func NewIndexWriter(sink Sink, log zerolog.Logger, batchSize int) *IndexWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &IndexWriter{sink: sink, log: log, batchSize: batchSize}
}

// WriteConcept finalizes the record, then buffers its identity item followed
// by one lookup item per label, alias, and trade name.
func (w *IndexWriter) WriteConcept(ctx context.Context, rec *Record) error {
	if rec.ConceptID == "" {
		return fmt.Errorf("concept record missing concept_id")
	}
	rec.Finalize()
	w.buf = append(w.buf, IdentityItem(rec))
	w.buf = append(w.buf, rec.Lookups()...)
	return w.maybeFlush(ctx)
}

// WriteBrandLink buffers an rx_brand association item.
func (w *IndexWriter) WriteBrandLink(ctx context.Context, brandConceptID, conceptID string, src SourceName) error {
	w.buf = append(w.buf, BrandLinkItem(brandConceptID, conceptID, src))
	return w.maybeFlush(ctx)
}

func (w *IndexWriter) maybeFlush(ctx context.Context) error {
	if len(w.buf) < w.batchSize {
		return nil
	}
	return w.Flush(ctx)
}

// Flush writes all buffered items. Transport-level errors are returned;
// per-item failures are logged and retained for Failures.
func (w *IndexWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	items := w.buf
	w.buf = nil

	failures, err := w.sink.BatchPut(ctx, items)
	if err != nil {
		return fmt.Errorf("flush batch of %d: %w", len(items), err)
	}
	for _, f := range failures {
		w.log.Warn().
			Str("label_and_type", f.Key.LabelAndType).
			Str("concept_id", f.Key.ConceptID).
			Err(f.Err).
			Msg("item write failed")
	}
	w.failures = append(w.failures, failures...)
	w.written += len(items) - len(failures)
	return nil
}

// Written returns the count of items successfully persisted so far.
func (w *IndexWriter) Written() int {
	return w.written
}

// Failures returns the per-item failures collected across all flushes.
func (w *IndexWriter) Failures() []WriteFailure {
	return w.failures
}
