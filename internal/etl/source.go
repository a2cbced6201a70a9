// Package etl implements the source adapters that normalize raw therapy data
// extracts into the shared concept record model, plus the cross-reference
// backfill job. Each adapter owns a disjoint concept-id namespace, so loads
// may run as independent parallel tasks.
package etl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

// ErrSourceUnavailable signals that a source's raw artifact could not be
// obtained or parsed. It aborts that source's load only; sibling sources are
// unaffected.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source is the capability set every adapter implements. Extract materializes
// the raw artifact (already downloaded by the retrieval collaborator),
// Transform streams concept and lookup records into the writer, and Meta
// reports provenance for the load.
type Source interface {
	Name() therapy.SourceName
	Extract(ctx context.Context) error
	Transform(ctx context.Context, w *therapy.IndexWriter) error
	Meta() therapy.SourceMeta
}

// SourceResult summarizes one source's load.
type SourceResult struct {
	Source   therapy.SourceName
	RunID    uuid.UUID
	Written  int
	Failures []therapy.WriteFailure
	Err      error
}

// LoadAll runs every source concurrently against the sink. A failing source
// records its error in its result and never stops the others.
func LoadAll(ctx context.Context, sink therapy.Sink, log zerolog.Logger, batchSize int, sources ...Source) []SourceResult {
	results := make([]SourceResult, len(sources))
	g, ctx := errgroup.WithContext(ctx)

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = loadOne(ctx, sink, log, batchSize, src)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func loadOne(ctx context.Context, sink therapy.Sink, log zerolog.Logger, batchSize int, src Source) SourceResult {
	res := SourceResult{Source: src.Name(), RunID: uuid.New()}
	slog := log.With().
		Str("source", string(src.Name())).
		Str("run_id", res.RunID.String()).
		Logger()

	slog.Info().Msg("starting load")
	if err := src.Extract(ctx); err != nil {
		res.Err = fmt.Errorf("extract %s: %w", src.Name(), err)
		slog.Error().Err(err).Msg("extract failed")
		return res
	}

	w := therapy.NewIndexWriter(sink, slog, batchSize)
	if err := src.Transform(ctx, w); err != nil {
		res.Err = fmt.Errorf("transform %s: %w", src.Name(), err)
		slog.Error().Err(err).Msg("transform failed")
		return res
	}
	if err := w.Flush(ctx); err != nil {
		res.Err = fmt.Errorf("flush %s: %w", src.Name(), err)
		slog.Error().Err(err).Msg("flush failed")
		return res
	}

	res.Written = w.Written()
	res.Failures = w.Failures()

	if err := sink.PutSourceMeta(ctx, src.Meta()); err != nil {
		res.Err = fmt.Errorf("source meta %s: %w", src.Name(), err)
		slog.Error().Err(err).Msg("writing source metadata failed")
		return res
	}

	slog.Info().
		Int("written", res.Written).
		Int("failed_items", len(res.Failures)).
		Msg("load complete")
	return res
}
