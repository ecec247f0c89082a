package loader

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/leapstack-labs/provcat/pkg/core"
)

// Entities converts a document stream with parse. Documents that do not
// decode are logged, counted in invalid and dropped. A read error stops the
// stream and is stored in errp.
func Entities[T any](docs iter.Seq2[core.Document, error], parse func(core.Document) (T, error), logger *slog.Logger, invalid *int, errp *error) iter.Seq[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(yield func(T) bool) {
		for doc, err := range docs {
			if err != nil {
				*errp = err
				return
			}
			item, err := parse(doc)
			if err != nil {
				logger.Warn("skipping invalid document", slog.String("error", err.Error()))
				*invalid++
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
}

// IngestDatasets adds the dataset documents of docs one at a time, each
// with its inline sources. Invalid documents, datasets already indexed and
// recoverable failures are counted as skipped; anything else aborts.
func IngestDatasets(ctx context.Context, ix core.Index, docs iter.Seq2[core.Document, error], withLineage bool, logger *slog.Logger) (core.BatchStatus, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	start := time.Now()
	var (
		status  core.BatchStatus
		invalid int
		readErr error
	)
	for ds := range Entities(docs, core.DatasetFromDocument, logger, &invalid, &readErr) {
		added, err := ix.Datasets().Ingest(ctx, ds, withLineage)
		if err != nil {
			if !core.IsRecoverable(err) {
				status.Skipped += invalid
				status.Elapsed = time.Since(start)
				return status, fmt.Errorf("failed to add dataset %s: %w", ds.Key(), err)
			}
			logger.Warn("skipping dataset", slog.String("id", ds.Key()), slog.String("error", err.Error()))
			status.Skipped++
			continue
		}
		if !added {
			logger.Debug("dataset already indexed", slog.String("id", ds.Key()))
			status.Skipped++
			continue
		}
		status.Completed++
	}
	status.Skipped += invalid
	status.Elapsed = time.Since(start)
	return status, readErr
}
