// Package batch implements chunked bulk ingestion shared by every resource
// type: items are accumulated into batches, each batch is flushed by a
// backend-specific function, and the per-batch results are aggregated into
// one core.BatchStatus.
package batch

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/leapstack-labs/provcat/pkg/core"
)

// DefaultSize is the batch size used when none is configured.
const DefaultSize = 1000

// Result is the outcome of flushing one batch.
type Result struct {
	Added   int
	Skipped int
	// Safe lists keys known to be stored as submitted. Nil when the flush
	// does not track it.
	Safe []string
}

// FlushFunc writes one batch. An error aborts ingestion; per-item failures
// that should not abort are reported as skipped instead.
type FlushFunc[T any] func(ctx context.Context, batch []T) (Result, error)

// Ingest consumes items in batches of size (DefaultSize when <= 0) and
// returns the aggregated status. Batches are flushed in stream order. On
// error the status covers the batches flushed so far.
func Ingest[T any](ctx context.Context, items iter.Seq[T], size int, flush FlushFunc[T]) (core.BatchStatus, error) {
	if size <= 0 {
		size = DefaultSize
	}
	start := time.Now()
	var status core.BatchStatus

	pending := make([]T, 0, size)
	flushPending := func() error {
		res, err := flush(ctx, pending)
		status = status.Add(core.BatchStatus{Completed: res.Added, Skipped: res.Skipped, Safe: res.Safe})
		pending = make([]T, 0, size)
		return err
	}

	for item := range items {
		if err := ctx.Err(); err != nil {
			status.Elapsed = time.Since(start)
			return status, err
		}
		pending = append(pending, item)
		if len(pending) < size {
			continue
		}
		if err := flushPending(); err != nil {
			status.Elapsed = time.Since(start)
			return status, err
		}
	}
	if len(pending) > 0 {
		if err := flushPending(); err != nil {
			status.Elapsed = time.Since(start)
			return status, err
		}
	}
	status.Elapsed = time.Since(start)
	return status, nil
}

// ItemOutcome is the result of adding a single item.
type ItemOutcome int

const (
	// Added means the item was newly stored.
	Added ItemOutcome = iota
	// Existing means an identical item was already stored.
	Existing
)

// AddEach adds the items of one batch individually. Existing items count as
// skipped but safe. Recoverable failures (see core.IsRecoverable) are logged
// and counted as skipped; any other error aborts the batch.
func AddEach[T any](ctx context.Context, items []T, key func(T) string, addOne func(context.Context, T) (ItemOutcome, error), logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	res := Result{Safe: make([]string, 0, len(items))}
	for _, item := range items {
		outcome, err := addOne(ctx, item)
		switch {
		case err == nil && outcome == Added:
			res.Added++
			res.Safe = append(res.Safe, key(item))
		case err == nil:
			res.Skipped++
			res.Safe = append(res.Safe, key(item))
		case core.IsRecoverable(err):
			logger.Warn("skipping item", slog.String("key", key(item)), slog.Any("error", err))
			res.Skipped++
		default:
			return res, fmt.Errorf("failed to add %s: %w", key(item), err)
		}
	}
	return res, nil
}

// Filter yields only the items whose key is in keys. A nil set passes
// everything through.
func Filter[T any](items iter.Seq[T], key func(T) string, keys map[string]struct{}) iter.Seq[T] {
	if keys == nil {
		return items
	}
	return func(yield func(T) bool) {
		for item := range items {
			if _, ok := keys[key(item)]; !ok {
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
}

// Values drops the errors of a fallible stream, stopping at the first one and
// recording it in errp.
func Values[T any](seq iter.Seq2[T, error], errp *error) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v, err := range seq {
			if err != nil {
				*errp = err
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Collect drains a fallible stream into a slice, stopping at the first
// error. The slice is empty, not nil, when the stream yields nothing.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := make([]T, 0)
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
