package batch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/internal/testutil"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
)

func seqOf(n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range n {
			if !yield(i) {
				return
			}
		}
	}
}

func TestIngest_MismatchesAreSkipped(t *testing.T) {
	mismatched := map[int]bool{7: true, 1500: true, 2499: true}
	logger := testutil.NewTestLogger(t)
	var sizes []int

	flush := func(ctx context.Context, items []int) (Result, error) {
		sizes = append(sizes, len(items))
		return AddEach(ctx, items, strconv.Itoa, func(_ context.Context, i int) (ItemOutcome, error) {
			if mismatched[i] {
				return Added, &core.DocumentMismatchError{Kind: "dataset", Key: strconv.Itoa(i)}
			}
			return Added, nil
		}, logger)
	}

	status, err := Ingest(context.Background(), seqOf(2500), 1000, flush)
	require.NoError(t, err)
	assert.Equal(t, 2497, status.Completed)
	assert.Equal(t, 3, status.Skipped)
	assert.Equal(t, []int{1000, 1000, 500}, sizes)
	assert.Len(t, status.Safe, 2497)
	assert.NotContains(t, status.Safe, "7")
}

func TestIngest_DefaultSize(t *testing.T) {
	var calls int
	status, err := Ingest(context.Background(), seqOf(DefaultSize+1), 0, func(_ context.Context, items []int) (Result, error) {
		calls++
		return Result{Added: len(items)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, DefaultSize+1, status.Completed)
	assert.Nil(t, status.Safe, "untracked when no flush reports safe keys")
}

func TestIngest_EmptyStream(t *testing.T) {
	status, err := Ingest(context.Background(), seqOf(0), 10, func(context.Context, []int) (Result, error) {
		t.Fatal("flush must not be called for an empty stream")
		return Result{}, nil
	})
	require.NoError(t, err)
	assert.Zero(t, status.Completed)
}

func TestIngest_UnexpectedErrorAborts(t *testing.T) {
	boom := errors.New("connection reset")
	var flushed int

	status, err := Ingest(context.Background(), seqOf(30), 10, func(ctx context.Context, items []int) (Result, error) {
		flushed++
		return AddEach(ctx, items, strconv.Itoa, func(_ context.Context, i int) (ItemOutcome, error) {
			if i == 15 {
				return Added, boom
			}
			return Added, nil
		}, nil)
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "15")
	assert.Equal(t, 2, flushed)
	assert.Equal(t, 15, status.Completed)
}

func TestIngest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Ingest(ctx, seqOf(5), 2, func(context.Context, []int) (Result, error) {
		return Result{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngest_NarrowSafeSet(t *testing.T) {
	status, err := Ingest(context.Background(), seqOf(4), 2, func(_ context.Context, items []int) (Result, error) {
		return Result{Added: len(items), Safe: []string{strconv.Itoa(items[0])}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "2"}, status.Safe)
}

func TestAddEach_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		outcome     ItemOutcome
		wantAdded   int
		wantSkipped int
		wantSafe    bool
		wantErr     bool
	}{
		{name: "added", outcome: Added, wantAdded: 1, wantSafe: true},
		{name: "existing", outcome: Existing, wantSkipped: 1, wantSafe: true},
		{name: "mismatch", err: &core.DocumentMismatchError{Kind: "product", Key: "x"}, wantSkipped: 1},
		{name: "missing dependency", err: core.ErrNotFound("product", "x"), wantSkipped: 1},
		{name: "inconsistent lineage", err: fmt.Errorf("wrapped: %w", &lineage.InconsistentLineageError{Reason: "cycle"}), wantSkipped: 1},
		{name: "unexpected", err: errors.New("io"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := AddEach(context.Background(), []string{"k"}, func(s string) string { return s },
				func(context.Context, string) (ItemOutcome, error) { return tt.outcome, tt.err }, testutil.NewTestLogger(t))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdded, res.Added)
			assert.Equal(t, tt.wantSkipped, res.Skipped)
			assert.Equal(t, tt.wantSafe, slices.Contains(res.Safe, "k"))
		})
	}
}

func TestFilter(t *testing.T) {
	keys := map[string]struct{}{"1": {}, "3": {}}
	got := slices.Collect(Filter(seqOf(5), strconv.Itoa, keys))
	assert.Equal(t, []int{1, 3}, got)

	assert.Len(t, slices.Collect(Filter(seqOf(5), strconv.Itoa, nil)), 5)
}

func TestValues(t *testing.T) {
	boom := errors.New("boom")
	var seq iter.Seq2[int, error] = func(yield func(int, error) bool) {
		_ = yield(1, nil) && yield(2, nil) && yield(0, boom) && yield(3, nil)
	}
	var err error
	got := slices.Collect(Values(seq, &err))
	assert.Equal(t, []int{1, 2}, got)
	assert.ErrorIs(t, err, boom)
}

func TestCollect(t *testing.T) {
	boom := errors.New("boom")

	got, err := Collect(func(yield func(int, error) bool) {
		_ = yield(1, nil) && yield(2, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)

	got, err = Collect(func(func(int, error) bool) {})
	require.NoError(t, err)
	assert.NotNil(t, got, "empty stream encodes as [] rather than null")
	assert.Empty(t, got)

	got, err = Collect(func(yield func(int, error) bool) {
		_ = yield(1, nil) && yield(0, boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)
}
