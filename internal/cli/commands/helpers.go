package commands

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/internal/loader"
	"github.com/leapstack-labs/provcat/pkg/core"
)

// expandPaths replaces directories among args with the document files
// they contain.
func expandPaths(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		found, err := loader.ScanDir(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no document files found in %v", args)
	}
	return files, nil
}

// parseIDs parses dataset ids given on the command line.
func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid dataset id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// bulkAddFiles decodes the documents of files with parse and feeds them to
// add. Documents that do not decode are counted as skipped.
func bulkAddFiles[T any](
	ctx context.Context,
	cc *CommandContext,
	files []string,
	parse func(core.Document) (T, error),
	add func(ctx context.Context, items iter.Seq[T], batchSize int) (core.BatchStatus, error),
) (core.BatchStatus, error) {
	paths, err := expandPaths(files)
	if err != nil {
		return core.BatchStatus{}, err
	}
	var invalid int
	var readErr error
	items := loader.Entities(loader.ReadFiles(paths), parse, cc.Logger, &invalid, &readErr)
	status, err := add(ctx, items, cc.Cfg.Index.BatchSize)
	status.Skipped += invalid
	return status, errors.Join(err, readErr)
}
