package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/internal/loader"
	"github.com/leapstack-labs/provcat/pkg/core"
)

// NewDatasetCommand creates the dataset command group.
func NewDatasetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage datasets",
	}
	cmd.AddCommand(newDatasetAddCommand())
	cmd.AddCommand(newDatasetGetCommand())
	cmd.AddCommand(newDatasetUpdateCommand("archive", "Archive datasets", "Archived",
		func(ix core.Index) func(context.Context, ...uuid.UUID) (int, error) { return ix.Datasets().Archive }))
	cmd.AddCommand(newDatasetUpdateCommand("restore", "Restore archived datasets", "Restored",
		func(ix core.Index) func(context.Context, ...uuid.UUID) (int, error) { return ix.Datasets().Restore }))
	cmd.AddCommand(newDatasetUpdateCommand("purge", "Delete datasets with their lineage and homes", "Purged",
		func(ix core.Index) func(context.Context, ...uuid.UUID) (int, error) { return ix.Datasets().Purge }))
	return cmd
}

func newDatasetAddCommand() *cobra.Command {
	var noLineage bool

	cmd := &cobra.Command{
		Use:   "add FILE...",
		Short: "Add datasets from eo3 documents",
		Long: `Add every dataset document found in the given files or directories.
Source datasets listed in the lineage section of each document are recorded
as lineage relations unless --no-lineage is given.`,
		Example: `  provcat dataset add odc-metadata.yaml
  provcat dataset add ./scenes/ --no-lineage`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			status, err := loader.IngestDatasets(cmd.Context(), cc.Index, loader.ReadFiles(paths), !noLineage, cc.Logger)
			if err != nil {
				return err
			}
			return cc.Renderer.BatchStatus("datasets", status)
		},
	}

	cmd.Flags().BoolVar(&noLineage, "no-lineage", false, "Do not record source datasets as lineage")
	return cmd
}

func newDatasetGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ds, err := cc.Index.Datasets().Get(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			if cc.Renderer.IsJSON() {
				return cc.Renderer.JSON(ds)
			}

			archived := ""
			if ds.ArchivedAt != nil {
				archived = ds.ArchivedAt.Format(time.RFC3339)
			}
			extent := ""
			if e := ds.Extent; e != nil {
				extent = fmt.Sprintf("%g,%g,%g,%g", e.West, e.South, e.East, e.North)
			}
			cc.Renderer.Table([]string{"Field", "Value"}, [][]any{
				{"id", ds.ID},
				{"product", ds.Product},
				{"home", ds.Home},
				{"uris", strings.Join(ds.URIs, "\n")},
				{"extent", extent},
				{"indexed", ds.IndexedAt.Format(time.RFC3339)},
				{"archived", archived},
			})
			return nil
		},
	}
}

func newDatasetUpdateCommand(use, short, verb string, op func(core.Index) func(context.Context, ...uuid.UUID) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := op(cc.Index)(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			if cc.Renderer.IsJSON() {
				return cc.Renderer.JSON(map[string]any{"requested": len(ids), "affected": n})
			}
			cc.Renderer.Success("%s %d of %d datasets", verb, n, len(ids))
			return nil
		},
	}
}
