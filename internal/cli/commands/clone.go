package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
)

// NewCloneCommand creates the clone command.
func NewCloneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clone SOURCE_ENV",
		Short: "Copy the contents of another environment's index into this one",
		Long: `Copy metadata types, products, datasets, lineage and homes from the index
of SOURCE_ENV into the index of the selected environment. Entries that
already exist identically are kept; entries that differ are reported and
skipped, together with everything that depends on them.`,
		Example: `  # Copy prod into the default index
  provcat clone prod

  # Copy prod into staging
  provcat clone prod --env staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if source == cc.Cfg.Environment {
				return fmt.Errorf("cannot clone environment %q into itself", source)
			}
			srcCfg, err := cc.Cfg.IndexFor(source)
			if err != nil {
				return err
			}
			src, err := openIndex(cmd.Context(), source, srcCfg, cc.Logger)
			if err != nil {
				return fmt.Errorf("failed to open source index: %w", err)
			}
			defer func() { _ = src.Close() }()

			res, err := index.Clone(cmd.Context(), cc.Index, src, cc.Cfg.Index.BatchSize, cc.Logger)
			if err != nil {
				return err
			}

			if cc.Renderer.IsJSON() {
				return cc.Renderer.JSON(map[string]any{
					"source":         source,
					"metadata_types": statusJSON(res.MetadataTypes),
					"products":       statusJSON(res.Products),
					"datasets":       statusJSON(res.Datasets),
					"lineage":        statusJSON(res.Lineage),
					"homes":          res.Homes,
				})
			}
			cc.Renderer.Table([]string{"Stage", "Completed", "Skipped", "Elapsed"}, [][]any{
				statusRow("metadata types", res.MetadataTypes),
				statusRow("products", res.Products),
				statusRow("datasets", res.Datasets),
				statusRow("lineage", res.Lineage),
				{"homes", res.Homes, 0, ""},
			})
			cc.Renderer.Success("Cloned %s into %s", source, cc.Cfg.Environment)
			return nil
		},
	}
}

func statusJSON(s core.BatchStatus) map[string]any {
	return map[string]any{
		"completed":  s.Completed,
		"skipped":    s.Skipped,
		"elapsed_ms": s.Elapsed.Milliseconds(),
	}
}

func statusRow(stage string, s core.BatchStatus) []any {
	return []any{stage, s.Completed, s.Skipped, s.Elapsed.Round(time.Millisecond).String()}
}
