package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/pkg/core"
)

// NewMetadataCommand creates the metadata type command group.
func NewMetadataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "metadata",
		Aliases: []string{"metadata-type"},
		Short:   "Manage metadata types",
	}
	cmd.AddCommand(newMetadataAddCommand())
	cmd.AddCommand(newMetadataListCommand())
	cmd.AddCommand(newMetadataShowCommand())
	return cmd
}

func newMetadataAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add FILE...",
		Short: "Add metadata types from YAML or JSON documents",
		Long: `Add every metadata type document found in the given files or directories.
Documents identical to a stored metadata type are accepted; differing ones
are reported and skipped.`,
		Example: `  provcat metadata add eo3.yaml
  provcat metadata add ./metadata-types/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := bulkAddFiles(cmd.Context(), cc, args, core.MetadataTypeFromDocument, cc.Index.MetadataTypes().BulkAdd)
			if err != nil {
				return err
			}
			return cc.Renderer.BatchStatus("metadata types", status)
		},
	}
}

func newMetadataListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List metadata types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var types []*core.MetadataType
			for mt, err := range cc.Index.MetadataTypes().GetAll(cmd.Context()) {
				if err != nil {
					return err
				}
				types = append(types, mt)
			}
			if cc.Renderer.IsJSON() {
				return cc.Renderer.JSON(types)
			}
			rows := make([][]any, 0, len(types))
			for _, mt := range types {
				rows = append(rows, []any{mt.Name, mt.Description})
			}
			cc.Renderer.Table([]string{"Name", "Description"}, rows)
			return nil
		},
	}
}

func newMetadataShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a metadata type definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			mt, err := cc.Index.MetadataTypes().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cc.Renderer.JSON(mt)
		},
	}
}
