package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/pkg/core"
)

// NewProductCommand creates the product command group.
func NewProductCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products",
	}
	cmd.AddCommand(newProductAddCommand())
	cmd.AddCommand(newProductListCommand())
	return cmd
}

func newProductAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add FILE...",
		Short: "Add products from YAML or JSON documents",
		Long: `Add every product document found in the given files or directories.
A product may embed its metadata type definition instead of naming it; the
metadata type is then added first when it is not stored yet.`,
		Example: `  provcat product add ls8_ard.yaml
  provcat product add ./products/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := bulkAddFiles(cmd.Context(), cc, args, core.ProductFromDocument, cc.Index.Products().BulkAdd)
			if err != nil {
				return err
			}
			return cc.Renderer.BatchStatus("products", status)
		},
	}
}

func newProductListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var products []*core.Product
			for p, err := range cc.Index.Products().GetAll(cmd.Context()) {
				if err != nil {
					return err
				}
				products = append(products, p)
			}
			if cc.Renderer.IsJSON() {
				return cc.Renderer.JSON(products)
			}
			rows := make([][]any, 0, len(products))
			for _, p := range products {
				rows = append(rows, []any{p.Name, p.MetadataType, p.Description})
			}
			cc.Renderer.Table([]string{"Name", "Metadata type", "Description"}, rows)
			return nil
		},
	}
}
