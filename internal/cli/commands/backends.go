package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/pkg/index"
)

// NewBackendsCommand creates the backends command.
func NewBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the available index backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContextWithoutIndex(cmd)
			names := index.ListBackends()
			if cc.Renderer.IsJSON() {
				return cc.Renderer.JSON(names)
			}
			rows := make([][]any, 0, len(names))
			for _, name := range names {
				current := ""
				if name == cc.Cfg.Index.Backend {
					current = "*"
				}
				rows = append(rows, []any{name, current})
			}
			cc.Renderer.Table([]string{"Backend", "Selected"}, rows)
			return nil
		},
	}
}
