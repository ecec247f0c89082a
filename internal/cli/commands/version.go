package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/pkg/index"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the provcat version and the index backends compiled into this binary.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			backends := "none"
			if names := index.ListBackends(); len(names) > 0 {
				backends = strings.Join(names, ", ")
			}
			_, _ = fmt.Fprintf(out, "provcat v%s\n", version)
			_, _ = fmt.Fprintln(out, "Dataset provenance catalog")
			_, _ = fmt.Fprintf(out, "backends: %s\n", backends)
		},
	}
}
