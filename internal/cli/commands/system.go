package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewSystemCommand creates the system command group.
func NewSystemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Manage the index itself",
	}
	cmd.AddCommand(newSystemInitCommand())
	cmd.AddCommand(newSystemCheckCommand())
	return cmd
}

func newSystemInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the index schema",
		Long: `Create the catalog tables of the configured index, or migrate them to the
latest schema version. Running it again on an up-to-date index is a no-op.`,
		Example: `  # Initialise the default sqlite index
  provcat system init

  # Initialise a postgres index from the prod environment
  provcat system init --env prod`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cc.Index.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialise index: %w", err)
			}
			if cc.Renderer.IsJSON() {
				return cc.Renderer.JSON(map[string]any{
					"environment": cc.Cfg.Environment,
					"backend":     cc.Cfg.Index.Backend,
					"initialised": true,
				})
			}
			cc.Renderer.Success("Initialised %s index for environment %s", cc.Cfg.Index.Backend, cc.Cfg.Environment)
			return nil
		},
	}
}

func newSystemCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show the effective index settings and test the connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base := NewCommandContextWithoutIndex(cmd)
			ic := base.Cfg.Index

			status := "ok"
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				status = err.Error()
			} else {
				cleanup()
			}

			if base.Renderer.IsJSON() {
				if err := base.Renderer.JSON(map[string]any{
					"environment": base.Cfg.Environment,
					"config_file": base.Cfg.ConfigFile,
					"backend":     ic.Backend,
					"database":    ic.Database,
					"host":        ic.Host,
					"port":        ic.Port,
					"user":        ic.User,
					"connection":  status,
				}); err != nil {
					return err
				}
				return err
			}

			port := ""
			if ic.Port != 0 {
				port = strconv.Itoa(ic.Port)
			}
			base.Renderer.Table([]string{"Setting", "Value"}, [][]any{
				{"environment", base.Cfg.Environment},
				{"config file", base.Cfg.ConfigFile},
				{"backend", ic.Backend},
				{"database", ic.Database},
				{"host", ic.Host},
				{"port", port},
				{"user", ic.User},
				{"connection", status},
			})
			if cc != nil {
				base.Renderer.Success("Index %s is reachable", cc.Index.Name())
			}
			return err
		},
	}
}
