// Package cli provides the command-line interface for provcat.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/internal/cli/commands"
	"github.com/leapstack-labs/provcat/internal/cli/config"
	"github.com/leapstack-labs/provcat/pkg/index"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile, envFlag string

	rootCmd := &cobra.Command{
		Use:   "provcat",
		Short: "provcat - dataset provenance catalog",
		Long: `provcat indexes geospatial datasets, their products and metadata types, and
the provenance graph linking every dataset to the datasets it was derived from.

The index lives in a pluggable backend (sqlite, postgres, postgis, duckdb,
memory or null) selected per environment in provcat.yaml.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, envFlag, cmd.Flags())
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = context.WithValue(ctx, config.LoggerKey(), logger)
			cmd.SetContext(ctx)

			if cfg.ConfigFile != "" {
				logger.Debug("using config file", "path", cfg.ConfigFile)
			}
			logger.Debug("using index", "environment", cfg.Environment, "backend", cfg.Index.Backend)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set version template
	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Dataset provenance catalog
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./provcat.yaml)")
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "E", "", "Environment to use (e.g., dev, staging, prod)")
	rootCmd.PersistentFlags().String("backend", "", "Index backend")
	rootCmd.PersistentFlags().String("database", "", "Index database (a file path for sqlite and duckdb)")
	rootCmd.PersistentFlags().Int("batch-size", 0, "Bulk-add batch size")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text|json)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|json)")

	// Register completion for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("backend", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return index.ListBackends(), cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("env", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"dev", "staging", "prod"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewSystemCommand())
	rootCmd.AddCommand(commands.NewMetadataCommand())
	rootCmd.AddCommand(commands.NewProductCommand())
	rootCmd.AddCommand(commands.NewDatasetCommand())
	rootCmd.AddCommand(commands.NewLineageCommand())
	rootCmd.AddCommand(commands.NewCloneCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewBackendsCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for provcat.

To load completions:

Bash:
  $ source <(provcat completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ provcat completion bash > /etc/bash_completion.d/provcat
  # macOS:
  $ provcat completion bash > $(brew --prefix)/etc/bash_completion.d/provcat

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ provcat completion zsh > "${fpath[1]}/_provcat"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ provcat completion fish | source

  # To load completions for each session, execute once:
  $ provcat completion fish > ~/.config/fish/completions/provcat.fish

PowerShell:
  PS> provcat completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> provcat completion powershell > provcat.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
