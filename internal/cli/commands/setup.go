package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/internal/cli/config"
	"github.com/leapstack-labs/provcat/internal/cli/output"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Index    core.Index
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with the configured index open.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutIndex(cmd)

	ix, err := openIndex(cmd.Context(), cc.Cfg.Environment, cc.Cfg.Index, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	cc.Index = ix

	cleanup := func() {
		if err := ix.Close(); err != nil {
			cc.Logger.Warn("failed to close index", slog.String("error", err.Error()))
		}
	}
	return cc, cleanup, nil
}

// NewCommandContextWithoutIndex creates a CommandContext without an index.
// Useful for commands that don't need database access.
func NewCommandContextWithoutIndex(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// openIndex opens the index described by ic, creating the parent directory
// of file-backed databases first.
func openIndex(ctx context.Context, name string, ic *config.IndexConfig, logger *slog.Logger) (core.Index, error) {
	if ic == nil {
		return nil, fmt.Errorf("no index configured for environment %q", name)
	}
	switch strings.ToLower(ic.Backend) {
	case "sqlite", "duckdb":
		if dir := filepath.Dir(ic.Database); ic.Database != "" && ic.Database != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	return index.Open(ctx, ic.ToCore(name), logger)
}
