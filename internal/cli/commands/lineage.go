package commands

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"slices"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/provcat/internal/loader"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

// LineageShowOptions holds options for the lineage show command.
type LineageShowOptions struct {
	Direction string
	Depth     int
}

// LineageAddOptions holds options for the lineage add command.
type LineageAddOptions struct {
	MaxDepth     int
	AllowUpdates bool
	ValidateOnly bool
}

// lineageRecord is one document of a lineage export: either a relation or
// a dataset home.
type lineageRecord struct {
	Derived    string `yaml:"derived,omitempty" mapstructure:"derived"`
	Source     string `yaml:"source,omitempty" mapstructure:"source"`
	Classifier string `yaml:"classifier,omitempty" mapstructure:"classifier"`
	Dataset    string `yaml:"dataset,omitempty" mapstructure:"dataset"`
	Home       string `yaml:"home,omitempty" mapstructure:"home"`
}

// NewLineageCommand creates the lineage command group.
func NewLineageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Inspect and edit dataset provenance",
		Long: `Inspect and edit the provenance graph: which datasets each dataset was
derived from, which datasets were derived from it, and which index is home
to each dataset.`,
	}
	cmd.AddCommand(newLineageShowCommand())
	cmd.AddCommand(newLineageAddCommand())
	cmd.AddCommand(newLineageRemoveCommand())
	cmd.AddCommand(newLineageHomeCommand())
	cmd.AddCommand(newLineageExportCommand())
	cmd.AddCommand(newLineageImportCommand())
	return cmd
}

func newLineageShowCommand() *cobra.Command {
	opts := &LineageShowOptions{}

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show the lineage tree of a dataset",
		Example: `  # Show everything a dataset was derived from
  provcat lineage show 8f1e0d8a-6b8a-4d44-9d0b-1f1a4d6a0b10

  # Show two levels of datasets derived from it
  provcat lineage show 8f1e0d8a-6b8a-4d44-9d0b-1f1a4d6a0b10 --direction derived --depth 2

  # Output the serialised tree
  provcat lineage show 8f1e0d8a-6b8a-4d44-9d0b-1f1a4d6a0b10 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineageShow(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Direction, "direction", "sources", "Tree direction (sources|derived)")
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "Max traversal depth (0 = unlimited)")
	_ = cmd.RegisterFlagCompletionFunc("direction", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"sources", "derived"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runLineageShow(cmd *cobra.Command, arg string, opts *LineageShowOptions) error {
	ids, err := parseIDs([]string{arg})
	if err != nil {
		return err
	}
	dir, err := lineage.ParseDirection(opts.Direction)
	if err != nil {
		return err
	}
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var tree *lineage.Tree
	if dir == lineage.Derived {
		tree, err = cc.Index.Lineage().GetDerivedTree(cmd.Context(), ids[0], opts.Depth)
	} else {
		tree, err = cc.Index.Lineage().GetSourceTree(cmd.Context(), ids[0], opts.Depth)
	}
	if err != nil {
		return err
	}
	return cc.Renderer.Tree(tree)
}

func newLineageAddCommand() *cobra.Command {
	opts := &LineageAddOptions{}

	cmd := &cobra.Command{
		Use:   "add FILE",
		Short: "Merge serialised lineage trees into the index",
		Long: `Merge every lineage tree document in FILE into the index. All trees are
merged in one transaction: if any of them conflicts with the stored graph
nothing is written.`,
		Example: `  provcat lineage add tree.json
  provcat lineage add trees.yaml --allow-updates
  provcat lineage add tree.json --validate-only`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineageAdd(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "Only merge this many levels of each tree (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.AllowUpdates, "allow-updates", false, "Overwrite differing classifiers and homes")
	cmd.Flags().BoolVar(&opts.ValidateOnly, "validate-only", false, "Check the trees against the index without writing")
	return cmd
}

func runLineageAdd(cmd *cobra.Command, file string, opts *LineageAddOptions) error {
	var trees []*lineage.Tree
	for doc, err := range loader.ReadFile(file) {
		if err != nil {
			return err
		}
		tree, err := lineage.Deserialise(doc, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		trees = append(trees, tree)
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = cc.Index.Transaction(cmd.Context(), func(ctx context.Context) (txn.Outcome, error) {
		for _, tree := range trees {
			if !opts.ValidateOnly {
				if err := cc.Index.Lineage().Add(ctx, tree, opts.MaxDepth, opts.AllowUpdates); err != nil {
					return txn.Complete, err
				}
				continue
			}
			rels, err := lineage.NewRelations(lineage.WithTree(tree, opts.MaxDepth))
			if err != nil {
				return txn.Complete, err
			}
			if err := cc.Index.Lineage().Merge(ctx, rels, opts.AllowUpdates, true); err != nil {
				return txn.Complete, err
			}
		}
		return txn.Complete, nil
	})
	if err != nil {
		return err
	}

	verb := "Merged"
	if opts.ValidateOnly {
		verb = "Validated"
	}
	if cc.Renderer.IsJSON() {
		return cc.Renderer.JSON(map[string]any{"trees": len(trees), "validate_only": opts.ValidateOnly})
	}
	cc.Renderer.Success("%s %d lineage trees", verb, len(trees))
	return nil
}

func newLineageRemoveCommand() *cobra.Command {
	opts := &LineageShowOptions{}

	cmd := &cobra.Command{
		Use:   "remove ID",
		Short: "Remove the lineage relations of a dataset's tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			dir, err := lineage.ParseDirection(opts.Direction)
			if err != nil {
				return err
			}
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cc.Index.Lineage().Remove(cmd.Context(), ids[0], dir, opts.Depth); err != nil {
				return err
			}
			cc.Renderer.Success("Removed %s lineage of %s", dir, ids[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Direction, "direction", "sources", "Tree direction (sources|derived)")
	cmd.Flags().IntVar(&opts.Depth, "depth", 1, "Levels to remove (0 = unlimited)")
	return cmd
}

func newLineageHomeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "home",
		Short: "Manage the home index recorded for datasets",
	}

	var allowUpdates bool
	setCmd := &cobra.Command{
		Use:   "set HOME ID...",
		Short: "Record HOME as the home of datasets",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := cc.Index.Lineage().SetHome(cmd.Context(), args[0], ids, allowUpdates)
			if err != nil {
				return err
			}
			cc.Renderer.Success("Set home %s on %d of %d datasets", args[0], n, len(ids))
			return nil
		},
	}
	setCmd.Flags().BoolVar(&allowUpdates, "allow-updates", false, "Replace differing homes")

	var only string
	clearCmd := &cobra.Command{
		Use:   "clear ID...",
		Short: "Remove the home of datasets",
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

			n, err := cc.Index.Lineage().ClearHome(cmd.Context(), ids, only)
			if err != nil {
				return err
			}
			cc.Renderer.Success("Cleared the home of %d of %d datasets", n, len(ids))
			return nil
		},
	}
	clearCmd.Flags().StringVar(&only, "home", "", "Only clear homes equal to this one")

	getCmd := &cobra.Command{
		Use:   "get ID...",
		Short: "Show the home of datasets",
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

			homes, err := cc.Index.Lineage().GetHomes(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			if cc.Renderer.IsJSON() {
				out := make(map[string]string, len(homes))
				for id, home := range homes {
					out[id.String()] = home
				}
				return cc.Renderer.JSON(out)
			}
			rows := make([][]any, 0, len(ids))
			for _, id := range ids {
				rows = append(rows, []any{id, homes[id]})
			}
			cc.Renderer.Table([]string{"Dataset", "Home"}, rows)
			return nil
		},
	}

	cmd.AddCommand(setCmd, clearCmd, getCmd)
	return cmd
}

func newLineageExportCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every lineage relation and home as a YAML stream",
		Example: `  provcat lineage export > lineage.yaml
  provcat lineage export --file lineage.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			w := cmd.OutOrStdout()
			if file != "" {
				f, err := os.Create(file) //nolint:gosec // path is supplied by the operator
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", file, err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			n, err := exportLineage(cmd.Context(), cc, enc)
			if err != nil {
				return err
			}
			if err := enc.Close(); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			if file != "" {
				cc.Renderer.Success("Exported %d records to %s", n, file)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Write to this file instead of stdout")
	return cmd
}

func exportLineage(ctx context.Context, cc *CommandContext, enc *yaml.Encoder) (int, error) {
	n := 0
	ids := make(map[uuid.UUID]struct{})
	for rel, err := range cc.Index.Lineage().GetAllLineage(ctx, cc.Cfg.Index.BatchSize) {
		if err != nil {
			return n, err
		}
		ids[rel.DerivedID] = struct{}{}
		ids[rel.SourceID] = struct{}{}
		if err := enc.Encode(lineageRecord{
			Derived:    rel.DerivedID.String(),
			Source:     rel.SourceID.String(),
			Classifier: rel.Classifier,
		}); err != nil {
			return n, fmt.Errorf("failed to write export: %w", err)
		}
		n++
	}

	homes, err := cc.Index.Lineage().GetHomes(ctx, slices.SortedFunc(maps.Keys(ids), compareIDs)...)
	if err != nil {
		return n, err
	}
	for _, id := range slices.SortedFunc(maps.Keys(homes), compareIDs) {
		if err := enc.Encode(lineageRecord{Dataset: id.String(), Home: homes[id]}); err != nil {
			return n, fmt.Errorf("failed to write export: %w", err)
		}
		n++
	}
	return n, nil
}

func compareIDs(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) }

func newLineageImportCommand() *cobra.Command {
	var allowUpdates bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load relations and homes written by lineage export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			homes := make(map[string][]uuid.UUID)
			var invalid int
			var readErr error
			rels := loader.Entities(loader.ReadFile(args[0]), func(doc core.Document) (lineage.Relation, error) {
				return parseLineageRecord(doc, homes)
			}, cc.Logger, &invalid, &readErr)
			relations := func(yield func(lineage.Relation) bool) {
				for rel := range rels {
					if rel.DerivedID == uuid.Nil {
						continue
					}
					if !yield(rel) {
						return
					}
				}
			}

			status, err := cc.Index.Lineage().BulkAdd(cmd.Context(), iter.Seq[lineage.Relation](relations), cc.Cfg.Index.BatchSize)
			if err = errors.Join(err, readErr); err != nil {
				return err
			}
			status.Skipped += invalid

			for _, home := range slices.Sorted(maps.Keys(homes)) {
				n, err := cc.Index.Lineage().SetHome(cmd.Context(), home, homes[home], allowUpdates)
				if err != nil {
					return err
				}
				cc.Logger.Debug("imported homes", "home", home, "count", n)
			}
			return cc.Renderer.BatchStatus("lineage relations", status)
		},
	}

	cmd.Flags().BoolVar(&allowUpdates, "allow-updates", false, "Replace differing homes")
	return cmd
}

// parseLineageRecord decodes one export document. Home records are
// collected into homes and yield a zero relation.
func parseLineageRecord(doc core.Document, homes map[string][]uuid.UUID) (lineage.Relation, error) {
	var rec lineageRecord
	if err := mapstructure.Decode(doc, &rec); err != nil {
		return lineage.Relation{}, core.ErrValidation("invalid lineage record: %v", err)
	}
	if rec.Dataset != "" {
		id, err := uuid.Parse(rec.Dataset)
		if err != nil || rec.Home == "" {
			return lineage.Relation{}, core.ErrValidation("invalid home record for %q", rec.Dataset)
		}
		homes[rec.Home] = append(homes[rec.Home], id)
		return lineage.Relation{}, nil
	}
	derived, err := uuid.Parse(rec.Derived)
	if err != nil {
		return lineage.Relation{}, core.ErrValidation("invalid derived id %q", rec.Derived)
	}
	source, err := uuid.Parse(rec.Source)
	if err != nil {
		return lineage.Relation{}, core.ErrValidation("invalid source id %q", rec.Source)
	}
	if rec.Classifier == "" {
		return lineage.Relation{}, core.ErrValidation("relation %s -> %s has no classifier", derived, source)
	}
	return lineage.Relation{DerivedID: derived, SourceID: source, Classifier: rec.Classifier}, nil
}
