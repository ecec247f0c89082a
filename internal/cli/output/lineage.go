package output

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
)

// Tree writes a lineage tree: JSON in its serialised form, or an indented
// outline in text mode.
func (r *Renderer) Tree(tree *lineage.Tree) error {
	if r.IsJSON() {
		return r.JSON(tree.Serialise(true))
	}

	var b strings.Builder
	b.WriteString(r.node(tree, ""))
	b.WriteByte('\n')
	r.writeChildren(&b, tree, "")
	_, err := fmt.Fprint(r.out, b.String())
	return err
}

func (r *Renderer) node(t *lineage.Tree, classifier string) string {
	s := r.styles.ID.Render(t.DatasetID.String())
	if classifier != "" {
		s = r.styles.Classifier.Render(classifier) + " " + s
	}
	if t.Home != "" {
		s += " " + r.styles.Home.Render("@"+t.Home)
	}
	if !t.Children.Fetched() {
		s += " " + r.styles.Muted.Render("…")
	}
	return s
}

func (r *Renderer) writeChildren(b *strings.Builder, t *lineage.Tree, prefix string) {
	n := t.Children.Len()
	i := 0
	for classifier, child := range t.Children.All() {
		i++
		branch, indent := "├── ", "│   "
		if i == n {
			branch, indent = "└── ", "    "
		}
		b.WriteString(prefix + branch + r.node(child, classifier) + "\n")
		r.writeChildren(b, child, prefix+indent)
	}
}

// BatchStatus writes the outcome of a bulk add.
func (r *Renderer) BatchStatus(label string, s core.BatchStatus) error {
	if r.IsJSON() {
		return r.JSON(map[string]any{
			"label":      label,
			"completed":  s.Completed,
			"skipped":    s.Skipped,
			"elapsed_ms": s.Elapsed.Milliseconds(),
		})
	}
	if s.Skipped > 0 {
		r.Warn("%s: %s", label, s)
		return nil
	}
	r.Success("%s: %s", label, s)
	return nil
}
