// Package output renders CLI results as styled text for terminals or as
// JSON for pipes and scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// OutputMode selects how results are written.
type OutputMode string

// Output modes.
const (
	ModeAuto OutputMode = "auto" // text on a terminal, JSON otherwise
	ModeText OutputMode = "text"
	ModeJSON OutputMode = "json"
)

// Mode converts a config value to an OutputMode, defaulting to auto.
func Mode(s string) OutputMode {
	switch OutputMode(s) {
	case ModeText, ModeJSON:
		return OutputMode(s)
	default:
		return ModeAuto
	}
}

// Renderer writes command results.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
	mode   OutputMode
	styles *Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
// NO_COLOR and CLICOLOR=0 turn styling off.
func NewRenderer(out, errOut io.Writer, mode OutputMode) *Renderer {
	r := NewRendererWithTTY(out, errOut, isTerminal(out), mode)
	if termenv.EnvNoColor() {
		r.styles = PlainStyles()
	}
	return r
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode OutputMode) *Renderer {
	styles := DefaultStyles()
	if !isTTY {
		styles = PlainStyles()
	}
	return &Renderer{out: out, errOut: errOut, isTTY: isTTY, mode: mode, styles: styles}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// EffectiveMode resolves auto to text or JSON.
func (r *Renderer) EffectiveMode() OutputMode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeJSON
}

// IsJSON reports whether results are written as JSON.
func (r *Renderer) IsJSON() bool { return r.EffectiveMode() == ModeJSON }

// Styles returns the styles in use.
func (r *Renderer) Styles() *Styles { return r.styles }

// Out returns the result writer.
func (r *Renderer) Out() io.Writer { return r.out }

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Println writes a plain line.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Success writes a success message.
func (r *Renderer) Success(format string, args ...any) {
	_, _ = fmt.Fprintln(r.out, r.styles.Success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn writes a warning to the error writer.
func (r *Renderer) Warn(format string, args ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("! "+fmt.Sprintf(format, args...)))
}

// Table writes rows under headers. An empty table prints "(0 rows)".
func (r *Renderer) Table(headers []string, rows [][]any) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Muted.Render("(0 rows)"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	if r.isTTY {
		t.SetStyle(table.StyleLight)
	} else {
		t.SetStyle(table.StyleDefault)
	}

	headerRow := make(table.Row, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	t.AppendHeader(headerRow)
	for _, row := range rows {
		t.AppendRow(table.Row(row))
	}
	t.Render()
}
