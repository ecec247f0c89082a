// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/provcat/internal/cli/output"
)

// Dataset ids written by SetupWorkspace. Level1 is the source of ARD, which
// is the source of Derived.
const (
	Level1ID  = "4a2f7f2e-0000-4000-8000-000000000001"
	ARDID     = "4a2f7f2e-0000-4000-8000-000000000002"
	DerivedID = "4a2f7f2e-0000-4000-8000-000000000003"
)

// Workspace is a temporary directory holding a config file and catalog
// documents.
type Workspace struct {
	Dir        string
	ConfigFile string
	Database   string
}

// Path returns the absolute path of a file in the workspace.
func (w *Workspace) Path(parts ...string) string {
	return filepath.Join(append([]string{w.Dir}, parts...)...)
}

// SetupWorkspace creates a workspace with an sqlite index, the eo3 metadata
// type, the ls8 products and three datasets linked by lineage.
func SetupWorkspace(t *testing.T) *Workspace {
	t.Helper()

	tmpDir := t.TempDir()
	ws := &Workspace{
		Dir:        tmpDir,
		ConfigFile: filepath.Join(tmpDir, "provcat.yaml"),
		Database:   filepath.Join(tmpDir, "index", "provcat.db"),
	}

	// Create directories
	for _, dir := range []string{"metadata", "products", "datasets"} {
		if err := os.MkdirAll(filepath.Join(tmpDir, dir), 0o755); err != nil {
			t.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	files := map[string]string{
		"provcat.yaml": fmt.Sprintf(`index:
  backend: sqlite
  database: %s
log:
  level: warn
`, ws.Database),
		"metadata/eo3.yaml": `name: eo3
description: Default EO3 with no custom fields
dataset:
  id: [id]
  sources: [lineage, source_datasets]
`,
		"products/ls8.yaml": `name: ls8_level1
description: Landsat 8 level 1 scenes
metadata_type: eo3
---
name: ls8_ard
description: Landsat 8 analysis ready data
metadata_type: eo3
`,
		"datasets/level1.yaml": fmt.Sprintf(`id: %s
product: {name: ls8_level1}
location: s3://landsat/level1/scene.odc-metadata.yaml
extent:
  lon: {begin: 148.0, end: 149.5}
  lat: {begin: -36.0, end: -35.0}
`, Level1ID),
		"datasets/ard.yaml": fmt.Sprintf(`id: %s
product: {name: ls8_ard}
location: s3://landsat/ard/scene.odc-metadata.yaml
lineage:
  level1: [%s]
`, ARDID, Level1ID),
		"datasets/derived.json": fmt.Sprintf(`{"id": %q, "product": {"name": "ls8_ard"}, "lineage": {"ard": [%q]}}`,
			DerivedID, ARDID),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}

	return ws
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// Reset clears both output buffers.
func (tr *TestRenderer) Reset() {
	tr.Out.Reset()
	tr.ErrOut.Reset()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}
