package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/internal/cli/testutil"
	_ "github.com/leapstack-labs/provcat/pkg/backends/memory"
	_ "github.com/leapstack-labs/provcat/pkg/backends/sqlite"
)

// execute runs the root command with the workspace config and returns
// stdout and stderr.
func execute(t *testing.T, ws *testutil.Workspace, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if ws != nil {
		args = append([]string{"--config", ws.ConfigFile}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mustExecute(t *testing.T, ws *testutil.Workspace, args ...string) string {
	t.Helper()
	out, stderr, err := execute(t, ws, args...)
	require.NoError(t, err, "provcat %s\nstderr: %s", strings.Join(args, " "), stderr)
	return out
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

// populate initialises the workspace index and adds its documents.
func populate(t *testing.T, ws *testutil.Workspace) {
	t.Helper()
	mustExecute(t, ws, "system", "init")
	mustExecute(t, ws, "metadata", "add", ws.Path("metadata"))
	mustExecute(t, ws, "product", "add", ws.Path("products"))
	mustExecute(t, ws, "dataset", "add", ws.Path("datasets"))
}

func TestHelpCommand(t *testing.T) {
	out := mustExecute(t, nil, "--help")
	for _, want := range []string{"system", "metadata", "product", "dataset", "lineage", "clone", "serve", "backends"} {
		assert.Contains(t, out, want)
	}
}

func TestVersionFlag(t *testing.T) {
	out := mustExecute(t, nil, "--version")
	assert.Contains(t, out, "provcat "+Version)
}

func TestCompletionCommand(t *testing.T) {
	out := mustExecute(t, nil, "completion", "bash")
	assert.Contains(t, out, "provcat")

	_, _, err := execute(t, nil, "completion", "tcsh")
	assert.Error(t, err)
}

func TestSystemCommands(t *testing.T) {
	ws := testutil.SetupWorkspace(t)

	out := mustExecute(t, ws, "system", "init")
	got := decodeJSON[map[string]any](t, out)
	assert.Equal(t, true, got["initialised"])
	assert.Equal(t, "sqlite", got["backend"])
	assert.FileExists(t, ws.Database)

	// Running init again is a no-op.
	mustExecute(t, ws, "system", "init")

	out = mustExecute(t, ws, "system", "check")
	assert.Contains(t, out, ws.Database)
}

func TestCatalogCommands(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	mustExecute(t, ws, "system", "init")

	out := mustExecute(t, ws, "metadata", "add", ws.Path("metadata", "eo3.yaml"))
	assert.EqualValues(t, 1, decodeJSON[map[string]any](t, out)["completed"])

	out = mustExecute(t, ws, "product", "add", ws.Path("products"))
	assert.EqualValues(t, 2, decodeJSON[map[string]any](t, out)["completed"])

	// Identical documents are accepted again but count as skipped.
	out = mustExecute(t, ws, "product", "add", ws.Path("products"))
	got := decodeJSON[map[string]any](t, out)
	assert.EqualValues(t, 0, got["completed"])
	assert.EqualValues(t, 2, got["skipped"])

	out = mustExecute(t, ws, "metadata", "list")
	types := decodeJSON[[]map[string]any](t, out)
	require.Len(t, types, 1)
	assert.Equal(t, "eo3", types[0]["name"])

	out = mustExecute(t, ws, "metadata", "show", "eo3")
	assert.Equal(t, "eo3", decodeJSON[map[string]any](t, out)["name"])

	out = mustExecute(t, ws, "product", "list")
	assert.Len(t, decodeJSON[[]map[string]any](t, out), 2)

	out = mustExecute(t, ws, "product", "list", "-o", "text")
	assert.Contains(t, out, "ls8_level1")
	testutil.AssertNoANSI(t, out)
}

func TestDatasetCommands(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	populate(t, ws)

	out := mustExecute(t, ws, "dataset", "get", testutil.ARDID)
	ds := decodeJSON[map[string]any](t, out)
	assert.Equal(t, "ls8_ard", ds["product"])
	assert.Equal(t, []any{"s3://landsat/ard/scene.odc-metadata.yaml"}, ds["uris"])

	out = mustExecute(t, ws, "dataset", "get", testutil.Level1ID, "-o", "text")
	assert.Contains(t, out, "ls8_level1")
	assert.Contains(t, out, "148,-36,149.5,-35")

	// Identical datasets are skipped on re-add, as products are.
	out = mustExecute(t, ws, "dataset", "add", ws.Path("datasets"))
	got := decodeJSON[map[string]any](t, out)
	assert.EqualValues(t, 0, got["completed"])
	assert.EqualValues(t, 3, got["skipped"])

	out = mustExecute(t, ws, "dataset", "archive", testutil.Level1ID, testutil.ARDID)
	assert.EqualValues(t, 2, decodeJSON[map[string]any](t, out)["affected"])

	out = mustExecute(t, ws, "dataset", "get", testutil.Level1ID)
	assert.NotEmpty(t, decodeJSON[map[string]any](t, out)["archived_at"])

	out = mustExecute(t, ws, "dataset", "restore", testutil.Level1ID)
	assert.EqualValues(t, 1, decodeJSON[map[string]any](t, out)["affected"])

	out = mustExecute(t, ws, "dataset", "purge", testutil.DerivedID)
	assert.EqualValues(t, 1, decodeJSON[map[string]any](t, out)["affected"])

	_, _, err := execute(t, ws, "dataset", "get", testutil.DerivedID)
	assert.ErrorContains(t, err, "not found")
}

func TestDatasetAdd_SkipsUnknownProduct(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	mustExecute(t, ws, "system", "init")
	mustExecute(t, ws, "metadata", "add", ws.Path("metadata"))

	out, stderr, err := execute(t, ws, "dataset", "add", ws.Path("datasets"))
	require.NoError(t, err, stderr)
	got := decodeJSON[map[string]any](t, out)
	assert.EqualValues(t, 0, got["completed"])
	assert.EqualValues(t, 3, got["skipped"])
}

func TestLineageCommands(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	populate(t, ws)

	out := mustExecute(t, ws, "lineage", "show", testutil.DerivedID)
	assert.Contains(t, out, `"sources"`)
	assert.Contains(t, out, testutil.ARDID)
	assert.Contains(t, out, testutil.Level1ID)

	out = mustExecute(t, ws, "lineage", "show", testutil.DerivedID, "--depth", "1")
	assert.Contains(t, out, testutil.ARDID)
	assert.NotContains(t, out, testutil.Level1ID)

	out = mustExecute(t, ws, "lineage", "show", testutil.Level1ID, "--direction", "derived", "-o", "text")
	assert.Contains(t, out, "level1 "+testutil.ARDID)
	assert.Contains(t, out, "ard "+testutil.DerivedID)

	mustExecute(t, ws, "lineage", "home", "set", "main", testutil.ARDID, testutil.Level1ID)
	out = mustExecute(t, ws, "lineage", "home", "get", testutil.ARDID, testutil.Level1ID)
	assert.Equal(t, map[string]string{testutil.ARDID: "main", testutil.Level1ID: "main"},
		decodeJSON[map[string]string](t, out))

	mustExecute(t, ws, "lineage", "home", "clear", testutil.Level1ID, "--home", "other")
	mustExecute(t, ws, "lineage", "home", "clear", testutil.ARDID)
	out = mustExecute(t, ws, "lineage", "home", "get", testutil.ARDID, testutil.Level1ID)
	assert.Equal(t, map[string]string{testutil.Level1ID: "main"}, decodeJSON[map[string]string](t, out))

	mustExecute(t, ws, "lineage", "remove", testutil.DerivedID)
	out = mustExecute(t, ws, "lineage", "show", testutil.DerivedID)
	assert.NotContains(t, out, testutil.ARDID)
}

func TestLineageAdd(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	populate(t, ws)

	extra := "4a2f7f2e-0000-4000-8000-0000000000ff"
	trees := filepath.Join(ws.Dir, "trees.yaml")
	require.NoError(t, os.WriteFile(trees, []byte(fmt.Sprintf(`id: %s
sources:
  ard: [{id: %s}]
---
id: %s
sources:
  other: [{id: %s}]
`, extra, testutil.ARDID, testutil.DerivedID, testutil.ARDID)), 0o600))

	// The second tree reclassifies an existing edge, so nothing is written.
	_, _, err := execute(t, ws, "lineage", "add", trees)
	require.Error(t, err)
	out := mustExecute(t, ws, "lineage", "show", extra)
	assert.NotContains(t, out, testutil.ARDID)

	out = mustExecute(t, ws, "lineage", "add", trees, "--validate-only", "--allow-updates")
	assert.Equal(t, true, decodeJSON[map[string]any](t, out)["validate_only"])
	out = mustExecute(t, ws, "lineage", "show", extra)
	assert.NotContains(t, out, testutil.ARDID)

	out = mustExecute(t, ws, "lineage", "add", trees, "--allow-updates")
	assert.EqualValues(t, 2, decodeJSON[map[string]any](t, out)["trees"])
	out = mustExecute(t, ws, "lineage", "show", testutil.DerivedID)
	assert.Contains(t, out, `"other"`)
}

func TestLineageExportImport(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	populate(t, ws)
	mustExecute(t, ws, "lineage", "home", "set", "main", testutil.ARDID)

	export := filepath.Join(ws.Dir, "lineage.yaml")
	mustExecute(t, ws, "lineage", "export", "--file", export)
	data, err := os.ReadFile(export)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "---")+1)
	assert.Contains(t, string(data), "classifier: ard")
	assert.Contains(t, string(data), "home: main")

	other := filepath.Join(ws.Dir, "other.db")
	mustExecute(t, ws, "--database", other, "system", "init")
	out := mustExecute(t, ws, "--database", other, "lineage", "import", export)
	assert.EqualValues(t, 2, decodeJSON[map[string]any](t, out)["completed"])

	out = mustExecute(t, ws, "--database", other, "lineage", "show", testutil.DerivedID)
	assert.Contains(t, out, testutil.Level1ID)
	out = mustExecute(t, ws, "--database", other, "lineage", "home", "get", testutil.ARDID)
	assert.Equal(t, map[string]string{testutil.ARDID: "main"}, decodeJSON[map[string]string](t, out))
}

func TestCloneCommand(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	prod := filepath.Join(ws.Dir, "prod.db")
	f, err := os.OpenFile(ws.ConfigFile, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "environments:\n  prod:\n    index:\n      database: %s\n", prod)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mustExecute(t, ws, "--env", "prod", "system", "init")
	mustExecute(t, ws, "--env", "prod", "metadata", "add", ws.Path("metadata"))
	mustExecute(t, ws, "--env", "prod", "product", "add", ws.Path("products"))
	mustExecute(t, ws, "--env", "prod", "dataset", "add", ws.Path("datasets"))

	mustExecute(t, ws, "system", "init")
	out := mustExecute(t, ws, "clone", "prod")
	got := decodeJSON[map[string]any](t, out)
	assert.Equal(t, "prod", got["source"])
	assert.EqualValues(t, 3, got["datasets"].(map[string]any)["completed"])
	assert.EqualValues(t, 2, got["lineage"].(map[string]any)["completed"])

	out = mustExecute(t, ws, "dataset", "get", testutil.DerivedID)
	assert.Equal(t, testutil.DerivedID, decodeJSON[map[string]any](t, out)["id"])

	_, _, err = execute(t, ws, "--env", "prod", "clone", "prod")
	assert.ErrorContains(t, err, "into itself")
}

func TestBackendsCommand(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	out := mustExecute(t, ws, "backends")
	names := decodeJSON[[]string](t, out)
	assert.Contains(t, names, "sqlite")
	assert.Contains(t, names, "memory")

	out = mustExecute(t, ws, "backends", "-o", "text")
	assert.Contains(t, out, "sqlite")
	assert.Contains(t, out, "*")
}

func TestCommandErrors(t *testing.T) {
	ws := testutil.SetupWorkspace(t)
	mustExecute(t, ws, "system", "init")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad dataset id", []string{"dataset", "get", "not-a-uuid"}, `invalid dataset id "not-a-uuid"`},
		{"unknown environment", []string{"--env", "nope", "backends"}, `unknown environment "nope"`},
		{"unknown backend", []string{"--backend", "oracle", "system", "init"}, "oracle"},
		{"bad direction", []string{"lineage", "show", testutil.ARDID, "--direction", "up"}, "up"},
		{"missing file", []string{"metadata", "add", ws.Path("missing.yaml")}, "missing.yaml"},
		{"missing args", []string{"dataset", "archive"}, "requires at least 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, ws, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
