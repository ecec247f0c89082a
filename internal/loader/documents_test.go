package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/pkg/core"
)

func collect(t *testing.T, docs func(func(core.Document, error) bool)) ([]core.Document, error) {
	t.Helper()
	var out []core.Document
	for doc, err := range docs {
		if err != nil {
			return out, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr string
	}{
		{"single yaml", "name: eo3\n", 1, ""},
		{"multi document", "name: a\n---\nname: b\n---\nname: c\n", 3, ""},
		{"empty documents skipped", "---\n---\nname: a\n---\n", 1, ""},
		{"json", `{"name": "ls8", "metadata_type": "eo3"}`, 1, ""},
		{"empty", "", 0, ""},
		{"malformed second document", "name: a\n---\nname: [\n", 1, "document 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := collect(t, Decode(strings.NewReader(tt.input), "in.yaml"))
			assert.Len(t, docs, tt.want)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var parseErr *DocumentParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, "in.yaml", parseErr.File)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecode_Nested(t *testing.T) {
	docs, err := collect(t, Decode(strings.NewReader(`
id: 8f1e0d8a-6b8a-4d44-9d0b-1f1a4d6a0b10
product: {name: ls8}
lineage:
  ard: [1b0e3f48-2c34-4c57-9f33-bd2c2d6a3e77]
`), ""))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	product, ok := docs[0]["product"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ls8", product["name"])
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(a, []byte("name: a\n---\nname: b\n"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte(`{"name": "c"}`), 0o600))

	docs, err := collect(t, ReadFiles([]string{a, b}))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "c", docs[2]["name"])

	_, err = collect(t, ReadFile(filepath.Join(dir, "missing.yaml")))
	assert.ErrorContains(t, err, "failed to open")
}

func TestScanDir_SkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "c.json", ".hidden.yaml", "_partial.yaml", "notes.txt", ".git/x.yaml", "sub/d.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("name: x\n"), 0o600))
	}

	files, err := ScanDir(dir)
	require.NoError(t, err)
	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(dir, f)
		require.NoError(t, err)
		rel = append(rel, r)
	}
	assert.Equal(t, []string{"a.yml", "b.yaml", "c.json", filepath.Join("sub", "d.yaml")}, rel)
}
