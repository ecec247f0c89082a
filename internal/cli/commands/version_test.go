package commands

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
)

func runVersion(t *testing.T, version string) []string {
	t.Helper()
	cmd := NewVersionCommand(version)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

// No backend package is linked into this test binary, so the registry
// starts empty.
func TestVersionCommand_Backends(t *testing.T) {
	lines := runVersion(t, "0.1.0")
	require.Len(t, lines, 3)
	assert.Equal(t, "provcat v0.1.0", lines[0])
	assert.Equal(t, "Dataset provenance catalog", lines[1])
	assert.Equal(t, "backends: none", lines[2])

	open := func(context.Context, core.IndexConfig, *slog.Logger) (core.Index, error) { return nil, nil }
	index.Register("versiontest-b", open)
	index.Register("versiontest-a", open)

	lines = runVersion(t, "dev")
	assert.Equal(t, "provcat vdev", lines[0])
	assert.Equal(t, "backends: versiontest-a, versiontest-b", lines[2])
}

func TestVersionCommand_RejectsArgs(t *testing.T) {
	cmd := NewVersionCommand("1.2.3")
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
