package duckdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/internal/testutil"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
	"github.com/leapstack-labs/provcat/pkg/index/indextest"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		path string
		p    Params
		want string
	}{
		{"memory", "", Params{}, ""},
		{"file", "/data/catalog.duckdb", Params{}, "/data/catalog.duckdb"},
		{"settings sorted", "x.duckdb", Params{Threads: 4, MemoryLimit: "1GB"}, "x.duckdb?memory_limit=1GB&threads=4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildDSN(tt.path, tt.p))
		})
	}
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, index.ListBackends(), "duckdb")
}

func TestDuckDB_Conformance(t *testing.T) {
	indextest.Run(t, func(t *testing.T) core.Index {
		ctx := context.Background()
		ix, err := Open(ctx, core.IndexConfig{
			Backend:  "duckdb",
			Name:     "duckdb",
			Database: filepath.Join(t.TempDir(), "index.duckdb"),
			Options:  map[string]string{"threads": "2"},
		}, testutil.NewTestLogger(t))
		require.NoError(t, err)
		require.NoError(t, ix.Init(ctx))
		return ix
	})
}
