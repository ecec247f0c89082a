package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/internal/testutil"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
	"github.com/leapstack-labs/provcat/pkg/index/indextest"
)

func TestMemory_Conformance(t *testing.T) {
	indextest.Run(t, func(t *testing.T) core.Index {
		ctx := context.Background()
		ix, err := index.Open(ctx, core.IndexConfig{Backend: "memory", Name: "mem", BatchSize: 50}, testutil.NewTestLogger(t))
		require.NoError(t, err)
		require.NoError(t, ix.Init(ctx))
		return ix
	})
}
