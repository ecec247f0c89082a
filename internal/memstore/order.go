package memstore

import (
	"bytes"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/lineage"
)

func compareIDs(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) }

// comparePairs orders by derived id, then source id.
func comparePairs(a, b lineage.IDPair) int {
	if c := compareIDs(a.DerivedID, b.DerivedID); c != 0 {
		return c
	}
	return compareIDs(a.SourceID, b.SourceID)
}

func sortedPairs(rels map[lineage.IDPair]string) []lineage.IDPair {
	return slices.SortedFunc(maps.Keys(rels), comparePairs)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, compareIDs)
	return slices.Compact(out)
}
