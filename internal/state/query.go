package state

import (
	"bytes"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// maxInParams bounds the ids bound in a single IN list.
const maxInParams = 500

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// chunks splits ids, sorted and de-duplicated, into IN-list sized groups.
func chunks(ids []uuid.UUID) [][]uuid.UUID {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	sorted = slices.Compact(sorted)

	var out [][]uuid.UUID
	for len(sorted) > 0 {
		n := min(len(sorted), maxInParams)
		out = append(out, sorted[:n])
		sorted = sorted[n:]
	}
	return out
}

func idArgs(ids []uuid.UUID, extra ...any) []any {
	args := make([]any, 0, len(ids)+len(extra))
	for _, id := range ids {
		args = append(args, id.String())
	}
	return append(args, extra...)
}
