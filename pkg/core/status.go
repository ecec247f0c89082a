package core

import (
	"fmt"
	"slices"
	"time"
)

// BatchStatus is the outcome of one bulk-add call.
type BatchStatus struct {
	Completed int
	Skipped   int
	Elapsed   time.Duration
	// Safe lists the submitted keys known to be stored as given, either
	// freshly added or identical to what already existed. Nil when the
	// backend does not track it.
	Safe []string
}

// Add aggregates two statuses. Safe sets are unioned; the result is nil only
// when neither side tracks safe keys.
func (s BatchStatus) Add(other BatchStatus) BatchStatus {
	out := BatchStatus{
		Completed: s.Completed + other.Completed,
		Skipped:   s.Skipped + other.Skipped,
		Elapsed:   s.Elapsed + other.Elapsed,
	}
	if s.Safe != nil || other.Safe != nil {
		out.Safe = UnionKeys(s.Safe, other.Safe)
	}
	return out
}

// SafeSet returns Safe as a set, or nil when untracked.
func (s BatchStatus) SafeSet() map[string]struct{} {
	if s.Safe == nil {
		return nil
	}
	set := make(map[string]struct{}, len(s.Safe))
	for _, k := range s.Safe {
		set[k] = struct{}{}
	}
	return set
}

func (s BatchStatus) String() string {
	return fmt.Sprintf("%d completed, %d skipped in %s", s.Completed, s.Skipped, s.Elapsed.Round(time.Millisecond))
}

// UnionKeys returns the sorted, de-duplicated union of key lists.
func UnionKeys(lists ...[]string) []string {
	out := make([]string, 0)
	for _, l := range lists {
		out = append(out, l...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
