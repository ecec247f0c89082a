package lineage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInconsistentLineage matches every InconsistentLineageError via errors.Is.
var ErrInconsistentLineage = errors.New("inconsistent lineage")

// InconsistentLineageError reports a violated lineage invariant: a cycle, a
// classifier conflict, a home conflict or a malformed tree.
type InconsistentLineageError struct {
	ID     uuid.UUID
	Reason string
}

func (e *InconsistentLineageError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("inconsistent lineage: %s", e.Reason)
	}
	return fmt.Sprintf("inconsistent lineage for %s: %s", e.ID, e.Reason)
}

// Is reports whether target is ErrInconsistentLineage.
func (e *InconsistentLineageError) Is(target error) bool {
	return target == ErrInconsistentLineage
}

func inconsistent(id uuid.UUID, format string, args ...any) error {
	return &InconsistentLineageError{ID: id, Reason: fmt.Sprintf(format, args...)}
}
