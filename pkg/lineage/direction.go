// Package lineage models dataset provenance: nested lineage trees, the flat
// relation collection they convert to and from, and the consistency rules
// (acyclicity, classifier and home consistency) that every merge enforces.
package lineage

import (
	"fmt"
	"strings"
)

// Direction tags which way the edges of a tree point.
type Direction int

const (
	// Sources trees list the datasets a node was derived from.
	Sources Direction = iota
	// Derived trees list the datasets derived from a node.
	Derived
)

// Serialised keys for the children of a node.
const (
	labelSources     = "sources"
	labelDerivations = "derivations"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Sources {
		return Derived
	}
	return Sources
}

func (d Direction) String() string {
	switch d {
	case Sources:
		return "sources"
	case Derived:
		return "derived"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Label returns the key a serialised tree stores children under.
func (d Direction) Label() string {
	if d == Derived {
		return labelDerivations
	}
	return labelSources
}

// ParseDirection parses a user supplied direction name.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sources", "source", "upstream":
		return Sources, nil
	case "derived", "derivations", "downstream":
		return Derived, nil
	default:
		return Sources, fmt.Errorf("unknown lineage direction %q (want sources or derived)", s)
	}
}
