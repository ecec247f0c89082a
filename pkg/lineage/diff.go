package lineage

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Diff lists what must be written to an existing collection to bring it into
// agreement with another one.
type Diff struct {
	AddedRelations   map[IDPair]string
	UpdatedRelations map[IDPair]string
	AddedHomes       map[uuid.UUID]string
	UpdatedHomes     map[uuid.UUID]string
}

// Empty reports whether the diff would change nothing.
func (d Diff) Empty() bool {
	return len(d.AddedRelations) == 0 && len(d.UpdatedRelations) == 0 &&
		len(d.AddedHomes) == 0 && len(d.UpdatedHomes) == 0
}

// HasUpdates reports whether the diff overwrites existing classifiers or homes.
func (d Diff) HasUpdates() bool {
	return len(d.UpdatedRelations) > 0 || len(d.UpdatedHomes) > 0
}

// Relations returns the added and updated relations, ordered by pair.
func (d Diff) Relations() []Relation {
	pairs := slices.Collect(maps.Keys(d.AddedRelations))
	pairs = slices.AppendSeq(pairs, maps.Keys(d.UpdatedRelations))
	slices.SortFunc(pairs, comparePairs)
	out := make([]Relation, 0, len(pairs))
	for _, p := range pairs {
		classifier, ok := d.AddedRelations[p]
		if !ok {
			classifier = d.UpdatedRelations[p]
		}
		out = append(out, Relation{Classifier: classifier, SourceID: p.SourceID, DerivedID: p.DerivedID})
	}
	return out
}

// Homes returns the added and updated homes grouped by home name.
func (d Diff) Homes() map[string][]uuid.UUID {
	out := make(map[string][]uuid.UUID)
	for _, homes := range []map[uuid.UUID]string{d.AddedHomes, d.UpdatedHomes} {
		for _, id := range sortedIDs(maps.Keys(homes)) {
			out[homes[id]] = append(out[homes[id]], id)
		}
	}
	return out
}

// RelationsDiff classifies every relation and home of r against existing.
// The classification is always returned in full. When allowUpdates is false
// and any entry would overwrite an existing classifier or home, an
// InconsistentLineageError naming the first such entry is returned with it.
func (r *Relations) RelationsDiff(existing *Relations, allowUpdates bool) (Diff, error) {
	d := Diff{
		AddedRelations:   make(map[IDPair]string),
		UpdatedRelations: make(map[IDPair]string),
		AddedHomes:       make(map[uuid.UUID]string),
		UpdatedHomes:     make(map[uuid.UUID]string),
	}
	for pair, classifier := range r.relations {
		current, ok := existing.relations[pair]
		switch {
		case !ok:
			d.AddedRelations[pair] = classifier
		case current != classifier:
			d.UpdatedRelations[pair] = classifier
		}
	}
	for id, home := range r.homes {
		current, ok := existing.homes[id]
		switch {
		case !ok:
			d.AddedHomes[id] = home
		case current != home:
			d.UpdatedHomes[id] = home
		}
	}

	if allowUpdates || !d.HasUpdates() {
		return d, nil
	}
	if len(d.UpdatedRelations) > 0 {
		pairs := slices.SortedFunc(maps.Keys(d.UpdatedRelations), comparePairs)
		p := pairs[0]
		return d, inconsistent(p.DerivedID, "source %s is recorded with classifier %q, not %q",
			p.SourceID, existing.relations[p], d.UpdatedRelations[p])
	}
	id := sortedIDs(maps.Keys(d.UpdatedHomes))[0]
	return d, inconsistent(id, "home is recorded as %q, not %q", existing.homes[id], d.UpdatedHomes[id])
}

// Apply writes a diff into the collection, overwriting updated classifiers
// and homes. Added relations are cycle checked as in MergeRelation. On
// error the collection is left unchanged.
func (r *Relations) Apply(d Diff) error {
	return r.stage(func(s *Relations) error {
		for _, id := range sortedIDs(maps.Keys(d.UpdatedHomes)) {
			s.homes[id] = d.UpdatedHomes[id]
			s.datasetIDs[id] = struct{}{}
		}
		for _, id := range sortedIDs(maps.Keys(d.AddedHomes)) {
			if err := s.MergeHome(id, d.AddedHomes[id]); err != nil {
				return err
			}
		}
		for _, pair := range slices.SortedFunc(maps.Keys(d.UpdatedRelations), comparePairs) {
			classifier := d.UpdatedRelations[pair]
			if _, ok := s.relations[pair]; ok {
				s.remove(pair)
				s.insert(Relation{Classifier: classifier, SourceID: pair.SourceID, DerivedID: pair.DerivedID})
				continue
			}
			if err := s.MergeRelation(Relation{Classifier: classifier, SourceID: pair.SourceID, DerivedID: pair.DerivedID}); err != nil {
				return err
			}
		}
		for _, pair := range slices.SortedFunc(maps.Keys(d.AddedRelations), comparePairs) {
			rel := Relation{Classifier: d.AddedRelations[pair], SourceID: pair.SourceID, DerivedID: pair.DerivedID}
			if err := s.MergeRelation(rel); err != nil {
				return err
			}
		}
		return nil
	})
}
