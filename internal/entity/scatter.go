package entity

// Slot is one output position after scatter. Exactly one of Resolved and
// Malformed is set.
type Slot struct {
	Position  int
	Resolved  *Resolved
	Malformed *Error
}

// Scatter expands resolved keys back over every position that referenced
// them, using the reverse index of d. Malformed references are placed at
// their positions without lookup. The result has len(refs) slots in input
// order; duplicates share the same *Resolved.
func Scatter(refs []Reference, d *Deduped, resolved map[CanonicalKey]*Resolved) []Slot {
	slots := make([]Slot, len(refs))
	for _, ref := range refs {
		if ref.Malformed != nil {
			slots[ref.Position] = Slot{Position: ref.Position, Malformed: ref.Malformed}
		}
	}
	for key, positions := range d.Positions {
		r, ok := resolved[key]
		if !ok {
			r = &Resolved{Key: key, Err: notFound(key)}
		}
		for _, pos := range positions {
			slots[pos] = Slot{Position: pos, Resolved: r}
		}
	}
	return slots
}
