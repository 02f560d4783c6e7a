package entity

// TypeKeys is the unique keys of one typename in first-seen order.
type TypeKeys struct {
	Typename string
	Keys     []Key
}

// Deduped is the output of Dedup.
type Deduped struct {
	// ByType partitions unique keys by typename, in first-seen order.
	ByType []TypeKeys
	// Positions is the reverse index from a canonical key to every original
	// position that referenced it, ascending.
	Positions map[CanonicalKey][]int
	Stats     Stats
}

// Stats describes how much a request was reduced by deduplication.
type Stats struct {
	// Total is the number of representations in the request.
	Total int
	// Malformed is the number of representations that never reached resolution.
	Malformed int
	// Unique is the number of distinct canonical keys.
	Unique int
	// Groups is the number of resolver calls issued.
	Groups int
}

// DedupHits is the number of references served by another reference's fetch.
func (s Stats) DedupHits() int { return s.Total - s.Malformed - s.Unique }

// DedupRatio is unique keys over valid references; 1 when nothing was valid.
func (s Stats) DedupRatio() float64 {
	valid := s.Total - s.Malformed
	if valid == 0 {
		return 1
	}
	return float64(s.Unique) / float64(valid)
}

// Dedup collapses references with equal canonical keys. Malformed
// references are counted and skipped.
func Dedup(refs []Reference) *Deduped {
	d := &Deduped{
		Positions: make(map[CanonicalKey][]int, len(refs)),
		Stats:     Stats{Total: len(refs)},
	}
	typeIdx := map[string]int{}
	for _, ref := range refs {
		if ref.Malformed != nil {
			d.Stats.Malformed++
			continue
		}
		ck := Canonicalize(ref.Typename, ref.Keys)
		if prev, seen := d.Positions[ck]; seen {
			d.Positions[ck] = append(prev, ref.Position)
			continue
		}
		d.Positions[ck] = []int{ref.Position}

		ti, ok := typeIdx[ref.Typename]
		if !ok {
			ti = len(d.ByType)
			typeIdx[ref.Typename] = ti
			d.ByType = append(d.ByType, TypeKeys{Typename: ref.Typename})
		}
		fields := make(map[string]any, len(ref.Keys))
		for _, kf := range ref.Keys {
			fields[kf.Name] = kf.Value
		}
		d.ByType[ti].Keys = append(d.ByType[ti].Keys, Key{Canonical: ck, Fields: fields})
		d.Stats.Unique++
	}
	return d
}
