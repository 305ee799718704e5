package cards

// Dedupe returns the candidates whose front does not match any existing
// front, nor any earlier candidate in the same batch. Order is preserved.
// The result is never nil.
func Dedupe(candidates []Candidate, existing []string) []Candidate {
	seen := keySet(existing)
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		k := Key(c.Front)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// DedupeRows applies Dedupe to tabular rows keyed by Front.
func DedupeRows(rows []Row, existing []string) []Row {
	seen := keySet(existing)
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		k := Key(r["Front"])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func keySet(fronts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fronts))
	for _, f := range fronts {
		set[Key(f)] = struct{}{}
	}
	return set
}
