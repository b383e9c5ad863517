package match

import "github.com/kailas-cloud/streetdex/internal/domain/query"

type identity struct {
	name       string
	locality   string
	department string
}

func identityOf(c *Candidate) identity {
	loc := c.Record.Locality
	return identity{
		name:       c.NormalizedName(),
		locality:   refKey(loc.Locality.ID, loc.Locality.Name),
		department: refKey(loc.Department.ID, loc.Department.Name),
	}
}

// refKey prefers the provider id and falls back to the normalized name when the id is missing.
func refKey(id, name string) string {
	if id != "" {
		return id
	}
	return query.Key(name)
}

// Deduplicate collapses candidates naming the same street in the same locality and department.
// The highest score wins, the earliest wins a tie, and survivors keep their input order.
// Run it after Score and before Top so limits count distinct streets.
func Deduplicate(cands []Candidate) []Candidate {
	winner := make(map[identity]int, len(cands))
	for i := range cands {
		id := identityOf(&cands[i])
		j, seen := winner[id]
		if !seen || cands[i].Score > cands[j].Score {
			winner[id] = i
		}
	}

	out := make([]Candidate, 0, len(winner))
	for i := range cands {
		if winner[identityOf(&cands[i])] == i {
			out = append(out, cands[i])
		}
	}
	return out
}
