// Package match ranks street records against a normalized query.
package match

import (
	"sort"
	"strings"

	"github.com/kailas-cloud/streetdex/internal/domain/query"
	"github.com/kailas-cloud/streetdex/internal/domain/street"
)

// Strategy names the rule that produced a hit.
type Strategy string

// Strategies, strongest first.
const (
	Exact        Strategy = "exact"
	Prefix       Strategy = "prefix"
	Substring    Strategy = "substring"
	TokenOverlap Strategy = "token_overlap"

	// Provider marks results ranked upstream (address lookups).
	Provider Strategy = "provider"
)

// Score bands. A scaled band adds at most bandWidth to its floor so bands never overlap.
const (
	exactScore     = 4.0
	prefixFloor    = 3.0
	substringFloor = 2.0
	overlapFloor   = 1.0
	bandWidth      = 0.99
)

// Candidate is a scored street record.
type Candidate struct {
	Record   street.Record `json:"record"`
	Score    float64       `json:"score"`
	Strategy Strategy      `json:"strategy"`

	name string // normalized Record.Name
}

// NormalizedName returns the normalized record name used for ordering and identity.
func (c *Candidate) NormalizedName() string {
	if c.name == "" {
		c.name = query.Key(c.Record.Name)
	}
	return c.name
}

// Score evaluates every candidate against q and returns the hits ordered by
// (score desc, normalized name asc, id asc). Each candidate keeps only its best strategy.
// Candidates matching no strategy are dropped; an empty query matches nothing.
func Score(q query.Query, candidates []street.Record) []Candidate {
	if q.IsEmpty() {
		return []Candidate{}
	}

	out := make([]Candidate, 0, len(candidates))
	for _, rec := range candidates {
		name := query.Normalize(rec.Name)
		score, strategy, ok := best(q, name)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Record:   rec,
			Score:    score,
			Strategy: strategy,
			name:     name.Normalized,
		})
	}

	Sort(out)
	return out
}

// best returns the strongest strategy that matches name.
func best(q, name query.Query) (float64, Strategy, bool) {
	qn, cn := q.Normalized, name.Normalized
	if cn == "" {
		return 0, "", false
	}

	switch {
	case qn == cn:
		return exactScore, Exact, true
	case strings.HasPrefix(cn, qn):
		return prefixFloor + bandWidth*lengthRatio(qn, cn), Prefix, true
	case strings.Contains(cn, qn):
		return substringFloor + bandWidth*lengthRatio(qn, cn), Substring, true
	}

	if f := overlap(q.Tokens, name.Tokens); f > 0 {
		return overlapFloor + bandWidth*f, TokenOverlap, true
	}
	return 0, "", false
}

// lengthRatio rewards tighter matches. Callers guarantee len(q) <= len(c).
func lengthRatio(q, c string) float64 {
	return float64(len(q)) / float64(len(c))
}

// overlap returns the fraction of query tokens present in the candidate token set.
func overlap(qTokens, cTokens []string) float64 {
	if len(qTokens) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(cTokens))
	for _, t := range cTokens {
		set[t] = struct{}{}
	}
	hits := 0
	for _, t := range qTokens {
		if _, ok := set[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

// Sort orders candidates by (score desc, normalized name asc, id asc).
func Sort(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := &cands[i], &cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if an, bn := a.NormalizedName(), b.NormalizedName(); an != bn {
			return an < bn
		}
		return a.Record.ID < b.Record.ID
	})
}

// FilterByCategory keeps records of the given categories. No categories (or only "") keeps all.
// It is a pre-filter: apply it before Score so result counts reflect the filtered universe.
func FilterByCategory(records []street.Record, categories ...street.Category) []street.Record {
	allowed := make(map[street.Category]struct{}, len(categories))
	for _, c := range categories {
		if c != "" {
			allowed[c] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return records
	}

	out := make([]street.Record, 0, len(records))
	for _, r := range records {
		if _, ok := allowed[r.Category]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Top truncates cands to at most n entries. n <= 0 keeps all.
func Top(cands []Candidate, n int) []Candidate {
	if n <= 0 || len(cands) <= n {
		return cands
	}
	return cands[:n]
}

// Rank runs the fuzzy pipeline: category pre-filter, score, deduplicate, truncate.
func Rank(q query.Query, records []street.Record, category street.Category, limit int) []Candidate {
	filtered := FilterByCategory(records, category)
	return Top(Deduplicate(Score(q, filtered)), limit)
}

// FromProvider wraps records whose order was decided by the provider. Scores descend
// with position so the provider's order survives Sort.
func FromProvider(records []street.Record) []Candidate {
	out := make([]Candidate, len(records))
	for i, r := range records {
		out[i] = Candidate{
			Record:   r,
			Score:    float64(len(records) - i),
			Strategy: Provider,
			name:     query.Key(r.Name),
		}
	}
	return out
}
