package memory

import (
	"sort"
	"strings"
	"unicode"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "about": {}, "at": {}, "be": {}, "can": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "have": {}, "how": {}, "i": {}, "in": {},
	"is": {}, "it": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "please": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "why": {}, "with": {}, "you": {}, "your": {},
}

// Keywords lowercases text and returns its distinct content words.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Rank orders facts by how many query keywords they contain and keeps the
// top limit. Facts sharing no keyword are dropped. Ties keep the input
// order, so newest-first input favors recent facts. A query with no
// keywords returns the first limit facts unchanged.
func Rank(facts []models.Fact, query string, limit int) []models.Fact {
	terms := Keywords(query)
	if len(terms) == 0 {
		if len(facts) > limit {
			facts = facts[:limit]
		}
		return append([]models.Fact(nil), facts...)
	}

	type scored struct {
		fact  models.Fact
		score int
	}
	var hits []scored
	for _, f := range facts {
		words := make(map[string]struct{})
		for _, w := range Keywords(f.Text) {
			words[w] = struct{}{}
		}
		score := 0
		for _, t := range terms {
			if _, ok := words[t]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{fact: f, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.Fact, len(hits))
	for i, h := range hits {
		out[i] = h.fact
	}
	return out
}
