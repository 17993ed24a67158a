package grounding

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// ConflictPolicy decides which source wins when a retrieved passage and a
// remembered fact state different values for the same attribute.
type ConflictPolicy string

const (
	// MemoryWins drops contradicting passages.
	MemoryWins ConflictPolicy = "memory_wins"
	// RetrievalWins drops contradicting facts.
	RetrievalWins ConflictPolicy = "retrieval_wins"
	// KeepBoth drops nothing.
	KeepBoth ConflictPolicy = "keep_both"
)

// ParseConflictPolicy validates a configured policy. Empty selects MemoryWins.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MemoryWins, nil
	case MemoryWins, RetrievalWins, KeepBoth:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// attribute is one "subject verb value" statement, e.g. "user prefers
// mornings".
type attribute struct {
	key   string
	value string
}

var (
	sentenceSplit    = regexp.MustCompile(`[.!?;\n]+`)
	nonWord          = regexp.MustCompile(`[^a-z0-9@:'\- ]+`)
	spaces           = regexp.MustCompile(`\s+`)
	attributePattern = regexp.MustCompile(`^(.{1,60}?) (is|are|prefers|likes|uses|works at|lives in) (.+)$`)
)

var subjectPrefixes = []string{"the ", "my ", "our "}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = nonWord.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func extractAttributes(text string) []attribute {
	var out []attribute
	for _, sentence := range sentenceSplit.Split(text, -1) {
		m := attributePattern.FindStringSubmatch(normalize(sentence))
		if m == nil {
			continue
		}
		subject := m[1]
		for _, prefix := range subjectPrefixes {
			subject = strings.TrimPrefix(subject, prefix)
		}
		value := strings.TrimPrefix(m[3], "not ")
		if value != m[3] {
			value = "not " + value
		}
		out = append(out, attribute{key: subject + " " + m[2], value: value})
	}
	return out
}

func contradicts(a, b []attribute) bool {
	for _, x := range a {
		for _, y := range b {
			if x.key == y.key && x.value != y.value {
				return true
			}
		}
	}
	return false
}

// resolveConflicts applies policy to the bundle in place and records how
// many items were dropped.
func resolveConflicts(bundle *models.ContextBundle, policy ConflictPolicy) {
	if policy == KeepBoth || len(bundle.Passages) == 0 || len(bundle.Facts) == 0 {
		return
	}

	passageAttrs := make([][]attribute, len(bundle.Passages))
	for i, p := range bundle.Passages {
		passageAttrs[i] = extractAttributes(p.Text)
	}
	factAttrs := make([][]attribute, len(bundle.Facts))
	for i, f := range bundle.Facts {
		factAttrs[i] = extractAttributes(f.Text)
	}

	switch policy {
	case RetrievalWins:
		var all []attribute
		for _, attrs := range passageAttrs {
			all = append(all, attrs...)
		}
		kept := bundle.Facts[:0:0]
		for i, f := range bundle.Facts {
			if contradicts(factAttrs[i], all) {
				bundle.Suppressed++
				continue
			}
			kept = append(kept, f)
		}
		bundle.Facts = kept
	default:
		var all []attribute
		for _, attrs := range factAttrs {
			all = append(all, attrs...)
		}
		kept := bundle.Passages[:0:0]
		for i, p := range bundle.Passages {
			if contradicts(passageAttrs[i], all) {
				bundle.Suppressed++
				continue
			}
			kept = append(kept, p)
		}
		bundle.Passages = kept
	}
}
