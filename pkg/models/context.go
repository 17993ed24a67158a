package models

import "time"

// Passage is a retrieved snippet from the workspace index.
type Passage struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

// Fact is a remembered statement about a user.
type Fact struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Text       string    `json:"text"`
	Provenance string    `json:"provenance,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// ContextBundle is the grounding material assembled before reasoning. It is
// built fresh per turn.
type ContextBundle struct {
	Passages []Passage `json:"passages"`
	Facts    []Fact    `json:"facts"`
	History  []*Turn   `json:"-"`

	// Degraded names the collaborators that failed while assembling.
	Degraded []string `json:"degraded,omitempty"`

	// Suppressed counts items dropped by the conflict policy.
	Suppressed int `json:"suppressed,omitempty"`
}

// IsDegraded reports whether the named collaborator failed.
func (b *ContextBundle) IsDegraded(name string) bool {
	for _, d := range b.Degraded {
		if d == name {
			return true
		}
	}
	return false
}
