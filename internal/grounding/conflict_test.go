package grounding

import (
	"context"
	"testing"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

func conflictingDeps() Deps {
	return Deps{
		Retriever: &fakeRetriever{passages: []models.Passage{
			{Source: "C1/1", Text: "The standup is at 10am."},
			{Source: "C1/2", Text: "Release notes were posted."},
		}},
		Memory: &fakeMemory{facts: []models.Fact{
			{ID: "f1", Text: "The standup is at 9am"},
			{ID: "f2", Text: "User prefers short answers"},
		}},
	}
}

func TestConflictPolicies(t *testing.T) {
	tests := []struct {
		policy       ConflictPolicy
		wantPassages int
		wantFacts    int
		suppressed   int
	}{
		{MemoryWins, 1, 2, 1},
		{RetrievalWins, 2, 1, 1},
		{KeepBoth, 2, 2, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ConflictPolicy = tt.policy
			b := NewPipeline(cfg, conflictingDeps()).Assemble(context.Background(), nil, "U1", "when is standup")
			if len(b.Passages) != tt.wantPassages || len(b.Facts) != tt.wantFacts || b.Suppressed != tt.suppressed {
				t.Fatalf("passages=%d facts=%d suppressed=%d, want %d/%d/%d",
					len(b.Passages), len(b.Facts), b.Suppressed, tt.wantPassages, tt.wantFacts, tt.suppressed)
			}
		})
	}
}

func TestMemoryWinsKeepsAgreeingPassages(t *testing.T) {
	deps := Deps{
		Retriever: &fakeRetriever{passages: []models.Passage{{Text: "The standup is at 9am!"}}},
		Memory:    &fakeMemory{facts: []models.Fact{{ID: "f1", Text: "standup is at 9am"}}},
	}
	b := NewPipeline(DefaultConfig(), deps).Assemble(context.Background(), nil, "U1", "q")
	if len(b.Passages) != 1 || b.Suppressed != 0 {
		t.Fatalf("agreeing passage dropped: %+v", b)
	}
}

func TestParseConflictPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ConflictPolicy
		wantErr bool
	}{
		{"", MemoryWins, false},
		{"memory_wins", MemoryWins, false},
		{" Retrieval_Wins ", RetrievalWins, false},
		{"keep_both", KeepBoth, false},
		{"newest", "", true},
	}
	for _, tt := range tests {
		got, err := ParseConflictPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseConflictPolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestExtractAttributes(t *testing.T) {
	attrs := extractAttributes("My timezone is PST. Alice prefers email; nothing here")
	if len(attrs) != 2 {
		t.Fatalf("attrs = %+v", attrs)
	}
	if attrs[0].key != "timezone is" || attrs[0].value != "pst" {
		t.Errorf("attrs[0] = %+v", attrs[0])
	}
	if attrs[1].key != "alice prefers" || attrs[1].value != "email" {
		t.Errorf("attrs[1] = %+v", attrs[1])
	}
}
