package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

func TestBuildSystemPrompt(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 4, 0, 0, time.UTC)
	bundle := &models.ContextBundle{
		Facts:    []models.Fact{{ID: "m1", Text: "Timezone is CET"}},
		Passages: []models.Passage{{Source: "#eng", Text: "deploy moved to Friday"}, {Text: "no source"}},
	}
	got := BuildSystemPrompt("", bundle, now)

	for _, want := range []string{
		"You are Converge",
		"Current time: Mon, 02 Mar 2026 15:04:00 UTC",
		"1. Timezone is CET (memory id m1)",
		"- [#eng] deploy moved to Friday",
		"- no source",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "unavailable") {
		t.Error("healthy bundle should not mention unavailability")
	}
}

func TestBuildSystemPromptCustomBase(t *testing.T) {
	got := BuildSystemPrompt("Be terse.", nil, time.Unix(0, 0).UTC())
	if !strings.HasPrefix(got, "Be terse.\n\nCurrent time:") {
		t.Fatalf("prompt = %q", got)
	}
}

func TestHistoryMessages(t *testing.T) {
	done := models.NewTurn("1", models.SessionKey{}, "U1", "q1")
	_ = done.Finish(models.TurnCompleted, "a1", nil)
	silent := models.NewTurn("2", models.SessionKey{}, "U1", "q2")

	msgs := HistoryMessages([]*models.Turn{done, nil, silent})
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Content != "a1" || msgs[2].Content != "q2" {
		t.Fatalf("msgs = %+v", msgs)
	}
}
