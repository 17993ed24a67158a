package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTurnFinishIsOneShot(t *testing.T) {
	turn := NewTurn("t1", SessionKey{ConversationID: "C1"}, "U1", "hi")
	if turn.Status != TurnPending {
		t.Fatalf("status = %s, want pending", turn.Status)
	}
	if err := turn.Finish(TurnCompleted, "hello", nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := turn.Finish(TurnFailed, "again", nil); !errors.Is(err, ErrTurnFinal) {
		t.Fatalf("second Finish() error = %v, want ErrTurnFinal", err)
	}
	if turn.Answer != "hello" || turn.Status != TurnCompleted {
		t.Fatalf("turn mutated after finalize: %+v", turn)
	}
}

func TestTurnFinishRejectsPending(t *testing.T) {
	turn := NewTurn("t1", SessionKey{ConversationID: "C1"}, "U1", "hi")
	if err := turn.Finish(TurnPending, "", nil); err == nil {
		t.Fatal("expected error finishing with pending status")
	}
}

func TestTurnCloneIsDeep(t *testing.T) {
	turn := NewTurn("t1", SessionKey{ConversationID: "C1"}, "U1", "hi")
	turn.Context = &ContextBundle{}
	turn.Exchanges = []ToolExchange{{Call: ToolCall{ID: "c1", Name: "x", Arguments: json.RawMessage(`{"a":1}`)}}}

	clone := turn.Clone()
	clone.Exchanges[0].Call.Arguments[2] = 'b'
	if string(turn.Exchanges[0].Call.Arguments) != `{"a":1}` {
		t.Fatalf("clone shares argument bytes: %s", turn.Exchanges[0].Call.Arguments)
	}
	if clone.Context != nil {
		t.Fatal("clone should drop the context bundle")
	}
}

func TestSessionKeyRoundTrip(t *testing.T) {
	tests := []SessionKey{
		{ConversationID: "D123"},
		{ConversationID: "C123", ThreadID: "1700000000.000100"},
	}
	for _, key := range tests {
		if got := ParseSessionKey(key.String()); got != key {
			t.Errorf("ParseSessionKey(%q) = %+v, want %+v", key.String(), got, key)
		}
	}
}

func TestParseScopes(t *testing.T) {
	set := ParseScopes([]string{
		"https://www.googleapis.com/auth/gmail.modify",
		"https://www.googleapis.com/auth/calendar.readonly",
		"memory.write",
		" ",
	})
	for _, s := range []Scope{ScopeMailModify, ScopeMailRead, ScopeCalendarRead, ScopeMemoryWrite} {
		if !set.Has(s) {
			t.Errorf("expected scope %s in %v", s, set.Sorted())
		}
	}
	if set.Has(ScopeMailSend) || set.Has(ScopeCalendarWrite) {
		t.Fatalf("unexpected scopes: %v", set.Sorted())
	}
}

func TestScopeSetMissing(t *testing.T) {
	set := NewScopeSet(ScopeMailRead)
	missing := set.Missing([]Scope{ScopeMailRead, ScopeMailSend, ScopeCalendarRead})
	if len(missing) != 2 || missing[0] != ScopeMailSend || missing[1] != ScopeCalendarRead {
		t.Fatalf("Missing() = %v", missing)
	}
	if got := JoinScopes(missing); got != "mail.send, calendar.read" {
		t.Fatalf("JoinScopes() = %q", got)
	}
}
