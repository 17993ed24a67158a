package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

var errBusy = errors.New("busy")

type fakeResetter struct {
	reset []models.SessionKey
	err   error
}

func (f *fakeResetter) Reset(_ context.Context, key models.SessionKey) error {
	if f.err != nil {
		return f.err
	}
	f.reset = append(f.reset, key)
	return nil
}

func newBuiltins(t *testing.T, res Resetter) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	if err := RegisterBuiltins(r, res, func(err error) bool { return errors.Is(err, errBusy) }); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	return r
}

func TestMatchSpellings(t *testing.T) {
	r := newBuiltins(t, &fakeResetter{})
	tests := []struct {
		text string
		want string
	}{
		{"help", "help"},
		{"/help", "help"},
		{"  HELP ", "help"},
		{"?", "help"},
		{"reset", "reset"},
		{"/reset", "reset"},
		{"clear", "reset"},
		{"help me write an email", ""},
		{"what is reset?", ""},
		{"", ""},
	}
	for _, tt := range tests {
		cmd, _, ok := r.Match(tt.text)
		got := ""
		if ok {
			got = cmd.Name
		}
		if got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestResetCommand(t *testing.T) {
	res := &fakeResetter{}
	r := newBuiltins(t, res)
	msg := &models.InboundMessage{ConversationID: "C1", ThreadID: "1.0", SenderID: "U1", Text: "reset"}
	cmd, name, _ := r.Match(msg.Text)

	out, err := r.Execute(context.Background(), &Invocation{Command: cmd, Name: name, Message: msg})
	if err != nil || out.Text != ResetText {
		t.Fatalf("Execute() = %+v, %v", out, err)
	}
	if len(res.reset) != 1 || res.reset[0] != msg.Key() {
		t.Fatalf("reset = %v", res.reset)
	}

	res.err = errBusy
	out, err = r.Execute(context.Background(), &Invocation{Command: cmd, Name: name, Message: msg})
	if err != nil || out.Text != ResetBusyText {
		t.Fatalf("busy Execute() = %+v, %v", out, err)
	}

	res.err = errors.New("disk full")
	if _, err := r.Execute(context.Background(), &Invocation{Command: cmd, Name: name, Message: msg}); err == nil {
		t.Fatal("expected store error")
	}
}

func TestRegisterConflicts(t *testing.T) {
	r := newBuiltins(t, &fakeResetter{})
	noop := func(context.Context, *Invocation) (*Result, error) { return &Result{}, nil }
	if err := r.Register(&Command{Name: "help", Handler: noop}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := r.Register(&Command{Name: "clear", Handler: noop}); err == nil {
		t.Fatal("expected alias conflict")
	}
	if err := r.Register(&Command{Name: "x"}); err == nil {
		t.Fatal("expected missing handler error")
	}
	if len(r.List()) != 2 {
		t.Fatalf("List() = %d commands", len(r.List()))
	}
}
