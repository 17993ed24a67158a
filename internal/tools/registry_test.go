package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

func echoInvoker() Invoker {
	return InvokerFunc(func(_ context.Context, args json.RawMessage) (string, error) {
		return string(args), nil
	})
}

type sendArgs struct {
	To      string `json:"to" jsonschema_description:"Recipient email address"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	CC      string `json:"cc,omitempty"`
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Descriptor{Name: "send_email", Invoker: echoInvoker()}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := reg.Register(&Descriptor{Name: "send_email", Invoker: echoInvoker()})
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("Register() error = %v, want ErrDuplicateTool", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		desc *Descriptor
		want string
	}{
		{name: "nil", desc: nil, want: "nil"},
		{name: "empty name", desc: &Descriptor{Invoker: echoInvoker()}, want: "name is required"},
		{name: "no invoker", desc: &Descriptor{Name: "x"}, want: "invoker is required"},
		{name: "long name", desc: &Descriptor{Name: strings.Repeat("a", MaxToolNameLength+1), Invoker: echoInvoker()}, want: "exceeds"},
		{name: "bad schema", desc: &Descriptor{Name: "x", Invoker: echoInvoker(), Parameters: json.RawMessage(`{"type": 12}`)}, want: "compile schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.desc)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Register() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestResolveNotFound(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Resolve("missing"); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrToolNotFound", err)
	}
}

func TestFreezeBlocksRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Descriptor{Name: "a", Invoker: echoInvoker()})
	reg.Freeze()
	if !reg.Frozen() {
		t.Fatal("expected frozen registry")
	}
	if err := reg.Register(&Descriptor{Name: "b", Invoker: echoInvoker()}); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("Register() error = %v, want ErrRegistryFrozen", err)
	}
	if _, err := reg.Resolve("a"); err != nil {
		t.Fatalf("Resolve() after freeze error = %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	d := &Descriptor{Name: "send_email", Scopes: []models.Scope{models.ScopeMailSend}}

	deny := Authorize(models.NewScopeSet(models.ScopeMailRead), d)
	if deny.Allowed {
		t.Fatal("expected deny")
	}
	if len(deny.Missing) != 1 || deny.Missing[0] != models.ScopeMailSend {
		t.Fatalf("Missing = %v", deny.Missing)
	}
	if deny.String() != "deny(mail.send)" {
		t.Fatalf("String() = %q", deny.String())
	}

	allow := Authorize(models.NewScopeSet(models.ScopeMailRead, models.ScopeMailSend), d)
	if !allow.Allowed || len(allow.Missing) != 0 {
		t.Fatalf("expected allow, got %+v", allow)
	}

	open := Authorize(nil, &Descriptor{Name: "help"})
	if !open.Allowed {
		t.Fatal("tool without scopes should be allowed for any caller")
	}
}

func TestCatalogFiltersByScope(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Descriptor{Name: "send_email", Scopes: []models.Scope{models.ScopeMailSend}, Invoker: echoInvoker()})
	reg.MustRegister(&Descriptor{Name: "list_recent_emails", Scopes: []models.Scope{models.ScopeMailRead}, Invoker: echoInvoker()})
	reg.MustRegister(&Descriptor{Name: "get_user_info", Invoker: echoInvoker()})

	got := reg.Catalog(models.NewScopeSet(models.ScopeMailRead))
	var names []string
	for _, d := range got {
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "get_user_info,list_recent_emails" {
		t.Fatalf("Catalog() = %v", names)
	}
	if len(reg.Catalog(nil)) != 3 {
		t.Fatalf("Catalog(nil) should return every tool")
	}
}

func TestValidateArgsWithReflectedSchema(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Descriptor{Name: "send_email", Parameters: SchemaFor[sendArgs](), Invoker: echoInvoker()})
	d, err := reg.Resolve("send_email")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if err := d.ValidateArgs(json.RawMessage(`{"to":"a@b.c","subject":"s","body":"b"}`)); err != nil {
		t.Fatalf("ValidateArgs(valid) error = %v", err)
	}
	if err := d.ValidateArgs(json.RawMessage(`{"to":"a@b.c"}`)); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("ValidateArgs(missing) error = %v, want ErrInvalidArguments", err)
	}
	if err := d.ValidateArgs(json.RawMessage(`not json`)); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("ValidateArgs(garbage) error = %v, want ErrInvalidArguments", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(d.Parameters, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if _, ok := schema["$schema"]; ok {
		t.Fatal("schema should not carry $schema")
	}
	required, _ := schema["required"].([]any)
	if len(required) != 3 {
		t.Fatalf("required = %v, want to/subject/body", required)
	}
}

func TestConcurrentResolveAfterFreeze(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		reg.MustRegister(&Descriptor{Name: name, Invoker: echoInvoker()})
	}
	reg.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range reg.Names() {
				if _, err := reg.Resolve(name); err != nil {
					t.Errorf("Resolve(%s) error = %v", name, err)
				}
			}
		}()
	}
	wg.Wait()
}
