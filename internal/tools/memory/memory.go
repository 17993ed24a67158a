// Package memory exposes the long-term fact store as agent tools.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/devanshuguptaa/Converge-AI/internal/storage"
	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Store is the part of memory.SQLStore the tools need.
type Store interface {
	Store(ctx context.Context, userID, text string) (models.Fact, error)
	FetchRelevant(ctx context.Context, userID, query string, limit int) ([]models.Fact, error)
	List(ctx context.Context, userID string, limit int) ([]models.Fact, error)
	Forget(ctx context.Context, userID, id string) error
}

// ErrNoCaller is returned when a memory tool runs without a user attached.
var ErrNoCaller = errors.New("memory tools require a calling user")

type rememberArgs struct {
	Fact string `json:"fact" jsonschema:"minLength=1,maxLength=2000" jsonschema_description:"A self-contained statement worth remembering about the user"`
}

type recallArgs struct {
	Query string `json:"query,omitempty" jsonschema_description:"What to look for. Leave empty to list the most recent facts."`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20" jsonschema_description:"Maximum facts to return (default 5)"`
}

type forgetArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"minLength=1" jsonschema_description:"ID of the fact, as returned by recall_memories"`
}

// Register adds remember_fact, recall_memories and forget_memory to reg.
func Register(reg *tools.Registry, store Store) error {
	if store == nil {
		return errors.New("memory: store is required")
	}
	descs := []*tools.Descriptor{
		{
			Name:        "remember_fact",
			Description: "Saves a fact about the user for future conversations, such as a preference or a recurring commitment.",
			Parameters:  tools.SchemaFor[rememberArgs](),
			Scopes:      []models.Scope{models.ScopeMemoryWrite},
			Invoker: tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) {
				user, err := callerID(ctx)
				if err != nil {
					return "", err
				}
				args, err := tools.Decode[rememberArgs](raw)
				if err != nil {
					return "", err
				}
				fact, err := store.Store(ctx, user, args.Fact)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Remembered (id %s): %s", fact.ID, fact.Text), nil
			}),
		},
		{
			Name:        "recall_memories",
			Description: "Looks up facts previously saved about the user.",
			Parameters:  tools.SchemaFor[recallArgs](),
			Scopes:      []models.Scope{models.ScopeMemoryRead},
			Invoker: tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) {
				user, err := callerID(ctx)
				if err != nil {
					return "", err
				}
				args, err := tools.Decode[recallArgs](raw)
				if err != nil {
					return "", err
				}
				limit := args.Limit
				if limit <= 0 {
					limit = 5
				}
				var facts []models.Fact
				if strings.TrimSpace(args.Query) == "" {
					facts, err = store.List(ctx, user, limit)
				} else {
					facts, err = store.FetchRelevant(ctx, user, args.Query, limit)
				}
				if err != nil {
					return "", err
				}
				if len(facts) == 0 {
					return "No matching memories.", nil
				}
				var b strings.Builder
				for _, f := range facts {
					fmt.Fprintf(&b, "- [%s] %s (saved %s)\n", f.ID, f.Text, f.CreatedAt.Format("2006-01-02"))
				}
				return strings.TrimRight(b.String(), "\n"), nil
			}),
		},
		{
			Name:        "forget_memory",
			Description: "Deletes a previously saved fact.",
			Parameters:  tools.SchemaFor[forgetArgs](),
			Scopes:      []models.Scope{models.ScopeMemoryWrite},
			Invoker: tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) {
				user, err := callerID(ctx)
				if err != nil {
					return "", err
				}
				args, err := tools.Decode[forgetArgs](raw)
				if err != nil {
					return "", err
				}
				if err := store.Forget(ctx, user, args.MemoryID); err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return fmt.Sprintf("No memory with id %s.", args.MemoryID), nil
					}
					return "", err
				}
				return "Forgotten.", nil
			}),
		},
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func callerID(ctx context.Context) (string, error) {
	c, ok := tools.CallerFrom(ctx)
	if !ok || c.UserID == "" {
		return "", ErrNoCaller
	}
	return c.UserID, nil
}
