package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry maps command spellings to commands.
type Registry struct {
	commands map[string]*Command // name -> command
	aliases  map[string]string   // alias -> name
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		logger:   logger.With("component", "commands"),
	}
}

// Register adds a command and its aliases.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command is nil")
	}
	if cmd.Name == "" {
		return fmt.Errorf("command name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command handler is required")
	}
	name := normalize(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("command %q already registered", name)
	}
	if existing, exists := r.aliases[name]; exists {
		return fmt.Errorf("command name %q conflicts with alias for %q", name, existing)
	}
	r.commands[name] = cmd

	for _, alias := range cmd.Aliases {
		a := normalize(alias)
		if a == "" || a == name {
			continue
		}
		if _, exists := r.commands[a]; exists {
			r.logger.Warn("alias conflicts with command", "alias", a, "command", name)
			continue
		}
		if _, exists := r.aliases[a]; exists {
			r.logger.Warn("alias already registered", "alias", a, "command", name)
			continue
		}
		r.aliases[a] = name
	}
	return nil
}

// Get looks up a command by name or alias.
func (r *Registry) Get(name string) (*Command, bool) {
	name = normalize(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return cmd, true
	}
	if real, ok := r.aliases[name]; ok {
		cmd, ok := r.commands[real]
		return cmd, ok
	}
	return nil, false
}

// List returns the commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Match reports the command when the whole message is a command
// spelling, with or without a leading slash. Case and surrounding
// whitespace are ignored.
func (r *Registry) Match(text string) (*Command, string, bool) {
	spelled := strings.ToLower(strings.TrimSpace(text))
	if spelled == "" {
		return nil, "", false
	}
	cmd, ok := r.Get(spelled)
	if !ok {
		return nil, "", false
	}
	return cmd, spelled, true
}

// Execute runs a matched command.
func (r *Registry) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	if inv == nil || inv.Command == nil {
		return nil, fmt.Errorf("invocation has no command")
	}
	r.logger.Debug("executing command", "command", inv.Command.Name, "as", inv.Name)
	return inv.Command.Handler(ctx, inv)
}

func normalize(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "/")
}
