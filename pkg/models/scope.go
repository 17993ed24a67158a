package models

import (
	"sort"
	"strings"
)

// Scope is a named permission capability gating one or more tools.
type Scope string

const (
	ScopeMailRead       Scope = "mail.read"
	ScopeMailSend       Scope = "mail.send"
	ScopeMailModify     Scope = "mail.modify"
	ScopeCalendarRead   Scope = "calendar.read"
	ScopeCalendarWrite  Scope = "calendar.write"
	ScopeMemoryRead     Scope = "memory.read"
	ScopeMemoryWrite    Scope = "memory.write"
	ScopeWorkspaceRead  Scope = "workspace.read"
	ScopeWorkspaceWrite Scope = "workspace.write"
	ScopeRemindersWrite Scope = "reminders.write"
)

// AllScopes lists every known scope in declaration order.
var AllScopes = []Scope{
	ScopeMailRead, ScopeMailSend, ScopeMailModify,
	ScopeCalendarRead, ScopeCalendarWrite,
	ScopeMemoryRead, ScopeMemoryWrite,
	ScopeWorkspaceRead, ScopeWorkspaceWrite,
	ScopeRemindersWrite,
}

// googleScopeSuffixes maps Google OAuth scope suffixes onto local scopes.
var googleScopeSuffixes = map[string]Scope{
	"gmail.readonly":    ScopeMailRead,
	"gmail.send":        ScopeMailSend,
	"gmail.compose":     ScopeMailSend,
	"gmail.modify":      ScopeMailModify,
	"calendar.readonly": ScopeCalendarRead,
	"calendar.events":   ScopeCalendarWrite,
	"calendar":          ScopeCalendarWrite,
}

// ScopeSet is a set of granted scopes.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from the given scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// ParseScopes builds a set from configuration strings. Google OAuth scope
// URLs are translated to their local equivalents; gmail.modify also implies
// mail.read and calendar.events also implies calendar.read.
func ParseScopes(values []string) ScopeSet {
	set := make(ScopeSet, len(values))
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if idx := strings.LastIndex(v, "/auth/"); idx >= 0 {
			v = v[idx+len("/auth/"):]
		}
		if mapped, ok := googleScopeSuffixes[v]; ok {
			set[mapped] = struct{}{}
			switch mapped {
			case ScopeMailModify:
				set[ScopeMailRead] = struct{}{}
			case ScopeCalendarWrite:
				set[ScopeCalendarRead] = struct{}{}
			}
			continue
		}
		set[Scope(strings.ToLower(v))] = struct{}{}
	}
	return set
}

// Has reports whether s is granted.
func (set ScopeSet) Has(s Scope) bool {
	_, ok := set[s]
	return ok
}

// Missing returns the scopes in required that are not granted, in the order
// given.
func (set ScopeSet) Missing(required []Scope) []Scope {
	var missing []Scope
	for _, s := range required {
		if !set.Has(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// Union returns a new set holding the scopes of both sets.
func (set ScopeSet) Union(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(set)+len(other))
	for s := range set {
		out[s] = struct{}{}
	}
	for s := range other {
		out[s] = struct{}{}
	}
	return out
}

// Sorted returns the scopes in lexical order.
func (set ScopeSet) Sorted() []Scope {
	out := make([]Scope, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// JoinScopes renders scopes as a comma separated list.
func JoinScopes(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
