package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Store persists completed turns per session. Implementations must return
// turns in ascending sequence order.
type Store interface {
	Load(ctx context.Context, key models.SessionKey) ([]*models.Turn, error)
	Append(ctx context.Context, key models.SessionKey, turn *models.Turn) error
	Clear(ctx context.Context, key models.SessionKey) error
}

// DefaultMaxTurns caps how many turns a store keeps or loads per session.
const DefaultMaxTurns = 100

// MemoryStore keeps turns in process memory. History is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	turns    map[models.SessionKey][]*models.Turn
	maxTurns int
}

// NewMemoryStore creates an in-memory store keeping at most maxTurns per
// session (DefaultMaxTurns when <= 0).
func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &MemoryStore{
		turns:    make(map[models.SessionKey][]*models.Turn),
		maxTurns: maxTurns,
	}
}

// Load returns copies of the stored turns.
func (s *MemoryStore) Load(_ context.Context, key models.SessionKey) ([]*models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.turns[key]
	out := make([]*models.Turn, len(stored))
	for i, t := range stored {
		out[i] = t.Clone()
	}
	return out, nil
}

// Append stores a copy of turn.
func (s *MemoryStore) Append(_ context.Context, key models.SessionKey, turn *models.Turn) error {
	if turn == nil {
		return fmt.Errorf("turn is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.turns[key], persistable(turn))
	if len(turns) > s.maxTurns {
		turns = append([]*models.Turn(nil), turns[len(turns)-s.maxTurns:]...)
	}
	s.turns[key] = turns
	return nil
}

// Clear drops every turn for key.
func (s *MemoryStore) Clear(_ context.Context, key models.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, key)
	return nil
}

// persistable copies turn without its grounding bundle, which is rebuilt
// on every turn.
func persistable(turn *models.Turn) *models.Turn {
	return turn.Clone()
}

func encodeTurn(turn *models.Turn) ([]byte, error) {
	data, err := json.Marshal(persistable(turn))
	if err != nil {
		return nil, fmt.Errorf("marshal turn: %w", err)
	}
	return data, nil
}

func decodeTurn(data []byte) (*models.Turn, error) {
	var turn models.Turn
	if err := json.Unmarshal(data, &turn); err != nil {
		return nil, fmt.Errorf("unmarshal turn: %w", err)
	}
	return &turn, nil
}
