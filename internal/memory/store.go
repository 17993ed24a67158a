// Package memory stores durable facts about users and ranks them against an
// incoming message.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devanshuguptaa/Converge-AI/internal/storage"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

const (
	// MaxFactLength bounds a stored fact in bytes.
	MaxFactLength = 2000

	// DefaultLimit is used when a caller passes limit <= 0.
	DefaultLimit = 5

	// scanLimit caps how many of a user's facts are ranked per query.
	scanLimit = 500
)

var (
	ErrEmptyFact    = errors.New("fact text is required")
	ErrFactTooLong  = fmt.Errorf("fact exceeds %d bytes", MaxFactLength)
	ErrUserRequired = errors.New("user id is required")
)

// ProvenanceConversation marks facts saved through the remember tool.
const ProvenanceConversation = "conversation"

// Config configures Open.
type Config struct {
	Driver string
	DSN    string
}

// SQLStore keeps facts in a relational table.
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
	now     func() time.Time
}

// Open connects to the database and creates the facts table.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	dbCfg := storage.DefaultConfig()
	dbCfg.Driver = cfg.Driver
	dbCfg.DSN = cfg.DSN
	db, dialect, err := storage.Open(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Migrate creates the facts table and its user index.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, s.db, "memory",
		`CREATE TABLE IF NOT EXISTS converge_facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			provenance TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_converge_facts_user ON converge_facts(user_id, created_at)`,
	)
}

// Store saves a fact for userID.
func (s *SQLStore) Store(ctx context.Context, userID, text string) (models.Fact, error) {
	return s.StoreWithProvenance(ctx, userID, text, ProvenanceConversation)
}

// StoreWithProvenance saves a fact with an explicit provenance label.
func (s *SQLStore) StoreWithProvenance(ctx context.Context, userID, text, provenance string) (models.Fact, error) {
	if strings.TrimSpace(userID) == "" {
		return models.Fact{}, ErrUserRequired
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Fact{}, ErrEmptyFact
	}
	if len(text) > MaxFactLength {
		return models.Fact{}, ErrFactTooLong
	}
	fact := models.Fact{
		ID:         uuid.NewString(),
		UserID:     userID,
		Text:       text,
		Provenance: provenance,
		CreatedAt:  s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO converge_facts (id, user_id, text, provenance, created_at) VALUES (?, ?, ?, ?, ?)`),
		fact.ID, fact.UserID, fact.Text, fact.Provenance, fact.CreatedAt)
	if err != nil {
		return models.Fact{}, fmt.Errorf("store fact: %w", err)
	}
	return fact, nil
}

// List returns the user's facts, newest first.
func (s *SQLStore) List(ctx context.Context, userID string, limit int) ([]models.Fact, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}
	if limit <= 0 || limit > scanLimit {
		limit = scanLimit
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT id, user_id, text, provenance, created_at FROM converge_facts WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var facts []models.Fact
	for rows.Next() {
		var f models.Fact
		if err := rows.Scan(&f.ID, &f.UserID, &f.Text, &f.Provenance, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	return facts, nil
}

// FetchRelevant returns up to limit of the user's facts that share keywords
// with query, best match first. An empty query returns the newest facts.
func (s *SQLStore) FetchRelevant(ctx context.Context, userID, query string, limit int) ([]models.Fact, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	facts, err := s.List(ctx, userID, scanLimit)
	if err != nil {
		return nil, err
	}
	return Rank(facts, query, limit), nil
}

// Forget deletes one of the user's facts. Facts owned by other users are
// reported as not found.
func (s *SQLStore) Forget(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM converge_facts WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("forget fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("forget fact: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("fact %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
