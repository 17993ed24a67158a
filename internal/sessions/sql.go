package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/storage"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// SQLStore persists turns in a relational database.
type SQLStore struct {
	db       *sql.DB
	dialect  storage.Dialect
	maxTurns int
}

// SQLConfig configures OpenSQLStore.
type SQLConfig struct {
	Driver   string
	DSN      string
	MaxTurns int

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// OpenSQLStore opens the database, verifies the connection and creates the
// schema if needed.
func OpenSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	dbCfg := storage.DefaultConfig()
	dbCfg.Driver = cfg.Driver
	dbCfg.DSN = cfg.DSN
	if cfg.MaxOpenConns > 0 {
		dbCfg.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		dbCfg.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	db, dialect, err := storage.Open(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	store := NewSQLStore(db, dialect, cfg.MaxTurns)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect storage.Dialect, maxTurns int) *SQLStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &SQLStore{db: db, dialect: dialect, maxTurns: maxTurns}
}

// Migrate creates the turns table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, s.db, "sessions",
		`CREATE TABLE IF NOT EXISTS converge_turns (
			session_key TEXT NOT NULL,
			seq BIGINT NOT NULL,
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload `+s.dialect.JSONType()+` NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_key, seq)
		)`)
}

// Load returns the most recent turns for key, oldest first.
func (s *SQLStore) Load(ctx context.Context, key models.SessionKey) ([]*models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT payload FROM converge_turns WHERE session_key = ? ORDER BY seq DESC LIMIT ?`),
		key.String(), s.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var turns []*models.Turn
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn, err := decodeTurn(payload)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Append inserts turn.
func (s *SQLStore) Append(ctx context.Context, key models.SessionKey, turn *models.Turn) error {
	if turn == nil {
		return fmt.Errorf("turn is required")
	}
	payload, err := encodeTurn(turn)
	if err != nil {
		return err
	}
	created := turn.FinishedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO converge_turns (session_key, seq, id, user_id, status, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		key.String(), turn.Seq, turn.ID, turn.UserID, string(turn.Status), string(payload), created.UTC())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Clear deletes every turn for key.
func (s *SQLStore) Clear(ctx context.Context, key models.SessionKey) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM converge_turns WHERE session_key = ?`), key.String()); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
