package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/storage"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// DefaultSearchLimit is used when a search passes limit <= 0.
const DefaultSearchLimit = 10

// Document is one indexed workspace message.
type Document struct {
	ChannelID   string
	ChannelName string
	UserID      string
	// Timestamp is the platform message timestamp.
	Timestamp string
	Text      string
}

// ID returns the document's stable key.
func (d Document) ID() string { return d.ChannelID + "_" + d.Timestamp }

// Source renders where the document came from for citation.
func (d Document) Source() string {
	name := d.ChannelID
	if d.ChannelName != "" {
		name = "#" + d.ChannelName
	}
	return fmt.Sprintf("slack %s <@%s> %s", name, d.UserID, d.Timestamp)
}

// Hit is a search result.
type Hit struct {
	Document
	Score float32
}

// SearchOptions narrows a search.
type SearchOptions struct {
	ChannelID string
	Limit     int
	// MinScore drops hits below this similarity.
	MinScore float32
}

// Index stores documents and their embeddings in SQLite and ranks them by
// cosine similarity.
type Index struct {
	db       *sql.DB
	dialect  storage.Dialect
	embedder Embedder
	now      func() time.Time
}

// OpenIndex opens (creating if needed) the SQLite index at path.
func OpenIndex(ctx context.Context, path string, embedder Embedder) (*Index, error) {
	if embedder == nil {
		return nil, errors.New("rag: embedder is required")
	}
	cfg := storage.DefaultConfig()
	cfg.Driver = string(storage.DialectSQLite)
	cfg.DSN = path
	db, dialect, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	idx := NewIndex(db, dialect, embedder)
	if err := idx.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// NewIndex wraps an open database.
func NewIndex(db *sql.DB, dialect storage.Dialect, embedder Embedder) *Index {
	return &Index{db: db, dialect: dialect, embedder: embedder, now: time.Now}
}

// Migrate creates the passages table.
func (x *Index) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, x.db, "rag",
		`CREATE TABLE IF NOT EXISTS converge_passages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL,
			indexed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_converge_passages_channel ON converge_passages(channel_id)`,
	)
}

// Add embeds docs and upserts them. Documents with blank text are skipped.
// It returns the number of documents written.
func (x *Index) Add(ctx context.Context, docs []Document) (int, error) {
	kept := make([]Document, 0, len(docs))
	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Text) == "" || d.ChannelID == "" || d.Timestamp == "" {
			continue
		}
		kept = append(kept, d)
		texts = append(texts, d.Text)
	}
	if len(kept) == 0 {
		return 0, nil
	}

	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(kept) {
		return 0, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vecs), len(kept))
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, x.dialect.Rebind(
		`INSERT INTO converge_passages (id, channel_id, channel_name, user_id, ts, text, embedding, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET text = excluded.text, embedding = excluded.embedding,
			channel_name = excluded.channel_name, indexed_at = excluded.indexed_at`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := x.now().UTC()
	for i, d := range kept {
		emb, err := json.Marshal(vecs[i])
		if err != nil {
			return 0, fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID(), d.ChannelID, d.ChannelName, d.UserID, d.Timestamp, d.Text, string(emb), now); err != nil {
			return 0, fmt.Errorf("failed to insert passage: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit passages: %w", err)
	}
	return len(kept), nil
}

// Query returns the hits most similar to query.
func (x *Index) Query(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	qvec, err := embedOne(ctx, x.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	stmt := `SELECT channel_id, channel_name, user_id, ts, text, embedding FROM converge_passages`
	var args []any
	if opts.ChannelID != "" {
		stmt += ` WHERE channel_id = ?`
		args = append(args, opts.ChannelID)
	}
	rows, err := x.db.QueryContext(ctx, x.dialect.Rebind(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var d Document
		var raw string
		if err := rows.Scan(&d.ChannelID, &d.ChannelName, &d.UserID, &d.Timestamp, &d.Text, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", d.ID(), err)
		}
		score := CosineSimilarity(qvec, vec)
		if score < opts.MinScore {
			continue
		}
		hits = append(hits, Hit{Document: d, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

// Search returns the passages most similar to query across all channels.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]models.Passage, error) {
	hits, err := x.Query(ctx, query, SearchOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]models.Passage, len(hits))
	for i, h := range hits {
		out[i] = models.Passage{Source: h.Source(), Text: h.Text, Score: h.Score}
	}
	return out, nil
}

// DeleteChannel removes every passage from a channel.
func (x *Index) DeleteChannel(ctx context.Context, channelID string) (int64, error) {
	res, err := x.db.ExecContext(ctx, x.dialect.Rebind(`DELETE FROM converge_passages WHERE channel_id = ?`), channelID)
	if err != nil {
		return 0, fmt.Errorf("delete channel passages: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of indexed passages.
func (x *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM converge_passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
