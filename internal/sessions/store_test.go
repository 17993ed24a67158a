package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
	"github.com/redis/go-redis/v9"
)

var testKey = models.SessionKey{ConversationID: "D123", ThreadID: "1700000000.000100"}

func finishedTurn(t *testing.T, seq int64, input, answer string) *models.Turn {
	t.Helper()
	turn := models.NewTurn(fmt.Sprintf("turn-%d", seq), testKey, "U1", input)
	turn.Seq = seq
	turn.Context = &models.ContextBundle{Facts: []models.Fact{{ID: "f1", Text: "likes tea"}}}
	turn.Exchanges = []models.ToolExchange{{
		Call:   models.ToolCall{ID: "call_1", Name: "list_recent_emails", Arguments: json.RawMessage(`{"limit":3}`)},
		Result: models.ToolResult{CallID: "call_1", Success: true, Content: "3 emails"},
	}}
	if err := turn.Finish(models.TurnCompleted, answer, nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return turn
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)

	for i := int64(1); i <= 3; i++ {
		if err := store.Append(ctx, testKey, finishedTurn(t, i, "q", "a")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	turns, err := store.Load(ctx, testKey)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(turns) != 2 || turns[0].Seq != 2 || turns[1].Seq != 3 {
		t.Fatalf("Load() = %d turns, want seq 2 and 3", len(turns))
	}
	if turns[0].Context != nil {
		t.Fatal("stored turns should not carry the context bundle")
	}

	// Mutating a loaded copy must not leak into the store.
	turns[0].Answer = "changed"
	again, _ := store.Load(ctx, testKey)
	if again[0].Answer != "a" {
		t.Fatalf("store mutated through loaded copy: %q", again[0].Answer)
	}

	if err := store.Clear(ctx, testKey); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if turns, _ := store.Load(ctx, testKey); len(turns) != 0 {
		t.Fatalf("Load() after Clear = %d turns", len(turns))
	}
}

func setupRedisStore(t *testing.T, cfg RedisConfig) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, cfg)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestRedisStoreAppendLoad(t *testing.T) {
	ctx := context.Background()
	_, store := setupRedisStore(t, RedisConfig{MaxTurns: 3})

	for i := int64(1); i <= 5; i++ {
		if err := store.Append(ctx, testKey, finishedTurn(t, i, fmt.Sprintf("q%d", i), "a")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	turns, err := store.Load(ctx, testKey)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("Load() = %d turns, want 3", len(turns))
	}
	if turns[0].Input != "q3" || turns[2].Input != "q5" {
		t.Fatalf("Load() order = %q..%q", turns[0].Input, turns[2].Input)
	}
	if len(turns[2].Exchanges) != 1 || string(turns[2].Exchanges[0].Call.Arguments) != `{"limit":3}` {
		t.Fatalf("exchanges not preserved: %+v", turns[2].Exchanges)
	}
}

func TestRedisStoreMissingKey(t *testing.T) {
	_, store := setupRedisStore(t, RedisConfig{})
	turns, err := store.Load(context.Background(), models.SessionKey{ConversationID: "nope"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("Load() = %d turns, want 0", len(turns))
	}
}

func TestRedisStoreTTLAndClear(t *testing.T) {
	ctx := context.Background()
	mr, store := setupRedisStore(t, RedisConfig{Prefix: "test:", TTL: time.Hour})

	if err := store.Append(ctx, testKey, finishedTurn(t, 1, "q", "a")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	key := "test:turns:" + testKey.String()
	if !mr.Exists(key) {
		t.Fatalf("expected key %s", key)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if turns, _ := store.Load(ctx, testKey); len(turns) != 0 {
		t.Fatalf("expected expired history, got %d turns", len(turns))
	}

	if err := store.Append(ctx, testKey, finishedTurn(t, 1, "q", "a")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Clear(ctx, testKey); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("Clear() left the key behind")
	}
}
