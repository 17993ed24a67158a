package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/devanshuguptaa/Converge-AI/internal/cron"
)

const (
	// DefaultIndexSchedule runs the indexer hourly.
	DefaultIndexSchedule = "@every 60m"

	// DefaultLookback is how far back each pass reads channel history.
	DefaultLookback = 24 * time.Hour

	indexJobName = "rag.indexer"
	pageSize     = 200
)

// History is the slice of the Slack Web API the indexer reads from.
// *slack.Client satisfies it.
type History interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
}

// IndexStats summarizes one indexing pass.
type IndexStats struct {
	Channels  int
	Skipped   int
	Documents int
	Failed    int
}

// Indexer copies recent channel history into the Index.
type Indexer struct {
	index    *Index
	slack    History
	lookback time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewIndexer creates an indexer reading lookback of history per pass.
func NewIndexer(index *Index, client History, lookback time.Duration, logger *slog.Logger) *Indexer {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		index:    index,
		slack:    client,
		lookback: lookback,
		logger:   logger.With("component", "rag.indexer"),
		now:      time.Now,
	}
}

// Schedule registers the indexer on scheduler.
func (ix *Indexer) Schedule(scheduler *cron.Scheduler, spec string) error {
	if spec == "" {
		spec = DefaultIndexSchedule
	}
	return scheduler.AddSpec(indexJobName, spec, func(ctx context.Context) error {
		_, err := ix.Run(ctx)
		return err
	})
}

// Run indexes every channel the bot is a member of. A failing channel is
// logged and counted; the pass continues.
func (ix *Indexer) Run(ctx context.Context) (IndexStats, error) {
	var stats IndexStats
	start := ix.now()
	oldest := slackTimestamp(start.Add(-ix.lookback))

	cursor := ""
	for {
		channels, next, err := ix.slack.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           pageSize,
			Types:           []string{"public_channel", "private_channel"},
		})
		if err != nil {
			return stats, fmt.Errorf("list channels: %w", err)
		}
		for _, ch := range channels {
			if !ch.IsMember {
				stats.Skipped++
				continue
			}
			n, err := ix.indexChannel(ctx, ch, oldest)
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				stats.Failed++
				ix.logger.Warn("failed to index channel", "channel", ch.ID, "error", err)
				continue
			}
			stats.Channels++
			stats.Documents += n
		}
		if next == "" {
			break
		}
		cursor = next
	}

	ix.logger.Info("indexing pass complete",
		"channels", stats.Channels,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"documents", stats.Documents,
		"duration", ix.now().Sub(start))
	return stats, nil
}

func (ix *Indexer) indexChannel(ctx context.Context, ch slack.Channel, oldest string) (int, error) {
	total := 0
	cursor := ""
	for {
		resp, err := ix.slack.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: ch.ID,
			Cursor:    cursor,
			Oldest:    oldest,
			Limit:     pageSize,
		})
		if err != nil {
			return total, err
		}
		docs := make([]Document, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			if !Indexable(m) {
				continue
			}
			docs = append(docs, Document{
				ChannelID:   ch.ID,
				ChannelName: ch.Name,
				UserID:      m.User,
				Timestamp:   m.Timestamp,
				Text:        m.Text,
			})
		}
		n, err := ix.index.Add(ctx, docs)
		if err != nil {
			return total, err
		}
		total += n
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			return total, nil
		}
		cursor = resp.ResponseMetaData.NextCursor
	}
}

// Indexable reports whether a history message is worth indexing: human
// authored, no subtype, non-empty text.
func Indexable(m slack.Message) bool {
	return m.SubType == "" && m.BotID == "" && m.User != "" && strings.TrimSpace(m.Text) != ""
}

func slackTimestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10) + ".000000"
}
