package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithconnect/member-service/shared/redis"
	"github.com/faithconnect/member-service/v1/models"
)

const (
	streamReadCount = 50
	streamReadBlock = 5 * time.Second
)

// StreamClient is the part of the Redis client the change stream needs
type StreamClient interface {
	PublishEvent(ctx context.Context, streamName string, data map[string]interface{}) (string, error)
	ReadStream(ctx context.Context, streamName, lastID string, count int64, block time.Duration) ([]redis.StreamMessage, error)
	LastStreamID(ctx context.Context, streamName string) (string, error)
}

// ChangeStream publishes committed member changes to a per-church Redis stream
// and lets HTTP clients follow it
type ChangeStream struct {
	client StreamClient
	block  time.Duration
}

// NewChangeStream creates a change stream over a Redis stream client
func NewChangeStream(client StreamClient) *ChangeStream {
	return &ChangeStream{client: client, block: streamReadBlock}
}

// PublishMemberChanged implements ChangePublisher
func (c *ChangeStream) PublishMemberChanged(ctx context.Context, event *models.MemberChangedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal member change: %w", err)
	}
	_, err = c.client.PublishEvent(ctx, redis.MemberStreamName(event.ChurchID), map[string]interface{}{
		"action":   string(event.Action),
		"memberId": event.MemberID,
		"event":    string(payload),
	})
	return err
}

// Subscribe delivers the church's member changes to fn until ctx ends. An
// empty fromID starts after the newest entry. Permission and shutdown errors
// end the subscription quietly; they are expected when a session logs out
// while a stream is open.
func (c *ChangeStream) Subscribe(ctx context.Context, churchID, fromID string, fn func(id string, event *models.MemberChangedEvent) error) error {
	stream := redis.MemberStreamName(churchID)

	lastID := fromID
	if lastID == "" {
		id, err := c.client.LastStreamID(ctx, stream)
		if err != nil {
			return quietEnd(ctx, churchID, err)
		}
		lastID = id
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := c.client.ReadStream(ctx, stream, lastID, streamReadCount, c.block)
		if err != nil {
			return quietEnd(ctx, churchID, err)
		}
		for _, msg := range msgs {
			lastID = msg.ID
			event, err := decodeChange(msg)
			if err != nil {
				slog.Warn("Skipping malformed member change", "stream", stream, "id", msg.ID, "error", err)
				continue
			}
			if err := fn(msg.ID, event); err != nil {
				return err
			}
		}
	}
}

func quietEnd(ctx context.Context, churchID string, err error) error {
	if ctx.Err() != nil || redis.IsClosedError(err) || redis.IsPermissionError(err) {
		slog.Debug("Member change subscription ended", "churchId", churchID, "reason", err)
		return nil
	}
	return err
}

func decodeChange(msg redis.StreamMessage) (*models.MemberChangedEvent, error) {
	raw, ok := msg.Values["event"].(string)
	if !ok {
		return nil, fmt.Errorf("entry has no event payload")
	}
	var event models.MemberChangedEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, err
	}
	return &event, nil
}
