package comment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventCreated  EventType = "comment_created"
	EventUpdated  EventType = "comment_updated"
	EventResolved EventType = "comment_resolved"
	EventDeleted  EventType = "comment_deleted"
)

// Event tells other open editors of the same document to refresh their
// comment list. Payloads carry ids only; receivers refetch.
type Event struct {
	Type       EventType `json:"type"`
	DocumentID uint64    `json:"document_id"`
	CommentID  uint64    `json:"comment_id"`
	ActorID    uint64    `json:"actor_id"`
}

// Publisher broadcasts comment events. Publishing is best effort; a missed
// event means a stale list until the next fetch, never lost data.
type Publisher interface {
	PublishComment(ctx context.Context, ev Event) error
}

func commentChannel(docID uint64) string {
	return fmt.Sprintf("comments:doc:%d", docID)
}

// RedisPublisher implements Publisher over Redis Pub/Sub, one channel per
// document. A nil client degrades to no-op.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishComment(ctx context.Context, ev Event) error {
	if p.client == nil {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, commentChannel(ev.DocumentID), payload).Err()
}
