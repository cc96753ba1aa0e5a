package editlock

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one change notification for a document's lock record. Delivery is
// at-least-once and ordering is only assumed within a single document.
type Event struct {
	Type          EventType `json:"type"`
	DocumentID    uint64    `json:"document_id"`
	OwnerID       uint64    `json:"owner_id"`
	ManualRelease bool      `json:"manual_release,omitempty"`
}

// Realtime is the publish/subscribe channel for lock records, consumed as a
// black box. The returned cancel func must be called before any teardown
// delete so a client's own cleanup cannot echo back into its reconnection
// logic.
type Realtime interface {
	Subscribe(ctx context.Context, docID uint64) (<-chan Event, func(), error)
	Publish(ctx context.Context, ev Event) error
}

func lockChannel(docID uint64) string {
	return fmt.Sprintf("editlock:doc:%d", docID)
}

// RedisRealtime implements Realtime over Redis Pub/Sub, one channel per
// document.
type RedisRealtime struct {
	client *redis.Client
}

func NewRedisRealtime(client *redis.Client) *RedisRealtime {
	return &RedisRealtime{client: client}
}

func (r *RedisRealtime) Publish(ctx context.Context, ev Event) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, lockChannel(ev.DocumentID), payload).Err()
}

func (r *RedisRealtime) Subscribe(ctx context.Context, docID uint64) (<-chan Event, func(), error) {
	if r.client == nil {
		// Redis down: deliver nothing, managers still work off RPC results.
		ch := make(chan Event)
		return ch, func() { close(ch) }, nil
	}

	sub := r.client.Subscribe(ctx, lockChannel(docID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[EDITLOCK] dropping malformed lock event: %v", err)
				continue
			}
			events <- ev
		}
	}()

	cancel := func() {
		_ = sub.Close() // closes sub.Channel(), which ends the goroutine
	}
	return events, cancel, nil
}
