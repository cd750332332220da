package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Event is a push-based invalidation notice. Clients refetch the named
// resource; no diff or payload beyond identity is carried (correctness comes
// from the refetch, not the event).
type Event struct {
	Kind string `json:"kind"` // e.g. "cart", "purchase", "listing"
	ID   string `json:"id,omitempty"`
}

// Notifier publishes invalidation events to per-user channels.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event)
	// Subscribe returns a channel of events for one user plus a cancel func.
	Subscribe(ctx context.Context, userID string) (<-chan Event, func())
}

// redisNotifier implements Notifier over Redis pub/sub.
type redisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier creates a Notifier backed by Redis pub/sub.
func NewRedisNotifier(rdb *redis.Client) Notifier {
	return &redisNotifier{rdb: rdb}
}

func channelFor(userID string) string {
	return fmt.Sprintf("sync:%s", userID)
}

// Notify publishes an event. Failures are logged, never fatal: invalidation
// is best-effort and a lost event only delays a refetch.
func (n *redisNotifier) Notify(ctx context.Context, userID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("WARN: failed to marshal sync event for user %s: %v", userID, err)
		return
	}
	if err := n.rdb.Publish(ctx, channelFor(userID), payload).Err(); err != nil {
		log.Printf("WARN: failed to publish sync event for user %s: %v", userID, err)
	}
}

// Subscribe opens a pub/sub subscription for one user's channel.
func (n *redisNotifier) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	sub := n.rdb.Subscribe(ctx, channelFor(userID))
	out := make(chan Event, 8)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("WARN: dropping malformed sync event on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- event:
			default:
				// Slow consumer: drop, the client will refetch on the next event.
			}
		}
	}()

	cancel := func() {
		_ = sub.Close()
	}
	return out, cancel
}

// NopNotifier discards all events. Used in tests and when Redis is absent.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, userID string, event Event) {}

func (NopNotifier) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	ch := make(chan Event)
	return ch, func() { close(ch) }
}
