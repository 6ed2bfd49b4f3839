// Package pubsub wraps Redis pub/sub as the best-effort push layer. Delivery
// is not guaranteed; every consumer also polls the match store.
package pubsub

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	publishRetries = 3
	retryBackoff   = 200 * time.Millisecond
)

type Broker struct {
	rdb *redis.Client
}

func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Publish pushes a payload to one topic, retrying transient failures with
// backoff. A message lost after the retries is acceptable: the polling path
// carries the same information.
func (b *Broker) Publish(topic string, payload []byte) error {
	var err error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
		err = b.rdb.Publish(context.Background(), topic, payload).Err()
		if err == nil {
			return nil
		}
	}
	return err
}

// Subscribe delivers each payload published to the topic to handler from a
// dedicated goroutine until the context is cancelled.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) {
	sub := b.rdb.Subscribe(ctx, topic)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	log.Printf("Subscribed to %s", topic)
}
