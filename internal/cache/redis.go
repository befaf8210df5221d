// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannelPrefix namespaces hub traffic on a shared Redis.
const DefaultChannelPrefix = "arena:hub"

// ConnectRedis creates a client for addr and checks that the server answers.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Deliverer receives events that arrive from Redis. *hub.Hub satisfies it.
type Deliverer interface {
	Deliver(topic string, data []byte) int
}

// Bridge is a hub.Publisher that shares events between server instances over Redis
// Pub/Sub. Publish delivers to local subscribers before returning, like the hub itself,
// and forwards the event to Redis for the other instances; Run delivers what they publish.
// Redis Pub/Sub keeps no history, so on every instance only clients subscribed when the
// event arrives see it.
type Bridge struct {
	rdb    *redis.Client
	prefix string
	origin string
	local  Deliverer
	logger *logrus.Logger
}

// envelope is the Redis message body: the encoded event and the bridge that sent it.
type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// NewBridge creates a bridge. Run must be running for events from other instances to
// reach local.
func NewBridge(rdb *redis.Client, prefix string, local Deliverer, logger *logrus.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Bridge{rdb: rdb, prefix: prefix, origin: uuid.NewString(), local: local, logger: logger}
}

// Channel is the Redis channel carrying topic.
func (b *Bridge) Channel(topic string) string {
	return b.prefix + ":" + topic
}

// topic is the inverse of Channel.
func (b *Bridge) topic(channel string) (string, bool) {
	return strings.CutPrefix(channel, b.prefix+":")
}

// Publish encodes ev once, delivers it to this instance's subscribers and then publishes
// it on the topic's channel. A Redis error means only the other instances missed it.
func (b *Bridge) Publish(ctx context.Context, ev hub.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event for %s: %w", ev.Type, ev.Topic, err)
	}
	b.local.Deliver(ev.Topic, data)

	msg, err := json.Marshal(envelope{Origin: b.origin, Event: data})
	if err != nil {
		return fmt.Errorf("encode envelope for %s: %w", ev.Topic, err)
	}
	if err := b.rdb.Publish(ctx, b.Channel(ev.Topic), msg).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", b.Channel(ev.Topic), err)
	}
	return nil
}

// Run subscribes to every hub channel and hands messages from other instances to the
// local hub until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, b.prefix+":*")
	defer sub.Close()

	// wait for the subscription to be confirmed so nothing published after Run starts is lost
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe %s:*: %w", b.prefix, err)
	}
	b.logger.Infof("hub bridge subscribed to %s:*", b.prefix)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Channel, msg.Payload)
		}
	}
}

// handle delivers a message published by another instance. Our own were delivered by Publish.
func (b *Bridge) handle(channel, payload string) {
	topic, ok := b.topic(channel)
	if !ok {
		return
	}
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.WithError(err).WithField("channel", channel).Warn("dropping malformed hub message")
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.local.Deliver(topic, env.Event)
}
