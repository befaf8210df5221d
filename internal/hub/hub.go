// Package hub fans state-change events out to the clients subscribed to a topic.
//
// Delivery is best-effort and at-most-once: every client has a bounded outbox and a
// publish that finds it full drops that one delivery instead of waiting. Nothing is
// buffered for clients that subscribe later.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is the envelope every subscriber receives.
//
// Seq, when set, numbers successive full snapshots on a topic. Deliveries from different
// publishers may interleave, so a receiver keeps the snapshot with the highest Seq.
type Event struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	Seq     uint64 `json:"seq,omitempty"`
}

// Publisher is what state owners use to announce a change. Implementations never block on
// slow subscribers; a returned error only reports that the event could not be handed off.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Client is one connection's outbox. A client may be subscribed to many topics and
// receives their events in publish order.
type Client struct {
	ID     uuid.UUID
	UserID int64

	mu      sync.Mutex
	out     chan []byte
	closed  bool
	dropped atomic.Int64
}

// NewClient creates a client with an outbox of the given capacity.
func NewClient(userID int64, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		ID:     uuid.New(),
		UserID: userID,
		out:    make(chan []byte, buffer),
	}
}

// Out is drained by the connection's write loop. It is closed when the client is removed.
func (c *Client) Out() <-chan []byte { return c.out }

// Dropped is the number of deliveries lost because the outbox was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Send queues raw bytes without blocking. It returns false if the outbox is full or closed.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// WriteJSON queues v for this client only.
func (c *Client) WriteJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.Send(data)
}

// WriteError queues an error message for this client only.
func (c *Client) WriteError(msg string) bool {
	return c.WriteJSON(map[string]any{
		"type":    "error",
		"message": msg,
	})
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// Hub routes events to subscribers by topic.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[uuid.UUID]*Client
	clients map[uuid.UUID]map[string]struct{}
	logger  *logrus.Logger
}

// New creates an empty hub.
func New(logger *logrus.Logger) *Hub {
	return &Hub{
		topics:  make(map[string]map[uuid.UUID]*Client),
		clients: make(map[uuid.UUID]map[string]struct{}),
		logger:  logger,
	}
}

// Subscribe adds client to topic. Subscribing twice is a no-op.
func (h *Hub) Subscribe(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uuid.UUID]*Client)
		h.topics[topic] = subs
	}
	subs[c.ID] = c

	mine, ok := h.clients[c.ID]
	if !ok {
		mine = make(map[string]struct{})
		h.clients[c.ID] = mine
	}
	mine[topic] = struct{}{}
}

// Unsubscribe removes client from topic only.
func (h *Hub) Unsubscribe(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(topic, c.ID)
	if mine, ok := h.clients[c.ID]; ok {
		delete(mine, topic)
	}
}

// Remove drops client from every topic and closes its outbox.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	for topic := range h.clients[c.ID] {
		h.unsubscribeLocked(topic, c.ID)
	}
	delete(h.clients, c.ID)
	h.mu.Unlock()

	c.close()
}

func (h *Hub) unsubscribeLocked(topic string, id uuid.UUID) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Subscribers returns how many clients currently listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish encodes ev once and delivers it to the current subscribers of ev.Topic.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event for %s: %w", ev.Type, ev.Topic, err)
	}
	h.Deliver(ev.Topic, data)
	return nil
}

// Deliver fans pre-encoded bytes out to topic and returns how many clients accepted them.
func (h *Hub) Deliver(topic string, data []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.topics[topic]))
	for _, c := range h.topics[topic] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
			continue
		}
		h.logger.WithFields(logrus.Fields{
			"topic":     topic,
			"client_id": c.ID,
			"user_id":   c.UserID,
			"dropped":   c.Dropped(),
		}).Warn("hub: outbox full or closed, delivery dropped")
	}
	return delivered
}
