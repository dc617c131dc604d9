package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1inch/swap-coordinator/internal/types"
)

// Topic names the two fan-out channels of the coordinator.
type Topic string

const (
	TopicOrderBroadcast  Topic = "order-broadcast"
	TopicSecretBroadcast Topic = "secret-broadcast"
)

// slowBacklog is the queue depth at which a subscriber gets called out in
// the logs.
const slowBacklog = 64

// Envelope is the wire form of every bus message. Delivery is at-least-once;
// consumers deduplicate on (orderId, type), with ID available as a tiebreak.
type Envelope struct {
	ID        string          `json:"id"`
	Topic     Topic           `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus is write-only from the coordinator's perspective.
type Bus interface {
	PublishOrder(ctx context.Context, b *types.OrderBroadcast) error
	PublishSecret(ctx context.Context, b *types.SecretBroadcast) error
}

// subscriber pairs a consumer channel with an unbounded backlog. A dedicated
// goroutine moves envelopes from the backlog into the channel, so a stalled
// consumer delays only itself and no envelope is ever dropped.
type subscriber struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []Envelope
	out     chan Envelope
}

func newSubscriber(buffer int) *subscriber {
	s := &subscriber{out: make(chan Envelope, buffer)}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s
}

func (s *subscriber) enqueue(env Envelope) {
	s.mu.Lock()
	s.backlog = append(s.backlog, env)
	depth := len(s.backlog)
	s.mu.Unlock()
	s.cond.Signal()

	if depth == slowBacklog {
		log.Printf("Bus: %s subscriber backlog reached %d", env.Topic, depth)
	}
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		for len(s.backlog) == 0 {
			s.cond.Wait()
		}
		env := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()
		s.out <- env
	}
}

// InProcess fans envelopes out to subscriber backlogs. Per order-id the
// publish order is the source-event order because the lifecycle controller
// publishes under the order's lock; each subscriber sees envelopes in publish
// order, and across orders there is no ordering.
type InProcess struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscriber
}

// NewInProcess returns an empty in-process bus.
func NewInProcess() *InProcess {
	return &InProcess{subs: make(map[Topic][]*subscriber)}
}

// Subscribe registers a consumer channel for a topic. The returned channel is
// owned by the bus and closed never; consumers drain until shutdown. A
// consumer that falls behind its buffer backs up into the bus, not onto the
// floor.
func (b *InProcess) Subscribe(topic Topic, buffer int) <-chan Envelope {
	s := newSubscriber(buffer)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return s.out
}

// PublishOrder implements Bus.
func (b *InProcess) PublishOrder(ctx context.Context, msg *types.OrderBroadcast) error {
	return b.publish(ctx, TopicOrderBroadcast, msg)
}

// PublishSecret implements Bus.
func (b *InProcess) PublishSecret(ctx context.Context, msg *types.SecretBroadcast) error {
	return b.publish(ctx, TopicSecretBroadcast, msg)
}

func (b *InProcess) publish(ctx context.Context, topic Topic, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}

	env := Envelope{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   raw,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		s.enqueue(env)
	}
	return nil
}
