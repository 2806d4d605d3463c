package bus

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPartitions = 16
	partitionBuffer   = 256
)

// MemoryConfig configures the in-process bus.
type MemoryConfig struct {
	// Partitions is the number of partitions per topic (default: 16).
	Partitions int

	// Retry is the redelivery policy. Zero value means DefaultRetryPolicy.
	Retry RetryPolicy
}

// Memory is an in-process Bus with the same delivery contract as the
// JetStream implementation: per-key ordering, at-least-once delivery per
// group, backoff redelivery and dead-lettering.
//
// Messages published on a topic before any group subscribes to it are not
// retained; subscriptions are expected to be wired at startup, before
// traffic. Dead letters are additionally retained in memory and can be
// inspected with DeadLetters.
type Memory struct {
	partitions int
	retry      RetryPolicy
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	topics map[string][]*memGroup
	dead   map[string][]DeadLetter
	closed bool
}

type memGroup struct {
	name    string
	handler Handler
	parts   []chan *Message
}

// NewMemory creates an in-process bus. A nil logger disables logging.
func NewMemory(cfg MemoryConfig, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = defaultPartitions
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		partitions: cfg.Partitions,
		retry:      cfg.Retry,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		topics:     make(map[string][]*memGroup),
		dead:       make(map[string][]DeadLetter),
	}
}

// Publish appends payload to every consumer group subscribed to topic.
func (b *Memory) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	groups := b.topics[topic]
	b.mu.RUnlock()

	if len(groups) == 0 {
		b.logger.Debug("publish with no subscribers",
			zap.String("topic", topic),
			zap.String("key", key))
		return nil
	}

	id := uuid.New().String()
	now := time.Now()
	p := partition(key, b.partitions)

	for _, g := range groups {
		msg := &Message{
			Topic:       topic,
			Key:         key,
			ID:          id,
			Payload:     payload,
			PublishedAt: now,
		}
		select {
		case g.parts[p] <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.ctx.Done():
			return ErrClosed
		}
	}
	return nil
}

// Subscribe registers handler for topic under group and starts one delivery
// goroutine per partition.
func (b *Memory) Subscribe(_ context.Context, topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	g := &memGroup{
		name:    group,
		handler: handler,
		parts:   make([]chan *Message, b.partitions),
	}
	for i := range g.parts {
		g.parts[i] = make(chan *Message, partitionBuffer)
	}
	b.topics[topic] = append(b.topics[topic], g)

	for i := range g.parts {
		ch := g.parts[i]
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.runPartition(g, ch)
		}()
	}

	b.logger.Info("subscribed",
		zap.String("topic", topic),
		zap.String("group", group),
		zap.Int("partitions", b.partitions))
	return nil
}

// DeadLetters returns a copy of the dead letters retained for topic, in the
// order they were routed. The topic argument is the original topic, not the
// dead-letter topic.
func (b *Memory) DeadLetters(topic string) []DeadLetter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DeadLetter, len(b.dead[topic]))
	copy(out, b.dead[topic])
	return out
}

// Close stops all delivery goroutines and waits for them to exit.
func (b *Memory) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

// runPartition delivers messages from one partition of one group in order.
// A failing message blocks the partition until it succeeds or dead-letters,
// which is what preserves per-key ordering.
func (b *Memory) runPartition(g *memGroup, ch <-chan *Message) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-ch:
			b.deliver(g, msg)
		}
	}
}

func (b *Memory) deliver(g *memGroup, msg *Message) {
	for attempt := 1; ; attempt++ {
		msg.Attempt = attempt

		err := g.handler(b.ctx, msg)
		if err == nil {
			return
		}

		if IsPermanent(err) || b.retry.Expired(msg.PublishedAt) {
			b.deadLetter(g, msg, err)
			return
		}

		delay := b.retry.Delay(attempt)
		b.logger.Warn("handler failed, redelivering",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (b *Memory) deadLetter(g *memGroup, msg *Message, reason error) {
	b.logger.Error("dead-lettering message",
		zap.String("topic", msg.Topic),
		zap.String("key", msg.Key),
		zap.String("group", g.name),
		zap.Int("attempts", msg.Attempt),
		zap.Error(reason))

	dl := DeadLetter{
		Topic:       msg.Topic,
		Key:         msg.Key,
		MessageID:   msg.ID,
		Payload:     msg.Payload,
		Reason:      reason.Error(),
		Attempts:    msg.Attempt,
		PublishedAt: msg.PublishedAt,
	}

	b.mu.Lock()
	b.dead[msg.Topic] = append(b.dead[msg.Topic], dl)
	b.mu.Unlock()

	data, err := newDeadLetter(msg, reason)
	if err != nil {
		b.logger.Error("encode dead letter", zap.Error(err))
		return
	}
	if err := b.Publish(b.ctx, DeadLetterTopic(msg.Topic), msg.Key, data); err != nil {
		b.logger.Error("publish dead letter", zap.Error(err))
	}
}

func partition(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
