package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	subjectRoot = "evt"
	keyHeader   = "Studyd-Key"

	defaultStream  = "STUDYD"
	defaultAckWait = 30 * time.Second
)

// JetStreamConfig configures the NATS JetStream bus.
type JetStreamConfig struct {
	// URL is the NATS server URL (default: nats.DefaultURL).
	URL string

	// Stream is the JetStream stream holding all topics (default: STUDYD).
	Stream string

	// Retry is the redelivery policy. Zero value means DefaultRetryPolicy.
	Retry RetryPolicy

	// AckWait is how long the server waits for an ack before redelivering
	// on its own (default: 30s). It should exceed the handler timeout.
	AckWait time.Duration
}

// JetStream is a Bus backed by a NATS JetStream stream. Topics map to
// subjects under a single stream; the partition key is appended to the
// subject so JetStream preserves per-key publish order, and MaxAckPending=1
// per durable consumer keeps processing serialized within a group.
type JetStream struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	stream  string
	retry   RetryPolicy
	ackWait time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewJetStream connects to NATS, ensures the stream exists and returns the
// bus. A nil logger disables logging.
func NewJetStream(cfg JetStreamConfig, logger *zap.Logger) (*JetStream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Stream == "" {
		cfg.Stream = defaultStream
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(js, cfg.Stream); err != nil {
		nc.Close()
		return nil, err
	}

	return &JetStream{
		nc:      nc,
		js:      js,
		stream:  cfg.Stream,
		retry:   cfg.Retry,
		ackWait: cfg.AckWait,
		logger:  logger,
	}, nil
}

// ensureStream creates the stream if it does not exist. Idempotent.
func ensureStream(js nats.JetStreamContext, name string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("look up stream %s: %w", name, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subjectRoot + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// Publish appends payload to the stream under topic and key.
func (b *JetStream) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	msg := nats.NewMsg(subjectFor(topic, key))
	msg.Data = payload
	msg.Header.Set(keyHeader, key)

	_, err := b.js.PublishMsg(msg,
		nats.MsgId(uuid.New().String()),
		nats.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe creates a durable queue consumer for topic under group.
func (b *JetStream) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	filter := subjectRoot + "." + topic + ".>"
	durable := sanitizeToken(group + "-" + topic)

	sub, err := b.js.QueueSubscribe(filter, durable, func(m *nats.Msg) {
		b.dispatch(ctx, topic, handler, m)
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckWait(b.ackWait),
		nats.MaxAckPending(1),
		nats.MaxDeliver(-1),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", topic, group, err)
	}

	b.subs = append(b.subs, sub)
	b.logger.Info("subscribed",
		zap.String("topic", topic),
		zap.String("group", group),
		zap.String("durable", durable))
	return nil
}

// dispatch runs handler for one delivery and translates the result into
// JetStream ack semantics.
func (b *JetStream) dispatch(ctx context.Context, topic string, handler Handler, m *nats.Msg) {
	attempt := 1
	publishedAt := time.Now()
	id := ""
	if meta, err := m.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
		publishedAt = meta.Timestamp
		id = fmt.Sprintf("%s-%d", b.stream, meta.Sequence.Stream)
	}

	key := m.Header.Get(keyHeader)
	if key == "" {
		key = strings.TrimPrefix(m.Subject, subjectRoot+"."+topic+".")
	}

	msg := &Message{
		Topic:       topic,
		Key:         key,
		ID:          id,
		Payload:     m.Data,
		PublishedAt: publishedAt,
		Attempt:     attempt,
	}

	err := handler(ctx, msg)
	if err == nil {
		if err := m.Ack(); err != nil {
			b.logger.Warn("ack failed", zap.String("topic", topic), zap.Error(err))
		}
		return
	}

	if IsPermanent(err) || b.retry.Expired(publishedAt) {
		b.logger.Error("dead-lettering message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Int("attempts", attempt),
			zap.Error(err))

		data, encErr := newDeadLetter(msg, err)
		if encErr != nil {
			b.logger.Error("encode dead letter", zap.Error(encErr))
		} else if pubErr := b.Publish(ctx, DeadLetterTopic(topic), key, data); pubErr != nil {
			// Leave the message unacked so it comes back; losing it and the
			// dead letter at the same time is the one thing we must not do.
			b.logger.Error("publish dead letter", zap.Error(pubErr))
			return
		}
		if err := m.Term(); err != nil {
			b.logger.Warn("term failed", zap.String("topic", topic), zap.Error(err))
		}
		return
	}

	delay := b.retry.Delay(attempt)
	b.logger.Warn("handler failed, redelivering",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
	if err := m.NakWithDelay(delay); err != nil {
		b.logger.Warn("nak failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Close drains all subscriptions and closes the connection.
func (b *JetStream) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.Drain(); err != nil {
			b.logger.Warn("drain subscription", zap.Error(err))
		}
	}
	b.nc.Close()
	return nil
}

// subjectFor maps a topic and key onto a stream subject. The key is
// sanitized because NATS subject tokens cannot contain spaces or wildcards;
// the raw key travels in a header.
func subjectFor(topic, key string) string {
	return subjectRoot + "." + topic + "." + sanitizeToken(key)
}

// sanitizeToken replaces characters that are not valid in NATS subject
// tokens or durable names.
func sanitizeToken(s string) string {
	if s == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}
