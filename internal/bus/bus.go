package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message is a single delivery from a topic partition.
type Message struct {
	// Topic is the topic the message was published on.
	Topic string

	// Key is the partition key. All messages sharing a key are delivered in
	// publish order.
	Key string

	// ID uniquely identifies the publish, stable across redeliveries.
	ID string

	// Payload is the opaque event body.
	Payload []byte

	// PublishedAt is when the message was first appended to the log.
	PublishedAt time.Time

	// Attempt is the 1-based delivery attempt for the consumer group.
	Attempt int
}

// Handler processes one message. Returning nil commits progress; any other
// return triggers redelivery per the bus retry policy, except errors marked
// with Permanent which dead-letter the message immediately.
type Handler func(ctx context.Context, msg *Message) error

// Bus is the durable publish/subscribe contract shared by all workers.
type Bus interface {
	// Publish appends payload to topic's log under the given partition key.
	Publish(ctx context.Context, topic, key string, payload []byte) error

	// Subscribe registers handler for topic under a consumer group. Each
	// partition is delivered to at most one member of the group at a time.
	// Subscriptions must be established before the messages they are meant
	// to receive are published.
	Subscribe(ctx context.Context, topic, group string, handler Handler) error

	// Close stops delivery and releases resources.
	Close() error
}

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// DeadLetter is the payload published to a dead-letter topic when a message
// exhausts its retry budget or fails permanently.
type DeadLetter struct {
	Topic       string          `json:"topic"`
	Key         string          `json:"key"`
	MessageID   string          `json:"message_id"`
	Payload     json.RawMessage `json:"payload"`
	Reason      string          `json:"reason"`
	Attempts    int             `json:"attempts"`
	PublishedAt time.Time       `json:"published_at"`
}

// DeadLetterTopic returns the dead-letter topic for topic.
func DeadLetterTopic(topic string) string {
	return "dlq." + topic
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the message is dead-lettered on the
// next delivery decision instead of being redelivered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func newDeadLetter(msg *Message, reason error) ([]byte, error) {
	dl := DeadLetter{
		Topic:       msg.Topic,
		Key:         msg.Key,
		MessageID:   msg.ID,
		Payload:     json.RawMessage(msg.Payload),
		Reason:      reason.Error(),
		Attempts:    msg.Attempt,
		PublishedAt: msg.PublishedAt,
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return nil, fmt.Errorf("marshal dead letter: %w", err)
	}
	return data, nil
}
