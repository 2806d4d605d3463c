package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server with JetStream enabled.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestJetStream(t *testing.T) *JetStream {
	t.Helper()

	server := startTestNATSServer(t)
	b, err := NewJetStream(JetStreamConfig{
		URL:     server.ClientURL(),
		Stream:  "STUDYD_TEST",
		Retry:   RetryPolicy{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond, MaxAge: 5 * time.Second},
		AckWait: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestJetStream_PublishSubscribe(t *testing.T) {
	b := newTestJetStream(t)
	ctx := context.Background()

	got := make(chan *Message, 1)
	require.NoError(t, b.Subscribe(ctx, "document.uploaded", "ingest", func(_ context.Context, msg *Message) error {
		got <- msg
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "document.uploaded", "d1", []byte(`{"document_id":"d1"}`)))

	select {
	case msg := <-got:
		assert.Equal(t, "document.uploaded", msg.Topic)
		assert.Equal(t, "d1", msg.Key)
		assert.Equal(t, 1, msg.Attempt)
		assert.JSONEq(t, `{"document_id":"d1"}`, string(msg.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestJetStream_RedeliversOnFailure(t *testing.T) {
	b := newTestJetStream(t)
	ctx := context.Background()

	attempts := make(chan int, 8)
	require.NoError(t, b.Subscribe(ctx, "t", "g", func(_ context.Context, msg *Message) error {
		attempts <- msg.Attempt
		if msg.Attempt < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "t", "k", []byte("x")))

	var seen []int
	timeout := time.After(10 * time.Second)
	for len(seen) < 3 {
		select {
		case a := <-attempts:
			seen = append(seen, a)
		case <-timeout:
			t.Fatalf("expected 3 attempts, saw %v", seen)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestJetStream_PermanentErrorDeadLetters(t *testing.T) {
	b := newTestJetStream(t)
	ctx := context.Background()

	dlq := make(chan *Message, 1)
	require.NoError(t, b.Subscribe(ctx, DeadLetterTopic("t"), "operators", func(_ context.Context, msg *Message) error {
		dlq <- msg
		return nil
	}))

	require.NoError(t, b.Subscribe(ctx, "t", "g", func(context.Context, *Message) error {
		return Permanent(errors.New("unparseable"))
	}))

	require.NoError(t, b.Publish(ctx, "t", "k", []byte(`{"v":1}`)))

	select {
	case msg := <-dlq:
		assert.Equal(t, DeadLetterTopic("t"), msg.Topic)
		assert.Equal(t, "k", msg.Key)
	case <-time.After(10 * time.Second):
		t.Fatal("dead letter not delivered")
	}
}

func TestJetStream_KeySanitization(t *testing.T) {
	assert.Equal(t, "evt.t.a-b-c", subjectFor("t", "a b*c"))
	assert.Equal(t, "evt.t.none", subjectFor("t", ""))
	assert.Equal(t, "s3---doc1", sanitizeToken("s3://doc1"))
}

func TestJetStream_RawKeyRoundTrip(t *testing.T) {
	b := newTestJetStream(t)
	ctx := context.Background()

	got := make(chan *Message, 1)
	require.NoError(t, b.Subscribe(ctx, "t", "g", func(_ context.Context, msg *Message) error {
		got <- msg
		return nil
	}))

	// Key with characters that are invalid in a subject token must survive
	// via the header.
	require.NoError(t, b.Publish(ctx, "t", "s3://doc1", []byte("x")))

	select {
	case msg := <-got:
		assert.Equal(t, "s3://doc1", msg.Key)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}
