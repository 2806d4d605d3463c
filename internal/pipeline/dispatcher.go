package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/studyd/internal/bus"
)

const instrumentationName = "github.com/fyrsmithlabs/studyd/internal/pipeline"

// IdempotencyStore records which idempotency keys have already produced
// their effects. Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	// Seen reports whether key was already marked processed.
	Seen(ctx context.Context, key string) (bool, error)

	// Mark records key as processed.
	Mark(ctx context.Context, key string) error
}

// Config configures the dispatcher.
type Config struct {
	// HandlerTimeout bounds a single handler invocation (default: 30s).
	// Exceeding it counts as handler failure and triggers redelivery.
	HandlerTimeout time.Duration

	// NotReadyMaxAttempts bounds requeueing of ClassNotReady failures
	// (default: 10). Once reached, the failure becomes permanent.
	NotReadyMaxAttempts int
}

// DefaultConfig returns the production dispatcher settings.
func DefaultConfig() *Config {
	return &Config{
		HandlerTimeout:      30 * time.Second,
		NotReadyMaxAttempts: 10,
	}
}

// Dispatcher wraps worker handlers with the shared consumer discipline.
type Dispatcher struct {
	config *Config
	idem   IdempotencyStore
	logger *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	processedCounter metric.Int64Counter
	duplicateCounter metric.Int64Counter
	exhaustedCounter metric.Int64Counter
}

// NewDispatcher creates a dispatcher. A nil config uses DefaultConfig and a
// nil logger disables logging; the idempotency store is required.
func NewDispatcher(cfg *Config, idem IdempotencyStore, logger *zap.Logger) (*Dispatcher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if idem == nil {
		return nil, errors.New("idempotency store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		config: cfg,
		idem:   idem,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	d.initMetrics()
	return d, nil
}

func (d *Dispatcher) initMetrics() {
	var err error

	d.processedCounter, err = d.meter.Int64Counter(
		"studyd.pipeline.messages_processed_total",
		metric.WithDescription("Messages processed successfully"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		d.logger.Warn("failed to create processed counter", zap.Error(err))
	}

	d.duplicateCounter, err = d.meter.Int64Counter(
		"studyd.pipeline.duplicates_skipped_total",
		metric.WithDescription("Deliveries skipped because the idempotency key was already processed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		d.logger.Warn("failed to create duplicate counter", zap.Error(err))
	}

	d.exhaustedCounter, err = d.meter.Int64Counter(
		"studyd.pipeline.not_ready_exhausted_total",
		metric.WithDescription("Messages whose not-ready retry budget ran out"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		d.logger.Warn("failed to create exhausted counter", zap.Error(err))
	}
}

// WrapOption customizes a single Wrap call.
type WrapOption func(*wrapOptions)

type wrapOptions struct {
	onExhausted func(ctx context.Context, msg *bus.Message, err error)
	idemKey     func(msg *bus.Message) string
}

// WithExhaustedHook registers a callback invoked when a message is about to
// be dead-lettered because its not-ready budget ran out, so the worker can
// mark the owning record failed before the message leaves the topic.
func WithExhaustedHook(fn func(ctx context.Context, msg *bus.Message, err error)) WrapOption {
	return func(o *wrapOptions) { o.onExhausted = fn }
}

// WithIdempotencyKey overrides how the idempotency key is derived from a
// delivery. The default keys on the partition key, which is wrong for topics
// where many distinct requests share a partition: each request must keep its
// own key or later requests are suppressed as duplicates of the first.
func WithIdempotencyKey(fn func(msg *bus.Message) string) WrapOption {
	return func(o *wrapOptions) { o.idemKey = fn }
}

// Key derives the idempotency key for a message: the topic namespaced by the
// business identifier it is partitioned on.
func Key(topic, businessID string) string {
	return topic + ":" + businessID
}

// Wrap returns a bus.Handler that enforces the shared discipline around h:
//
//  1. deliveries whose idempotency key is already marked are skipped,
//  2. h runs under the configured per-message timeout,
//  3. failures are translated by class into bus retry semantics,
//  4. the key is marked after h succeeds.
//
// Marking happens after success, so a crash between effect and mark causes
// one redelivery; handlers stay idempotent on their own terms (status
// checks, overwrite semantics) and the key is a fast path, not the only
// defense.
func (d *Dispatcher) Wrap(h bus.Handler, opts ...WrapOption) bus.Handler {
	var o wrapOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, msg *bus.Message) error {
		ctx, span := d.tracer.Start(ctx, "pipeline.dispatch")
		defer span.End()
		span.SetAttributes(
			attribute.String("topic", msg.Topic),
			attribute.String("key", msg.Key),
			attribute.Int("attempt", msg.Attempt),
		)

		idemKey := Key(msg.Topic, msg.Key)
		if o.idemKey != nil {
			idemKey = o.idemKey(msg)
		}
		seen, err := d.idem.Seen(ctx, idemKey)
		if err != nil {
			return Transient(fmt.Errorf("check idempotency key: %w", err))
		}
		if seen {
			if d.duplicateCounter != nil {
				d.duplicateCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", msg.Topic)))
			}
			d.logger.Debug("skipping duplicate delivery",
				zap.String("topic", msg.Topic),
				zap.String("key", msg.Key))
			return nil
		}

		hctx, cancel := context.WithTimeout(ctx, d.config.HandlerTimeout)
		err = h(hctx, msg)
		cancel()

		if err != nil {
			return d.translate(ctx, msg, err, &o)
		}

		if err := d.idem.Mark(ctx, idemKey); err != nil {
			// The effect already happened; a redelivery would hit the
			// handler's own idempotency checks, so marking is best-effort.
			d.logger.Warn("failed to mark idempotency key",
				zap.String("key", idemKey),
				zap.Error(err))
		}

		if d.processedCounter != nil {
			d.processedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", msg.Topic)))
		}
		return nil
	}
}

// translate maps a classified handler failure onto bus retry semantics.
func (d *Dispatcher) translate(ctx context.Context, msg *bus.Message, err error, o *wrapOptions) error {
	class := ClassOf(err)
	switch class {
	case ClassMalformed, ClassPermanent:
		d.logger.Error("message failed permanently",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.String("class", class.String()),
			zap.Error(err))
		return bus.Permanent(err)

	case ClassNotReady:
		if msg.Attempt >= d.config.NotReadyMaxAttempts {
			exhausted := fmt.Errorf("not ready after %d attempts: %w", msg.Attempt, err)
			if d.exhaustedCounter != nil {
				d.exhaustedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", msg.Topic)))
			}
			if o.onExhausted != nil {
				o.onExhausted(ctx, msg, exhausted)
			}
			return bus.Permanent(exhausted)
		}
		d.logger.Info("prerequisite not ready, requeueing",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Int("attempt", msg.Attempt),
			zap.Int("max_attempts", d.config.NotReadyMaxAttempts))
		return err

	default:
		return err
	}
}

// MemoryIdempotency is an in-process IdempotencyStore for tests and
// single-node deployments.
type MemoryIdempotency struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewMemoryIdempotency creates an empty in-process idempotency store.
func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]struct{})}
}

// Seen reports whether key was marked.
func (m *MemoryIdempotency) Seen(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok, nil
}

// Mark records key.
func (m *MemoryIdempotency) Mark(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
	return nil
}
