// Package pipeline carries the consumer discipline shared by every
// event-driven worker: failure classification, per-message processing
// timeouts, duplicate suppression through idempotency keys, and bounded
// requeueing of not-yet-ready work.
//
// Workers wrap their handlers with a Dispatcher instead of subscribing the
// raw handler, so the same at-least-once delivery rules hold everywhere:
//
//	d, _ := pipeline.NewDispatcher(nil, idemStore, logger)
//	bus.Subscribe(ctx, topic, group, d.Wrap(handler))
package pipeline
