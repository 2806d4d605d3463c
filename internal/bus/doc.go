// Package bus provides the durable publish/subscribe contract the pipeline
// workers coordinate through, together with two implementations: an
// in-process partitioned bus for tests and single-node deployments, and a
// NATS JetStream bus for everything else.
//
// The contract:
//
//   - Publish appends to a topic's log, partitioned by key. Events sharing a
//     key are delivered strictly in publish order; no order is guaranteed
//     across keys.
//   - Subscribe registers a handler for a consumer group with at-least-once
//     semantics. Progress is committed only after the handler returns nil, so
//     handlers must be idempotent.
//   - A failing handler sees the message again with exponential backoff until
//     the message exceeds the retry policy's MaxAge or the error is marked
//     Permanent, at which point the message is routed to the topic's
//     dead-letter topic together with the failure reason. Dead letters never
//     silently disappear.
package bus
