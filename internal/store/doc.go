// Package store is the artifact store for the pipeline: structured records
// (documents, knowledge snapshots, quizzes, submissions, processed event
// keys) in SQLite, and raw bytes behind the BlobStore interface with
// in-memory and S3-compatible implementations.
//
// Every record is owned by exactly one worker and keyed by entity id, so any
// worker instance can pick up any message; there is no in-process pipeline
// state.
package store
