// Package store persists conversation aggregates behind the load/save
// contract the chat service depends on. SQLiteStore is the durable
// implementation; MemoryStore backs tests and ephemeral runs.
package store
