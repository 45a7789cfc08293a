// Package chat holds the conversation aggregate and its command/query
// handlers.
//
// # Overview
//
// A Conversation tracks status, the participant roster, the last-message
// summary, and one seen/unseen presence pair per participant. Every mutation
// validates first, then applies, then yields exactly one domain Event; a
// failed validation leaves the aggregate untouched and publishes nothing.
//
// # Presence
//
// Presence for a (conversation, participant) pair is two timestamps,
// lastSeenAt and lastUnseenAt. The most recent one is the current state.
// Writes must carry a timestamp strictly greater than the pair's current
// maximum or they fail with ErrStaleWrite, which makes at-least-once
// redelivery safe to apply.
//
// # Commands and queries
//
// The Service executes commands under a per-conversation lock:
//
//	load -> validate -> mutate -> save -> publish
//
// Queries are pure reads over store projections and never touch the bus.
// The Mux maps command/query kinds to handlers; it is built once at startup
// and handed to the transport as the single intake surface.
package chat
