// Package notify delivers domain events to connected clients.
//
// The Dispatcher subscribes to every event kind on the bus. For each event
// it computes the affected users, snapshots their live sessions from the
// registry, and pushes a Notification to each session through an injected
// Pusher. Delivery is at-least-once: duplicates are filtered by event id on
// this side and by the per-conversation sequence token on the client side.
//
// Targets with no live sessions are skipped silently; offline delivery is
// out of scope. A failed push to one session is logged and never blocks
// pushes to the remaining sessions or propagates to the command path.
package notify
