// Package bus provides the in-process publish/subscribe primitive that
// carries domain events from command handlers to projections and the
// notification dispatcher. It is a pure fan-out, not a durable log.
package bus
