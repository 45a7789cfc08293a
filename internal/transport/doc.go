// Package transport is the thin WebSocket collaborator around the core.
//
// Each socket carries one session handle. On connect the client's JWT is
// verified, a handle is registered, and frames are decoded into commands and
// queries for the mux. The server also implements notify.Pusher, so
// dispatcher notifications ride the same socket back to the client. On
// disconnect the handle is unregistered; a push that races the disconnect
// fails with ErrSessionClosed and is logged by the dispatcher, nothing more.
package transport
