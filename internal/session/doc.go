// Package session tracks live client connections. The transport registers a
// handle on connect and unregisters it on disconnect; the notification
// dispatcher reads snapshots of a user's handles when fanning out pushes.
package session
