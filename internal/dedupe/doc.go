// Package dedupe provides a time-based cache of delivered event ids so
// at-least-once consumers can drop duplicates within a configurable window.
package dedupe
