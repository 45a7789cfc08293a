// Package auth verifies the JWT connect tokens clients present when opening
// a WebSocket session. Credential issuance lives outside this repo; the
// gateway only checks signatures and reads the identity claims.
package auth
