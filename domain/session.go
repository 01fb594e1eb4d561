// Package domain contains core concepts of the chat system.
// This file defines Session identity and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

// Session ties a live connection to at most one authenticated account.
// Account is empty while the connection is unauthenticated and transitions
// exactly once to a non-empty value on successful login.
type Session struct {
	ConnectionID string
	Account      string
}

// Authenticated reports whether the session has been bound to an account.
func (s Session) Authenticated() bool {
	return s.Account != ""
}
