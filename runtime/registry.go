package runtime

import (
	"sort"

	"webchat/contract"
	"webchat/domain"
	"webchat/errors"
)

type entry struct {
	session domain.Session
	sink    contract.EventSink
}

// Registry maps each live connection to at most one authenticated identity
// and is the source of truth for the online roster.
//
// It is owned exclusively by the hub loop: every method runs on the loop
// goroutine, so no locking is needed and no external mutation path exists.
type Registry struct {
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Open inserts an unauthenticated session for a freshly opened connection.
func (r *Registry) Open(connectionID string, sink contract.EventSink) error {
	if _, ok := r.entries[connectionID]; ok {
		return errors.ErrSessionExists
	}
	r.entries[connectionID] = &entry{
		session: domain.Session{ConnectionID: connectionID},
		sink:    sink,
	}
	return nil
}

// Bind transitions the session from unauthenticated to authenticated.
// The transition happens at most once per connection; a second attempt is a
// caller bug and is reported, not absorbed.
func (r *Registry) Bind(connectionID, account string) error {
	e, ok := r.entries[connectionID]
	if !ok {
		return errors.ErrUnknownSession
	}
	if e.session.Authenticated() {
		return errors.ErrAlreadyAuthenticated
	}
	e.session.Account = account
	return nil
}

// Resolve returns the account bound to the connection. A false return means
// the connection is unauthorized and its chat payloads must be dropped.
func (r *Registry) Resolve(connectionID string) (string, bool) {
	e, ok := r.entries[connectionID]
	if !ok || !e.session.Authenticated() {
		return "", false
	}
	return e.session.Account, true
}

// Sink returns the event sink of a live connection.
func (r *Registry) Sink(connectionID string) (contract.EventSink, bool) {
	e, ok := r.entries[connectionID]
	if !ok {
		return nil, false
	}
	return e.sink, true
}

// Close removes the session regardless of authentication state. It returns
// the previously bound account (empty if none) and whether that was the
// account's last live session, so the caller can announce the departure.
func (r *Registry) Close(connectionID string) (account string, last bool, ok bool) {
	e, found := r.entries[connectionID]
	if !found {
		return "", false, false
	}
	delete(r.entries, connectionID)

	if !e.session.Authenticated() {
		return "", false, true
	}
	return e.session.Account, r.SessionCount(e.session.Account) == 0, true
}

// SessionCount reports how many live sessions are bound to the account.
// Used to de-duplicate join and leave announcements when the same account
// logs in from several connections.
func (r *Registry) SessionCount(account string) int {
	n := 0
	for _, e := range r.entries {
		if e.session.Account == account {
			n++
		}
	}
	return n
}

// Snapshot recomputes the roster on demand: the sorted set of account names
// with at least one authenticated session. Names are de-duplicated, so an
// account logged in twice still appears once.
func (r *Registry) Snapshot() []string {
	set := make(map[string]struct{})
	for _, e := range r.entries {
		if e.session.Authenticated() {
			set[e.session.Account] = struct{}{}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sinks returns the sinks of every live connection, authenticated or not.
// Broadcasts reach all connected clients, matching the wire protocol.
func (r *Registry) Sinks() []contract.EventSink {
	sinks := make([]contract.EventSink, 0, len(r.entries))
	for _, e := range r.entries {
		sinks = append(sinks, e.sink)
	}
	return sinks
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.entries)
}
