package core

import (
	"slices"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vovakirdan/agora-server/internal/store"
)

// sessionSet is never mutated after it is stored in a map; updates replace it.
type sessionSet map[SessionID]struct{}

func (s sessionSet) with(id SessionID) sessionSet {
	next := make(sessionSet, len(s)+1)
	for k := range s {
		next[k] = struct{}{}
	}
	next[id] = struct{}{}
	return next
}

func (s sessionSet) without(id SessionID) sessionSet {
	next := make(sessionSet, len(s))
	for k := range s {
		if k != id {
			next[k] = struct{}{}
		}
	}
	return next
}

func (s sessionSet) ids() []SessionID {
	ids := make([]SessionID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Registry tracks the live sessions of every connected user and their sinks.
// Updates to one user's set are atomic; different users never contend on a shared lock.
type Registry struct {
	users *xsync.MapOf[store.UserID, sessionSet]
	sinks *xsync.MapOf[SessionID, Sink]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: xsync.NewMapOf[store.UserID, sessionSet](),
		sinks: xsync.NewMapOf[SessionID, Sink](),
	}
}

// Register adds sessionID under userID. Registering the same session twice is a no-op
// apart from replacing its sink.
func (r *Registry) Register(userID store.UserID, sessionID SessionID, sink Sink) {
	if sink != nil {
		r.sinks.Store(sessionID, sink)
	}
	r.users.Compute(userID, func(old sessionSet, _ bool) (sessionSet, bool) {
		if _, ok := old[sessionID]; ok {
			return old, false
		}
		return old.with(sessionID), false
	})
}

// Unregister removes sessionID from userID's set and drops the user once the set is empty.
// Unknown users or sessions are ignored.
func (r *Registry) Unregister(userID store.UserID, sessionID SessionID) {
	removed := false
	r.users.Compute(userID, func(old sessionSet, loaded bool) (sessionSet, bool) {
		if !loaded {
			return old, true
		}
		if _, ok := old[sessionID]; !ok {
			return old, false
		}
		removed = true
		if len(old) == 1 {
			return nil, true
		}
		return old.without(sessionID), false
	})
	if removed {
		r.sinks.Delete(sessionID)
	}
}

// SessionsFor returns the user's live sessions, or an empty slice.
func (r *Registry) SessionsFor(userID store.UserID) []SessionID {
	set, ok := r.users.Load(userID)
	if !ok {
		return []SessionID{}
	}
	return set.ids()
}

// Online reports whether the user has at least one live session.
func (r *Registry) Online(userID store.UserID) bool {
	_, ok := r.users.Load(userID)
	return ok
}

// Send delivers ev to the session's live sink.
func (r *Registry) Send(sessionID SessionID, ev *Event) error {
	sink, ok := r.sinks.Load(sessionID)
	if !ok {
		return errNoSession
	}
	return sink.Deliver(ev)
}

// Count returns the number of online users and live sessions.
func (r *Registry) Count() (users, sessions int) {
	return r.users.Size(), r.sinks.Size()
}
