package core

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/metrics"
	"github.com/vovakirdan/agora-server/internal/store"
)

const broadcastStripes = 64

// Rooms is the table of live channel rooms: which sessions are subscribed to which channel.
// A room exists only while it has at least one session.
type Rooms struct {
	rooms    *xsync.MapOf[store.ChannelID, sessionSet]
	registry *Registry
	// stripes serialise broadcasts per channel so every member sees one order.
	stripes [broadcastStripes]sync.Mutex
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewRooms creates an empty room table delivering through registry.
func NewRooms(registry *Registry, logger *zerolog.Logger, m *metrics.Metrics) *Rooms {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "rooms").Logger()
	}
	return &Rooms{
		rooms:    xsync.NewMapOf[store.ChannelID, sessionSet](),
		registry: registry,
		log:      l,
		metrics:  m,
	}
}

// Join inserts a session into the channel's room. Returns true if newly added.
func (r *Rooms) Join(channelID store.ChannelID, sessionID SessionID) bool {
	added := false
	r.rooms.Compute(channelID, func(old sessionSet, _ bool) (sessionSet, bool) {
		if _, ok := old[sessionID]; ok {
			return old, false
		}
		added = true
		return old.with(sessionID), false
	})
	r.metrics.SetRooms(r.rooms.Size())
	return added
}

// Leave removes a session from the channel's room. Returns true if removed.
// The room is discarded once empty.
func (r *Rooms) Leave(channelID store.ChannelID, sessionID SessionID) bool {
	removed := false
	r.rooms.Compute(channelID, func(old sessionSet, loaded bool) (sessionSet, bool) {
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
	r.metrics.SetRooms(r.rooms.Size())
	return removed
}

// Contains reports whether the session is subscribed to the channel.
func (r *Rooms) Contains(channelID store.ChannelID, sessionID SessionID) bool {
	set, ok := r.rooms.Load(channelID)
	if !ok {
		return false
	}
	_, ok = set[sessionID]
	return ok
}

// Members returns the sessions currently subscribed to the channel.
func (r *Rooms) Members(channelID store.ChannelID) []SessionID {
	set, ok := r.rooms.Load(channelID)
	if !ok {
		return []SessionID{}
	}
	return set.ids()
}

// Len returns the number of live rooms.
func (r *Rooms) Len() int {
	return r.rooms.Size()
}

// Broadcast sends an event to every session in the room as of now.
// Per-session failures are logged and skipped. Returns the number of sessions reached.
func (r *Rooms) Broadcast(channelID store.ChannelID, ev *Event) int {
	mu := &r.stripes[uint64(channelID)%broadcastStripes]
	mu.Lock()
	defer mu.Unlock()

	members, ok := r.rooms.Load(channelID)
	if !ok {
		return 0
	}

	delivered := 0
	for sessionID := range members {
		if err := r.registry.Send(sessionID, ev); err != nil {
			r.metrics.DeliveryFailed(deliveryReason(err))
			r.log.Debug().
				Err(err).
				Str("session_id", string(sessionID)).
				Int64("channel_id", int64(channelID)).
				Stringer("event", ev.Kind).
				Msg("drop event for session")
			continue
		}
		delivered++
		r.metrics.Delivered(ev.Kind.String())
	}
	return delivered
}
