package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/metrics"
	"github.com/vovakirdan/agora-server/internal/store"
	"github.com/vovakirdan/agora-server/internal/utils"
)

// Options configures a Hub. The zero value is usable.
type Options struct {
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
	Limits  Limits

	// Now and NewMessageID override the clock and message ID source in tests.
	Now          func() time.Time
	NewMessageID func() store.MessageID
}

// Hub wires the realtime core: sessions, rooms, the registry and the coordinator.
type Hub struct {
	registry    *Registry
	rooms       *Rooms
	guard       *AccessGuard
	coordinator *Coordinator
	identity    IdentityResolver
	repo        Repository
	sessions    *xsync.MapOf[SessionID, *Session]
	log         zerolog.Logger
	metrics     *metrics.Metrics

	// inflight counts Open and Handle calls; no call starts once stopping is set.
	inflight sync.WaitGroup
	stopMu   sync.RWMutex
	stopping bool
}

// NewHub creates a hub over repo that authenticates sessions through identity.
func NewHub(repo Repository, identity IdentityResolver, opts Options) *Hub {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewMessageID == nil {
		opts.NewMessageID = defaultMessageID
	}

	registry := NewRegistry()
	rooms := NewRooms(registry, &logger, opts.Metrics)
	guard := NewAccessGuard(repo)

	return &Hub{
		registry: registry,
		rooms:    rooms,
		guard:    guard,
		coordinator: &Coordinator{
			guard:    guard,
			repo:     repo,
			rooms:    rooms,
			registry: registry,
			limits:   opts.Limits.withDefaults(),
			log:      logger.With().Str("component", "coordinator").Logger(),
			metrics:  opts.Metrics,
			now:      opts.Now,
			newID:    opts.NewMessageID,
			eventID:  utils.NewID,
		},
		identity: identity,
		repo:     repo,
		sessions: xsync.NewMapOf[SessionID, *Session](),
		log:      logger.With().Str("component", "hub").Logger(),
		metrics:  opts.Metrics,
	}
}

// SetPublisher forwards every locally emitted event to p. Call before serving traffic.
func (h *Hub) SetPublisher(p Publisher) {
	h.coordinator.publisher = p
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms exposes the channel membership index.
func (h *Hub) Rooms() *Rooms { return h.rooms }

// Guard exposes the channel access guard.
func (h *Hub) Guard() *AccessGuard { return h.guard }

// Coordinator exposes message and reaction operations.
func (h *Hub) Coordinator() *Coordinator { return h.coordinator }

// Open authenticates credentials, registers sessionID with sink and subscribes it
// to every channel the user can access. The returned session is active.
func (h *Hub) Open(ctx context.Context, sessionID SessionID, credentials string, sink Sink) (*Session, error) {
	if !h.begin() {
		return nil, ErrSessionClosed
	}
	defer h.inflight.Done()

	userID, err := h.identity.ResolveCurrentUser(ctx, credentials)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
		return nil, storageError("resolve identity", err)
	}

	s := &Session{
		ID:     sessionID,
		UserID: userID,
		hub:    h,
		joined: make(map[store.ChannelID]struct{}),
		log: h.log.With().
			Str("session_id", string(sessionID)).
			Int64("user_id", int64(userID)).
			Logger(),
	}
	s.state.Store(int32(StateConnecting))

	// Visible to OpenDirect before the channel list is read, so a direct channel
	// created concurrently is never missed.
	h.sessions.Store(sessionID, s)
	h.registry.Register(userID, sessionID, sink)

	channels, err := h.guard.AccessibleChannels(ctx, userID)
	if err != nil {
		s.Close()
		return nil, err
	}
	for _, channelID := range channels {
		s.subscribe(channelID)
	}

	s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
	if s.State() != StateActive {
		return nil, ErrSessionClosed
	}
	h.observePresence()
	s.log.Debug().Int("channels", len(channels)).Msg("session active")
	return s, nil
}

// Session returns the live session with the given id.
func (h *Hub) Session(id SessionID) (*Session, bool) {
	return h.sessions.Load(id)
}

// OpenDirect returns the direct channel between userID and peerID, creating it on
// first use. Live sessions of both users are subscribed to its room.
func (h *Hub) OpenDirect(ctx context.Context, userID, peerID store.UserID) (*store.Channel, error) {
	if peerID == userID {
		return nil, fmt.Errorf("%w: cannot open a direct channel with yourself", ErrBadRequest)
	}
	if peerID <= 0 {
		return nil, fmt.Errorf("%w: peer is required", ErrBadRequest)
	}
	ctx = context.WithoutCancel(ctx)

	if _, err := h.repo.GetUserByID(ctx, peerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %d: %w", peerID, ErrNotFound)
		}
		return nil, storageError("get user", err)
	}

	ch, created, err := h.repo.GetOrCreateDirectChannel(ctx, userID, peerID)
	if err != nil {
		return nil, storageError("open direct channel", err)
	}

	for _, uid := range []store.UserID{userID, peerID} {
		h.subscribeUser(uid, ch.ID)
	}
	if created {
		h.log.Info().
			Int64("channel_id", int64(ch.ID)).
			Int64("user_id", int64(userID)).
			Int64("peer_id", int64(peerID)).
			Msg("direct channel created")
	}
	return ch, nil
}

// DeliverRemote delivers an event that originated on another instance to local sessions.
func (h *Hub) DeliverRemote(ev *Event, exclude SessionID) {
	if ev == nil {
		return
	}
	if ev.Kind == EventMessagesMarkedRead {
		h.coordinator.deliverToUser(ev.User, exclude, ev)
		return
	}
	h.rooms.Broadcast(ev.Channel, ev)
}

// Run blocks until ctx is done, then closes every live session and waits for
// commands already running to finish their writes and fan-out.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.stopMu.Lock()
	h.stopping = true
	h.stopMu.Unlock()

	h.closeSessions()
	h.inflight.Wait()
	// Sessions opened by calls that were already running.
	h.closeSessions()
	h.log.Debug().Msg("hub stopped")
}

func (h *Hub) begin() bool {
	h.stopMu.RLock()
	defer h.stopMu.RUnlock()
	if h.stopping {
		return false
	}
	h.inflight.Add(1)
	return true
}

func (h *Hub) closeSessions() {
	h.sessions.Range(func(_ SessionID, s *Session) bool {
		s.Close()
		return true
	})
}

func (h *Hub) subscribeUser(userID store.UserID, channelID store.ChannelID) {
	for _, sessionID := range h.registry.SessionsFor(userID) {
		if s, ok := h.sessions.Load(sessionID); ok {
			s.subscribe(channelID)
		}
	}
}

func (h *Hub) observePresence() {
	users, sessions := h.registry.Count()
	h.metrics.SetPresence(users, sessions)
}
