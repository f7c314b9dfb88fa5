package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/agora-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func noEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

// recordingSink keeps every delivered event. With fail set it rejects deliveries.
type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	fail   bool
}

func (s *recordingSink) Deliver(ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkClosed
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *recordingSink) Count(kind EventKind) int {
	n := 0
	for _, ev := range s.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// tokenIdentity resolves "token-<id>" to user <id>.
var tokenIdentity = IdentityResolverFunc(func(_ context.Context, credentials string) (store.UserID, error) {
	var id int64
	if _, err := fmt.Sscanf(credentials, "token-%d", &id); err != nil || id <= 0 {
		return 0, ErrUnauthenticated
	}
	return store.UserID(id), nil
})

func token(id store.UserID) string {
	return fmt.Sprintf("token-%d", id)
}

// memRepo is an in-memory Repository with failure injection.
type memRepo struct {
	mu          sync.Mutex
	users       map[store.UserID]*store.User
	members     map[store.CommunityID]map[store.UserID]store.MembershipStatus
	channels    map[store.ChannelID]*store.Channel
	overlay     map[store.ChannelID]map[store.UserID]bool
	messages    []*store.Message
	reads       map[store.MessageID]map[store.UserID]bool
	reactions   []store.Reaction
	nextChannel store.ChannelID

	appendErr   error
	appendCalls int
	// appendGate, when set, holds Append until it is closed; appendEntered is signalled first.
	appendGate    chan struct{}
	appendEntered chan struct{}
	membersErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:    make(map[store.UserID]*store.User),
		members:  make(map[store.CommunityID]map[store.UserID]store.MembershipStatus),
		channels: make(map[store.ChannelID]*store.Channel),
		overlay:  make(map[store.ChannelID]map[store.UserID]bool),
		reads:    make(map[store.MessageID]map[store.UserID]bool),
	}
}

func (r *memRepo) addUser(id store.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = &store.User{ID: id, Username: fmt.Sprintf("user%d", id)}
}

func (r *memRepo) setMember(community store.CommunityID, user store.UserID, status store.MembershipStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[community] == nil {
		r.members[community] = make(map[store.UserID]store.MembershipStatus)
	}
	r.members[community][user] = status
}

func (r *memRepo) addChannel(community store.CommunityID, private bool) store.ChannelID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextChannel++
	cid := community
	r.channels[r.nextChannel] = &store.Channel{
		ID:          r.nextChannel,
		Kind:        store.ChannelKindCommunity,
		CommunityID: &cid,
		Name:        fmt.Sprintf("channel-%d", r.nextChannel),
		Private:     private,
	}
	return r.nextChannel
}

func (r *memRepo) setOverlay(channel store.ChannelID, user store.UserID, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlay[channel] == nil {
		r.overlay[channel] = make(map[store.UserID]bool)
	}
	r.overlay[channel][user] = allowed
}

func (r *memRepo) GetUserByID(_ context.Context, id store.UserID) (*store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) GetChannel(_ context.Context, id store.ChannelID) (*store.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ch
	cp.Members = slices.Clone(ch.Members)
	return &cp, nil
}

func (r *memRepo) IsAcceptedMember(_ context.Context, community store.CommunityID, user store.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.membersErr != nil {
		return false, r.membersErr
	}
	return r.members[community][user] == store.MembershipAccepted, nil
}

func (r *memRepo) IsInPrivateChannelOverlay(_ context.Context, channel store.ChannelID, user store.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlay[channel][user], nil
}

func (r *memRepo) ListUserCommunityChannels(_ context.Context, user store.UserID) ([]store.ChannelID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.membersErr != nil {
		return nil, r.membersErr
	}
	var ids []store.ChannelID
	for id, ch := range r.channels {
		if ch.IsDirect() || r.members[*ch.CommunityID][user] != store.MembershipAccepted {
			continue
		}
		if ch.Private && !r.overlay[id][user] {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *memRepo) ListUserDirectChannels(_ context.Context, user store.UserID) ([]store.ChannelID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []store.ChannelID
	for id, ch := range r.channels {
		if ch.IsDirect() && ch.HasMember(user) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *memRepo) GetOrCreateDirectChannel(_ context.Context, a, b store.UserID) (*store.Channel, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := store.DirectKey(a, b)
	for _, ch := range r.channels {
		if ch.DirectKey != nil && *ch.DirectKey == key {
			cp := *ch
			return &cp, false, nil
		}
	}
	r.nextChannel++
	ch := &store.Channel{
		ID:        r.nextChannel,
		Kind:      store.ChannelKindDirect,
		DirectKey: &key,
		Members:   []store.UserID{min(a, b), max(a, b)},
	}
	r.channels[ch.ID] = ch
	cp := *ch
	return &cp, true, nil
}

func (r *memRepo) Append(ctx context.Context, msg *store.Message) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.appendGate != nil {
		r.appendEntered <- struct{}{}
		<-r.appendGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendCalls++
	if r.appendErr != nil {
		return nil, r.appendErr
	}
	cp := *msg
	r.messages = append(r.messages, &cp)
	out := cp
	return &out, nil
}

func (r *memRepo) GetMessage(_ context.Context, id store.MessageID) (*store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) MarkRead(_ context.Context, channel store.ChannelID, user store.UserID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages {
		if m.ChannelID == channel && m.SenderID != user && !r.reads[m.ID][user] {
			if r.reads[m.ID] == nil {
				r.reads[m.ID] = make(map[store.UserID]bool)
			}
			r.reads[m.ID][user] = true
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountUnread(_ context.Context, channel store.ChannelID, user store.UserID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.ChannelID == channel && m.SenderID != user && !r.reads[m.ID][user] {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) channelMessages(channel store.ChannelID, reader store.UserID) []*store.Message {
	var out []*store.Message
	for _, m := range r.messages {
		if m.ChannelID == channel {
			cp := *m
			if m.SenderID == reader {
				cp.Read = len(r.reads[m.ID]) > 0
			} else {
				cp.Read = r.reads[m.ID][reader]
			}
			out = append(out, &cp)
		}
	}
	return out
}

func (r *memRepo) ListPage(_ context.Context, channel store.ChannelID, reader store.UserID, size, page int) ([]*store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.channelMessages(channel, reader)
	end := len(msgs) - (page-1)*size
	if end <= 0 {
		return []*store.Message{}, nil
	}
	start := max(0, end-size)
	return msgs[start:end], nil
}

func (r *memRepo) Search(_ context.Context, channel store.ChannelID, reader store.UserID, term string, limit int) ([]*store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.channelMessages(channel, reader)
	out := []*store.Message{}
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(msgs[i].Content, term) {
			out = append(out, msgs[i])
		}
	}
	return out, nil
}

func (r *memRepo) reactionsOf(id store.MessageID) []store.Reaction {
	out := []store.Reaction{}
	for _, rc := range r.reactions {
		if rc.MessageID == id {
			out = append(out, rc)
		}
	}
	return out
}

func (r *memRepo) AddReaction(_ context.Context, id store.MessageID, user store.UserID, emoji string) ([]store.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exists := slices.ContainsFunc(r.reactions, func(rc store.Reaction) bool {
		return rc.MessageID == id && rc.UserID == user && rc.Emoji == emoji
	})
	if !exists {
		r.reactions = append(r.reactions, store.Reaction{MessageID: id, UserID: user, Emoji: emoji, CreatedAt: time.Now()})
	}
	return r.reactionsOf(id), nil
}

func (r *memRepo) RemoveReaction(_ context.Context, id store.MessageID, user store.UserID, emoji string) ([]store.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = slices.DeleteFunc(r.reactions, func(rc store.Reaction) bool {
		return rc.MessageID == id && rc.UserID == user && rc.Emoji == emoji
	})
	return r.reactionsOf(id), nil
}

func (r *memRepo) ListReactions(_ context.Context, id store.MessageID) ([]store.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reactionsOf(id), nil
}

func (r *memRepo) ListReactionsFor(_ context.Context, ids []store.MessageID) (map[store.MessageID][]store.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[store.MessageID][]store.Reaction, len(ids))
	for _, id := range ids {
		out[id] = r.reactionsOf(id)
	}
	return out, nil
}

var errStoreDown = errors.New("store down")

// communityFixture seeds users 1..n as accepted members of community 1 with one public channel.
func communityFixture(n int) (*memRepo, store.ChannelID) {
	repo := newMemRepo()
	for i := 1; i <= n; i++ {
		repo.addUser(store.UserID(i))
		repo.setMember(1, store.UserID(i), store.MembershipAccepted)
	}
	return repo, repo.addChannel(1, false)
}

func newTestHub(repo *memRepo) *Hub {
	seq := 0
	var mu sync.Mutex
	return NewHub(repo, tokenIdentity, Options{
		NewMessageID: func() store.MessageID {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return store.MessageID(fmt.Sprintf("m%04d", seq))
		},
	})
}
