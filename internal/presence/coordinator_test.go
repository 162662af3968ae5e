package presence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chat-server/internal/chat"
	"chat-server/internal/user"
)

type fakeDirectory struct {
	users []*user.User
}

func (d *fakeDirectory) Resolve(_ context.Context, identifier string) (*user.User, error) {
	for _, u := range d.users {
		if u.ID == identifier || u.Username == identifier {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user: %w", chat.ErrNotFound)
}

func (d *fakeDirectory) Search(_ context.Context, selfID, term string) ([]user.User, error) {
	var out []user.User
	for _, u := range d.users {
		if u.ID == selfID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), strings.ToLower(term)) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (d *fakeDirectory) ByUsernames(_ context.Context, names []string) ([]user.User, error) {
	var out []user.User
	for _, name := range names {
		for _, u := range d.users {
			if u.Username == name {
				out = append(out, *u)
			}
		}
	}
	return out, nil
}

type fakeStore struct {
	mu           sync.Mutex
	rooms        map[string]*chat.Room
	chats        map[string]*chat.Chat
	msgs         map[string][]chat.Message
	failChannels bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms: make(map[string]*chat.Room),
		chats: make(map[string]*chat.Chat),
		msgs:  make(map[string][]chat.Message),
	}
}

func cloneRoom(r *chat.Room) *chat.Room {
	c := *r
	c.Members = append([]string(nil), r.Members...)
	c.Admins = append([]string(nil), r.Admins...)
	return &c
}

func (s *fakeStore) UserChannels(_ context.Context, username string) ([]chat.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failChannels {
		return nil, fmt.Errorf("store down")
	}
	var sums []chat.Summary
	for _, r := range s.rooms {
		if !r.IsDeleted && r.IsMember(username) {
			sums = append(sums, chat.Summary{ID: r.ID, Type: chat.KindRoom, Name: r.Name, Members: r.Members})
		}
	}
	for _, c := range s.chats {
		if !c.IsDeleted && (c.User1 == username || c.User2 == username) {
			sums = append(sums, chat.Summary{ID: c.ID, Type: chat.KindChat, Members: c.MemberNames()})
		}
	}
	return sums, nil
}

func (s *fakeStore) RoomByID(_ context.Context, id string) (*chat.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok || r.IsDeleted {
		return nil, fmt.Errorf("invalid room id: %w", chat.ErrNotFound)
	}
	return cloneRoom(r), nil
}

func (s *fakeStore) ChatByID(_ context.Context, id string) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.IsDeleted {
		return nil, fmt.Errorf("invalid chat id: %w", chat.ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

func (s *fakeStore) ChannelByID(ctx context.Context, id, kind string) (chat.Channel, error) {
	switch kind {
	case chat.KindRoom:
		return s.RoomByID(ctx, id)
	case chat.KindChat:
		return s.ChatByID(ctx, id)
	default:
		return nil, fmt.Errorf("invalid chat type: %w", chat.ErrInvalidPayload)
	}
}

func (s *fakeStore) ChatBetween(_ context.Context, userA, userB string) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.IsDeleted {
			continue
		}
		if (c.User1 == userA && c.User2 == userB) || (c.User1 == userB && c.User2 == userA) {
			clone := *c
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("invalid chat id: %w", chat.ErrNotFound)
}

func (s *fakeStore) Messages(_ context.Context, channelID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.msgs[channelID]...), nil
}

func (s *fakeStore) AppendMessage(_ context.Context, channelID, kind string, msg chat.Message) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	switch kind {
	case chat.KindRoom:
		r, ok := s.rooms[channelID]
		if !ok || r.IsDeleted {
			return nil, fmt.Errorf("invalid room id: %w", chat.ErrNotFound)
		}
		r.LastMessage = &msg
	case chat.KindChat:
		c, ok := s.chats[channelID]
		if !ok || c.IsDeleted {
			return nil, fmt.Errorf("invalid chat id: %w", chat.ErrNotFound)
		}
		c.LastMessage = &msg
	}
	s.msgs[channelID] = append(s.msgs[channelID], msg)
	return &msg, nil
}

func (s *fakeStore) CreateRoom(_ context.Context, room *chat.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *fakeStore) CreateChat(_ context.Context, c *chat.Chat, first chat.Message) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.chats {
		if existing.IsDeleted {
			continue
		}
		if (existing.User1 == c.User1 && existing.User2 == c.User2) ||
			(existing.User1 == c.User2 && existing.User2 == c.User1) {
			return nil, fmt.Errorf("chat already exists: %w", chat.ErrConflict)
		}
	}
	if first.ID == "" {
		first.ID = uuid.NewString()
	}
	clone := *c
	clone.LastMessage = &first
	s.chats[c.ID] = &clone
	s.msgs[c.ID] = append(s.msgs[c.ID], first)
	c.LastMessage = &first
	return &first, nil
}

func (s *fakeStore) UpdateRoom(_ context.Context, roomID string, mutate func(*chat.Room) error) (*chat.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok || r.IsDeleted {
		return nil, fmt.Errorf("invalid room id: %w", chat.ErrNotFound)
	}
	clone := cloneRoom(r)
	if err := mutate(clone); err != nil {
		return nil, err
	}
	s.rooms[roomID] = clone
	return cloneRoom(clone), nil
}

type fixture struct {
	coord    *Coordinator
	dir      *fakeDirectory
	store    *fakeStore
	sessions *Registry
	subs     *Subscriptions

	alice, bob, carol *user.User
}

func newFixture() *fixture {
	f := &fixture{
		alice: &user.User{ID: uuid.NewString(), Username: "alice", Email: "alice@example.com"},
		bob:   &user.User{ID: uuid.NewString(), Username: "bob", Email: "bob@example.com"},
		carol: &user.User{ID: uuid.NewString(), Username: "carol", Email: "carol@example.com"},
	}
	f.dir = &fakeDirectory{users: []*user.User{f.alice, f.bob, f.carol}}
	f.store = newFakeStore()
	f.sessions = NewRegistry()
	f.subs = NewSubscriptions()
	f.coord = NewCoordinator(f.dir, f.store, NewLocalBus(f.subs, f.sessions), f.sessions, f.subs, zerolog.Nop())
	return f
}

func (f *fixture) connect(t *testing.T, u *user.User) *fakeConn {
	t.Helper()
	conn := newFakeConn(u.Username + "-" + uuid.NewString())
	_, err := f.coord.Connect(context.Background(), conn, u.ID)
	require.NoError(t, err)
	return conn
}

func (f *fixture) seedRoom(id, name string, creator *user.User, members ...string) {
	f.store.rooms[id] = &chat.Room{
		ID:      id,
		Name:    name,
		Creator: creator.Username,
		Members: append([]string{creator.Username}, members...),
		Admins:  []string{creator.Username},
	}
}

func TestConnect_SubscribesExactMembershipSet(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	f.seedRoom("r2", "gone", f.alice, "bob")
	f.store.rooms["r2"].IsDeleted = true
	f.seedRoom("r3", "others", f.bob)
	f.store.chats["c1"] = &chat.Chat{ID: "c1", User1: "alice", User2: "carol"}

	conn := f.connect(t, f.alice)

	channels := f.subs.Channels(conn.ID())
	sort.Strings(channels)
	req.Equal([]string{"c1", "r1"}, channels)
}

func TestConnect_UnknownUserRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	conn := newFakeConn("c1")

	_, err := f.coord.Connect(context.Background(), conn, "nobody")
	req.ErrorIs(err, chat.ErrNotFound)
	_, bound := f.sessions.UserFor("c1")
	req.False(bound)
}

func TestConnect_StoreFailureLeavesNothingHalfBound(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.store.failChannels = true
	conn := newFakeConn("c1")

	_, err := f.coord.Connect(context.Background(), conn, f.alice.ID)
	req.Error(err)
	_, bound := f.sessions.UserFor("c1")
	req.False(bound)
	req.Empty(f.subs.Channels("c1"))
}

func TestConnect_SameHandleTwiceFails(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	conn := newFakeConn("c1")

	_, err := f.coord.Connect(context.Background(), conn, f.alice.ID)
	req.NoError(err)
	_, err = f.coord.Connect(context.Background(), conn, f.alice.ID)
	req.ErrorIs(err, ErrAlreadyBound)
}

func TestDisconnect_ReleasesSessionAndSubscriptions(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice)
	conn := f.connect(t, f.alice)

	f.coord.Disconnect(conn)

	_, bound := f.sessions.UserFor(conn.ID())
	req.False(bound)
	req.Empty(f.subs.Channels(conn.ID()))
	req.Empty(f.subs.OnlineMembers("r1"))
}

func TestSendMessage_FansOutExcludingSender(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	saved, err := f.coord.SendMessage(context.Background(), f.alice, aliceConn.ID(),
		"r1", chat.KindRoom, chat.Message{Text: "hello"})
	req.NoError(err)
	req.Equal("alice", saved.Sender)
	req.NotEmpty(saved.ID)

	req.Equal([]string{"new_message"}, bobConn.events())
	req.Empty(aliceConn.events())
}

func TestSendMessage_NonMemberForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.store.chats["c1"] = &chat.Chat{ID: "c1", User1: "alice", User2: "bob"}
	carolConn := f.connect(t, f.carol)

	_, err := f.coord.SendMessage(context.Background(), f.carol, carolConn.ID(),
		"c1", chat.KindChat, chat.Message{Text: "let me in"})
	req.ErrorIs(err, chat.ErrForbidden)
	req.Empty(f.store.msgs["c1"])
}

func TestSendMessage_ConcurrentAppendsBothPersist(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.coord.SendMessage(context.Background(), f.alice, aliceConn.ID(),
			"r1", chat.KindRoom, chat.Message{Text: "from alice"})
		req.NoError(err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.coord.SendMessage(context.Background(), f.bob, bobConn.ID(),
			"r1", chat.KindRoom, chat.Message{Text: "from bob"})
		req.NoError(err)
	}()
	wg.Wait()

	req.Len(f.store.msgs["r1"], 2)
	last := f.store.rooms["r1"].LastMessage
	req.NotNil(last)
	req.Equal(f.store.msgs["r1"][1].ID, last.ID)
}

func TestCreateRoom_WithOfflineMember(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	aliceConn := f.connect(t, f.alice)

	room, err := f.coord.CreateRoom(context.Background(), f.alice, aliceConn.ID(), "team", []string{"bob"})
	req.NoError(err)
	req.ElementsMatch([]string{"alice", "bob"}, room.Members)
	req.Equal([]string{"alice"}, room.Admins)
	req.Contains(room.Admins, room.Creator)

	// Creator is subscribed; offline bob received nothing.
	req.Contains(f.subs.Channels(aliceConn.ID()), room.ID)
	req.Empty(aliceConn.events())

	// When bob connects later his subscription set includes the room.
	bobConn := f.connect(t, f.bob)
	req.Contains(f.subs.Channels(bobConn.ID()), room.ID)
}

func TestCreateRoom_OnlineMemberSubscribedAndNotified(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	room, err := f.coord.CreateRoom(context.Background(), f.alice, aliceConn.ID(), "team", []string{"bob"})
	req.NoError(err)

	req.Contains(f.subs.Channels(bobConn.ID()), room.ID)
	req.Equal([]string{"new_room"}, bobConn.events())
	req.Empty(aliceConn.events())
}

func TestCreateRoom_UnresolvableMemberAbortsWholesale(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	aliceConn := f.connect(t, f.alice)

	_, err := f.coord.CreateRoom(context.Background(), f.alice, aliceConn.ID(), "team", []string{"bob", "ghost"})
	req.ErrorIs(err, chat.ErrInvalidPayload)
	req.Empty(f.store.rooms)
}

func TestCreateChat_DuplicatePairConflicts(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	first, err := f.coord.CreateChat(context.Background(), f.alice, aliceConn.ID(), "bob",
		chat.Message{Text: "hi bob"})
	req.NoError(err)
	req.Equal([]string{"new_chat"}, bobConn.events())

	// Same pair again, from the other side.
	_, err = f.coord.CreateChat(context.Background(), f.bob, bobConn.ID(), "alice",
		chat.Message{Text: "hi alice"})
	req.ErrorIs(err, chat.ErrConflict)

	req.Len(f.store.chats, 1)
	req.Contains(f.subs.Channels(aliceConn.ID()), first.ID)
}

func TestCreateChat_BlankFirstMessageRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	aliceConn := f.connect(t, f.alice)

	_, err := f.coord.CreateChat(context.Background(), f.alice, aliceConn.ID(), "bob",
		chat.Message{Text: "   "})
	req.ErrorIs(err, chat.ErrInvalidPayload)
	req.Empty(f.store.chats)
}

func TestUpdateMembers_AddSubscribesOnlineTargets(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice)
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	room, err := f.coord.UpdateMembers(context.Background(), f.alice, aliceConn.ID(),
		"r1", []string{"bob"}, FlagAddMember)
	req.NoError(err)
	req.Contains(room.Members, "bob")
	req.Contains(f.subs.Channels(bobConn.ID()), "r1")
	req.Equal([]string{"add_to_room"}, bobConn.events())
}

func TestUpdateMembers_ReAddingIsNoop(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)

	room, err := f.coord.UpdateMembers(context.Background(), f.alice, aliceConn.ID(),
		"r1", []string{"bob"}, FlagAddMember)
	req.NoError(err)
	req.ElementsMatch([]string{"alice", "bob"}, room.Members)
}

func TestUpdateMembers_NonAdminForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	bobConn := f.connect(t, f.bob)

	_, err := f.coord.UpdateMembers(context.Background(), f.bob, bobConn.ID(),
		"r1", []string{"carol"}, FlagAddMember)
	req.ErrorIs(err, chat.ErrForbidden)
	req.NotContains(f.store.rooms["r1"].Members, "carol")
}

func TestUpdateMembers_RemovingAdminForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	f.store.rooms["r1"].Admins = []string{"alice", "bob"}
	aliceConn := f.connect(t, f.alice)

	_, err := f.coord.UpdateMembers(context.Background(), f.alice, aliceConn.ID(),
		"r1", []string{"bob"}, FlagRemoveMember)
	req.ErrorIs(err, chat.ErrForbidden)

	// No state change.
	req.ElementsMatch([]string{"alice", "bob"}, f.store.rooms["r1"].Members)
	req.ElementsMatch([]string{"alice", "bob"}, f.store.rooms["r1"].Admins)
}

func TestUpdateMembers_RemoveUnsubscribesTarget(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	room, err := f.coord.UpdateMembers(context.Background(), f.alice, aliceConn.ID(),
		"r1", []string{"bob"}, FlagRemoveMember)
	req.NoError(err)
	req.NotContains(room.Members, "bob")
	req.NotContains(f.subs.Channels(bobConn.ID()), "r1")
	req.Equal([]string{"remove_from_room"}, bobConn.events())
}

func TestUpdateAdmin_OnlyCreatorMayGrant(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob", "carol")
	f.store.rooms["r1"].Admins = []string{"alice", "bob"}
	bobConn := f.connect(t, f.bob)

	// Bob is an admin but not the creator.
	_, err := f.coord.UpdateAdmin(context.Background(), f.bob, bobConn.ID(),
		"r1", "carol", FlagGrantAdmin)
	req.ErrorIs(err, chat.ErrForbidden)

	aliceConn := f.connect(t, f.alice)
	room, err := f.coord.UpdateAdmin(context.Background(), f.alice, aliceConn.ID(),
		"r1", "carol", FlagGrantAdmin)
	req.NoError(err)
	req.Contains(room.Admins, "carol")
	req.Contains(room.Admins, room.Creator)
}

func TestUpdateAdmin_GrantToNonMemberRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice)
	aliceConn := f.connect(t, f.alice)

	_, err := f.coord.UpdateAdmin(context.Background(), f.alice, aliceConn.ID(),
		"r1", "carol", FlagGrantAdmin)
	req.ErrorIs(err, chat.ErrInvalidPayload)
}

func TestUpdateAdmin_CreatorCannotBeRevoked(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)

	_, err := f.coord.UpdateAdmin(context.Background(), f.alice, aliceConn.ID(),
		"r1", "alice", FlagRevokeAdmin)
	req.ErrorIs(err, chat.ErrForbidden)
	req.Contains(f.store.rooms["r1"].Admins, "alice")
}

func TestUpdateAdmin_RevokeBroadcasts(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	f.store.rooms["r1"].Admins = []string{"alice", "bob"}
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	room, err := f.coord.UpdateAdmin(context.Background(), f.alice, aliceConn.ID(),
		"r1", "bob", FlagRevokeAdmin)
	req.NoError(err)
	req.NotContains(room.Admins, "bob")
	req.Contains(room.Members, "bob") // membership untouched
	req.Equal([]string{"remove_admin"}, bobConn.events())
}

func TestRenameRoom_AdminOnlyAndBroadcasts(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	_, err := f.coord.RenameRoom(context.Background(), f.bob, bobConn.ID(), "r1", "renamed")
	req.ErrorIs(err, chat.ErrForbidden)

	room, err := f.coord.RenameRoom(context.Background(), f.alice, aliceConn.ID(), "r1", "renamed")
	req.NoError(err)
	req.Equal("renamed", room.Name)
	req.Equal([]string{"room_update"}, bobConn.events())
}

func TestExitRoom_MemberLeavesAndRemainderNotified(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	err := f.coord.ExitRoom(context.Background(), f.bob, bobConn.ID(), "r1")
	req.NoError(err)

	req.Equal([]string{"alice"}, f.store.rooms["r1"].Members)
	req.NotContains(f.subs.Channels(bobConn.ID()), "r1")
	req.Equal([]string{"leave_room"}, aliceConn.events())
}

func TestExitRoom_CreatorForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)

	err := f.coord.ExitRoom(context.Background(), f.alice, aliceConn.ID(), "r1")
	req.ErrorIs(err, chat.ErrForbidden)
	req.Contains(f.store.rooms["r1"].Members, "alice")
}

func TestExitRoom_NonMemberForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice)
	carolConn := f.connect(t, f.carol)

	err := f.coord.ExitRoom(context.Background(), f.carol, carolConn.ID(), "r1")
	req.ErrorIs(err, chat.ErrForbidden)
}

func TestDeleteRoom_CreatorOnly(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	bobConn := f.connect(t, f.bob)

	err := f.coord.DeleteRoom(context.Background(), f.bob, bobConn.ID(), "r1")
	req.ErrorIs(err, chat.ErrForbidden)
	req.False(f.store.rooms["r1"].IsDeleted)
}

func TestDeleteRoom_SoftDeletesAndTearsDownChannel(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)
	bobConn := f.connect(t, f.bob)

	err := f.coord.DeleteRoom(context.Background(), f.alice, aliceConn.ID(), "r1")
	req.NoError(err)

	req.True(f.store.rooms["r1"].IsDeleted)
	req.Equal([]string{"room_deleted"}, bobConn.events())
	req.Empty(f.subs.OnlineMembers("r1"))
	req.NotContains(f.subs.Channels(aliceConn.ID()), "r1")

	// Excluded from all future connect-time membership computations.
	channels, err := f.coord.GetUserChannels(context.Background(), f.bob.ID)
	req.NoError(err)
	req.Empty(channels)
}

func TestMultiDevice_AllOfAUsersConnectionsReceiveFanOut(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.seedRoom("r1", "team", f.alice, "bob")
	aliceConn := f.connect(t, f.alice)
	bobPhone := f.connect(t, f.bob)
	bobLaptop := f.connect(t, f.bob)

	_, err := f.coord.SendMessage(context.Background(), f.alice, aliceConn.ID(),
		"r1", chat.KindRoom, chat.Message{Text: "hello"})
	req.NoError(err)

	req.Equal([]string{"new_message"}, bobPhone.events())
	req.Equal([]string{"new_message"}, bobLaptop.events())
}

func TestSearchUsers_ExcludesSelfAndOrders(t *testing.T) {
	req := require.New(t)
	f := newFixture()

	matches, err := f.coord.SearchUsers(context.Background(), f.alice.ID, "o")
	req.NoError(err)
	req.Len(matches, 2)
	req.Equal("bob", matches[0].Username)
	req.Equal("carol", matches[1].Username)

	empty, err := f.coord.SearchUsers(context.Background(), f.alice.ID, "")
	req.NoError(err)
	req.Empty(empty)
}
