package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chat-server/internal/chat"
	"chat-server/internal/user"
)

// Directory resolves user identities. Backed by the durable store.
type Directory interface {
	Resolve(ctx context.Context, identifier string) (*user.User, error)
	Search(ctx context.Context, selfID, term string) ([]user.User, error)
	ByUsernames(ctx context.Context, names []string) ([]user.User, error)
}

// Store is the durable Membership Store surface the coordinator drives.
type Store interface {
	UserChannels(ctx context.Context, username string) ([]chat.Summary, error)
	RoomByID(ctx context.Context, id string) (*chat.Room, error)
	ChatByID(ctx context.Context, id string) (*chat.Chat, error)
	ChannelByID(ctx context.Context, id, kind string) (chat.Channel, error)
	ChatBetween(ctx context.Context, userA, userB string) (*chat.Chat, error)
	Messages(ctx context.Context, channelID string) ([]chat.Message, error)
	AppendMessage(ctx context.Context, channelID, kind string, msg chat.Message) (*chat.Message, error)
	CreateRoom(ctx context.Context, room *chat.Room) error
	CreateChat(ctx context.Context, c *chat.Chat, first chat.Message) (*chat.Message, error)
	UpdateRoom(ctx context.Context, roomID string, mutate func(*chat.Room) error) (*chat.Room, error)
}

// Coordinator orchestrates connect/disconnect, message fan-out and
// membership mutations. Connect-time reconciliation writes the caches
// directly; mutation-time subscription patches ride the broadcast envelope
// so every instance, not just the one processing the mutation, converges.
// The Membership Store stays the source of truth throughout.
type Coordinator struct {
	dir      Directory
	store    Store
	bus      Transport
	sessions *Registry
	subs     *Subscriptions
	log      zerolog.Logger
}

func NewCoordinator(dir Directory, store Store, bus Transport, sessions *Registry, subs *Subscriptions, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		dir:      dir,
		store:    store,
		bus:      bus,
		sessions: sessions,
		subs:     subs,
		log:      log.With().Str("component", "presence").Logger(),
	}
}

// emit is fire-and-forget: a transport failure is logged, never surfaced
// to the mutating operation.
func (c *Coordinator) emit(ctx context.Context, ev Event) {
	if err := c.bus.Emit(ctx, ev); err != nil {
		c.log.Error().Err(err).
			Str("event", ev.Name).
			Str("channel", ev.Channel).
			Msg("broadcast failed")
	}
}

// Connect authenticates the connection against the Directory, binds it,
// and subscribes it to every non-deleted room and chat the user belongs
// to. Any failure leaves the connection unbound with no subscriptions.
func (c *Coordinator) Connect(ctx context.Context, conn Conn, identifier string) (*user.User, error) {
	u, err := c.dir.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if err := c.sessions.Bind(conn, u.ID); err != nil {
		return nil, err
	}

	channels, err := c.store.UserChannels(ctx, u.Username)
	if err != nil {
		c.sessions.Unbind(conn.ID())
		return nil, err
	}
	for _, ch := range channels {
		c.subs.Subscribe(conn, ch.ID)
	}

	c.log.Info().Str("user", u.Username).Str("conn", conn.ID()).
		Int("channels", len(channels)).Msg("connected")
	return u, nil
}

// Disconnect releases the session and all of its subscriptions.
func (c *Coordinator) Disconnect(conn Conn) {
	userID, ok := c.sessions.Unbind(conn.ID())
	c.subs.Drop(conn.ID())
	if ok {
		c.log.Info().Str("user_id", userID).Str("conn", conn.ID()).Msg("disconnected")
	}
}

type newMessageEvent struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Message *chat.Message `json:"message"`
}

// SendMessage appends to a channel the actor belongs to and broadcasts
// new_message to the channel's online members, excluding the sender's own
// connection (the client locally echoes its own messages).
func (c *Coordinator) SendMessage(ctx context.Context, actor *user.User, connID, channelID, kind string, msg chat.Message) (*chat.Message, error) {
	ch, err := c.store.ChannelByID(ctx, channelID, kind)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(ch, actor.Username) {
		return nil, fmt.Errorf("not a member: %w", chat.ErrForbidden)
	}

	if strings.TrimSpace(msg.Text) == "" {
		return nil, fmt.Errorf("empty message text: %w", chat.ErrInvalidPayload)
	}
	msg.Sender = actor.Username
	if msg.When.IsZero() {
		msg.When = time.Now().UTC()
	}

	saved, err := c.store.AppendMessage(ctx, channelID, kind, msg)
	if err != nil {
		return nil, err
	}

	c.emit(ctx, Event{
		Channel: channelID,
		Name:    "new_message",
		Exclude: connID,
		Data:    newMessageEvent{ID: channelID, Type: kind, Message: saved},
	})
	return saved, nil
}

// SearchUsers returns users matching term, self excluded. An empty term
// matches nobody.
func (c *Coordinator) SearchUsers(ctx context.Context, selfID, term string) ([]user.Summary, error) {
	if term == "" {
		return []user.Summary{}, nil
	}
	matches, err := c.dir.Search(ctx, selfID, term)
	if err != nil {
		return nil, err
	}
	summaries := make([]user.Summary, 0, len(matches))
	for _, u := range matches {
		summaries = append(summaries, u.Summary())
	}
	return summaries, nil
}

func (c *Coordinator) GetUser(ctx context.Context, identifier string) (*user.Summary, error) {
	u, err := c.dir.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	summary := u.Summary()
	return &summary, nil
}

// GetUserChannels lists a user's rooms and chats sorted by last activity.
func (c *Coordinator) GetUserChannels(ctx context.Context, identifier string) ([]chat.Summary, error) {
	u, err := c.dir.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return c.store.UserChannels(ctx, u.Username)
}

func (c *Coordinator) GetRoom(ctx context.Context, id string) (*chat.RoomDetail, error) {
	room, err := c.store.RoomByID(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := c.store.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return room.Detail(msgs), nil
}

func (c *Coordinator) GetChat(ctx context.Context, id string) (*chat.ChatDetail, error) {
	ch, err := c.store.ChatByID(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := c.store.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return ch.Detail(msgs), nil
}

// resolveAll resolves usernames all-or-nothing.
func (c *Coordinator) resolveAll(ctx context.Context, names []string) ([]user.User, error) {
	unique := lo.Uniq(names)
	resolved, err := c.dir.ByUsernames(ctx, unique)
	if err != nil {
		return nil, err
	}
	if len(resolved) != len(unique) {
		return nil, fmt.Errorf("invalid member(s): %w", chat.ErrInvalidPayload)
	}
	return resolved, nil
}

func newChannelID() string { return uuid.NewString() }
