package chat

import (
	"time"

	"github.com/samber/lo"
)

// Channel kinds. Every broadcastable unit is either a room or a 1:1 chat.
const (
	KindRoom = "room"
	KindChat = "chat"
)

// Channel is the common surface of Room and Chat that the presence
// coordinator needs: identity, membership, and liveness. Fan-out and
// authorization logic is written once against this interface.
type Channel interface {
	ChannelID() string
	Kind() string
	MemberNames() []string
	Deleted() bool
}

type Message struct {
	ID     string    `json:"id"`
	Sender string    `json:"sender"` // username, denormalized for the UI
	Text   string    `json:"text"`
	When   time.Time `json:"when"`
}

// Room is a named group channel. Creator is always an admin, and admins
// are always members; the repository and coordinator preserve both.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Creator     string    `json:"creator"`
	Members     []string  `json:"members"`
	Admins      []string  `json:"admins"`
	LastMessage *Message  `json:"last_msg"`
	IsDeleted   bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *Room) ChannelID() string      { return r.ID }
func (r *Room) Kind() string           { return KindRoom }
func (r *Room) MemberNames() []string  { return r.Members }
func (r *Room) Deleted() bool          { return r.IsDeleted }
func (r *Room) IsMember(username string) bool {
	return lo.Contains(r.Members, username)
}
func (r *Room) IsAdmin(username string) bool {
	return lo.Contains(r.Admins, username)
}

// Chat is a 1:1 conversation. At most one non-deleted chat exists per
// unordered user pair.
type Chat struct {
	ID          string    `json:"id"`
	User1       string    `json:"user_1"`
	User2       string    `json:"user_2"`
	LastMessage *Message  `json:"last_msg"`
	IsDeleted   bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Chat) ChannelID() string     { return c.ID }
func (c *Chat) Kind() string          { return KindChat }
func (c *Chat) MemberNames() []string { return []string{c.User1, c.User2} }
func (c *Chat) Deleted() bool         { return c.IsDeleted }

// HasMember reports whether username belongs to the channel.
func HasMember(ch Channel, username string) bool {
	return lo.Contains(ch.MemberNames(), username)
}

// Summary is the flattened room-or-chat entry returned by get_user_chats,
// sorted by recent activity.
type Summary struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name,omitempty"`    // rooms only
	Members     []string  `json:"members"`
	LastMessage *Message  `json:"last_msg"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DayMessages groups a channel's messages by calendar date for the
// get_room/get_chat detail views.
type DayMessages struct {
	Date     string    `json:"date"` // YYYY-MM-DD
	Messages []Message `json:"messages"`
}

// GroupByDay buckets messages by the calendar date of their timestamp.
// Each date gets exactly one bucket, ordered by the date's first
// appearance; a message whose client timestamp is out of order merges into
// its date's existing bucket, preserving arrival order within each day.
func GroupByDay(msgs []Message) []DayMessages {
	var days []DayMessages
	index := make(map[string]int)
	for _, msg := range msgs {
		date := msg.When.Format("2006-01-02")
		i, ok := index[date]
		if !ok {
			i = len(days)
			index[date] = i
			days = append(days, DayMessages{Date: date})
		}
		days[i].Messages = append(days[i].Messages, msg)
	}
	return days
}

// RoomDetail is the full get_room response body.
type RoomDetail struct {
	Room
	Type     string        `json:"type"`
	Messages []DayMessages `json:"messages"`
}

// ChatDetail is the full get_chat response body.
type ChatDetail struct {
	Chat
	Type     string        `json:"type"`
	Members  []string      `json:"members"`
	Messages []DayMessages `json:"messages"`
}

func (r *Room) Detail(msgs []Message) *RoomDetail {
	return &RoomDetail{Room: *r, Type: KindRoom, Messages: GroupByDay(msgs)}
}

func (c *Chat) Detail(msgs []Message) *ChatDetail {
	return &ChatDetail{
		Chat:     *c,
		Type:     KindChat,
		Members:  c.MemberNames(),
		Messages: GroupByDay(msgs),
	}
}
