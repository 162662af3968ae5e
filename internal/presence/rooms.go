package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"chat-server/internal/chat"
	"chat-server/internal/user"
)

// Room operation flags carried in member/admin mutation payloads.
type Flag int

const (
	FlagAddMember    Flag = 10
	FlagRemoveMember Flag = 11
	FlagGrantAdmin   Flag = 20
	FlagRevokeAdmin  Flag = 21
)

func (f Flag) IsMemberOp() bool { return f == FlagAddMember || f == FlagRemoveMember }
func (f Flag) IsAdminOp() bool  { return f == FlagGrantAdmin || f == FlagRevokeAdmin }

type roomMemberEvent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Member string `json:"member"`
	Admin  string `json:"admin"`
}

type roomEvent struct {
	ID string `json:"id"`
}

// CreateRoom resolves every member all-or-nothing, creates the room with
// the actor as creator and sole admin, subscribes the online members, and
// notifies them. No partial room exists if any username fails to resolve.
func (c *Coordinator) CreateRoom(ctx context.Context, actor *user.User, connID, name string, memberNames []string) (*chat.Room, error) {
	if name == "" || len(memberNames) == 0 {
		return nil, fmt.Errorf("room name and member(s) are required: %w", chat.ErrInvalidPayload)
	}

	members, err := c.resolveAll(ctx, memberNames)
	if err != nil {
		return nil, err
	}

	room := &chat.Room{
		ID:      newChannelID(),
		Name:    name,
		Creator: actor.Username,
		Members: lo.Uniq(append(lo.Map(members, func(u user.User, _ int) string {
			return u.Username
		}), actor.Username)),
		Admins: []string{actor.Username},
	}
	if err := c.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}

	memberIDs := lo.Map(members, func(u user.User, _ int) string { return u.ID })
	c.emit(ctx, Event{
		Channel:   room.ID,
		Name:      "new_room",
		Exclude:   connID,
		Subscribe: append(memberIDs, actor.ID),
		Data:      roomEvent{ID: room.ID},
	})

	c.log.Info().Str("room", room.ID).Str("creator", actor.Username).Msg("room created")
	return room, nil
}

type newChatEvent struct {
	ID     string `json:"id"`
	Texter string `json:"texter"`
}

// CreateChat starts a 1:1 conversation seeded with its first message.
// At most one live chat exists per user pair; a second attempt, in either
// order, is a conflict.
func (c *Coordinator) CreateChat(ctx context.Context, actor *user.User, connID, otherName string, first chat.Message) (*chat.Chat, error) {
	other, err := c.dir.Resolve(ctx, otherName)
	if err != nil {
		return nil, fmt.Errorf("invalid member(s): %w", chat.ErrInvalidPayload)
	}
	if other.Username == actor.Username {
		return nil, fmt.Errorf("cannot chat with yourself: %w", chat.ErrInvalidPayload)
	}
	if strings.TrimSpace(first.Text) == "" {
		return nil, fmt.Errorf("empty message text: %w", chat.ErrInvalidPayload)
	}

	switch _, err := c.store.ChatBetween(ctx, actor.Username, other.Username); {
	case err == nil:
		return nil, fmt.Errorf("chat already exists: %w", chat.ErrConflict)
	case !errors.Is(err, chat.ErrNotFound):
		return nil, err
	}

	first.Sender = actor.Username
	if first.When.IsZero() {
		first.When = time.Now().UTC()
	}

	conversation := &chat.Chat{
		ID:    newChannelID(),
		User1: actor.Username,
		User2: other.Username,
	}
	if _, err := c.store.CreateChat(ctx, conversation, first); err != nil {
		return nil, err
	}

	c.emit(ctx, Event{
		Channel:   conversation.ID,
		Name:      "new_chat",
		Exclude:   connID,
		Subscribe: []string{actor.ID, other.ID},
		Data:      newChatEvent{ID: conversation.ID, Texter: actor.Username},
	})

	c.log.Info().Str("chat", conversation.ID).
		Str("user_1", actor.Username).Str("user_2", other.Username).
		Msg("chat created")
	return conversation, nil
}

// UpdateMembers adds or removes room members. Only admins may mutate the
// member set, and a member who is currently an admin cannot be removed:
// admin status must be revoked explicitly first.
func (c *Coordinator) UpdateMembers(ctx context.Context, actor *user.User, connID, roomID string, memberNames []string, flag Flag) (*chat.Room, error) {
	if !flag.IsMemberOp() {
		return nil, fmt.Errorf("invalid flag: %w", chat.ErrInvalidPayload)
	}
	targets, err := c.resolveAll(ctx, memberNames)
	if err != nil {
		return nil, err
	}
	names := lo.Map(targets, func(u user.User, _ int) string { return u.Username })

	room, err := c.store.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		if !r.IsAdmin(actor.Username) {
			return fmt.Errorf("not an admin: %w", chat.ErrForbidden)
		}
		if flag == FlagRemoveMember {
			if len(lo.Intersect(names, r.Admins)) > 0 {
				return fmt.Errorf("cannot remove admin, revoke admin privilege first: %w", chat.ErrForbidden)
			}
			r.Members = lo.Without(r.Members, names...)
			r.Admins = lo.Without(r.Admins, names...)
			return nil
		}
		r.Members = lo.Union(r.Members, names)
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := "add_to_room"
	if flag == FlagRemoveMember {
		event = "remove_from_room"
	}
	for _, target := range targets {
		ev := Event{
			Channel: roomID,
			Name:    event,
			Exclude: connID,
			Data: roomMemberEvent{
				ID:     roomID,
				Name:   room.Name,
				Member: target.Username,
				Admin:  actor.Username,
			},
		}
		if flag == FlagAddMember {
			ev.Subscribe = []string{target.ID}
		} else {
			ev.Unsubscribe = []string{target.ID}
		}
		c.emit(ctx, ev)
	}
	return room, nil
}

// UpdateAdmin grants or revokes admin status. Only the room's creator may
// do this, the target must already be a member, and the creator's own
// admin status can never be revoked.
func (c *Coordinator) UpdateAdmin(ctx context.Context, actor *user.User, connID, roomID, memberName string, flag Flag) (*chat.Room, error) {
	if !flag.IsAdminOp() {
		return nil, fmt.Errorf("invalid flag: %w", chat.ErrInvalidPayload)
	}
	target, err := c.dir.Resolve(ctx, memberName)
	if err != nil {
		return nil, fmt.Errorf("invalid member(s): %w", chat.ErrInvalidPayload)
	}

	room, err := c.store.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		if r.Creator != actor.Username {
			return fmt.Errorf("not the creator: %w", chat.ErrForbidden)
		}
		if flag == FlagGrantAdmin {
			if !r.IsMember(target.Username) {
				return fmt.Errorf("not a room member: %w", chat.ErrInvalidPayload)
			}
			r.Admins = lo.Union(r.Admins, []string{target.Username})
			return nil
		}
		if target.Username == r.Creator {
			return fmt.Errorf("creator admin status cannot be revoked: %w", chat.ErrForbidden)
		}
		r.Admins = lo.Without(r.Admins, target.Username)
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := "add_admin"
	if flag == FlagRevokeAdmin {
		event = "remove_admin"
	}
	c.emit(ctx, Event{
		Channel: roomID,
		Name:    event,
		Exclude: connID,
		Data: roomMemberEvent{
			ID:     roomID,
			Name:   room.Name,
			Member: target.Username,
			Admin:  actor.Username,
		},
	})
	return room, nil
}

type roomUpdateEvent struct {
	ID     string `json:"id"`
	Member string `json:"member"`
	Name   string `json:"name"`
}

// RenameRoom changes the room name; any admin may do it.
func (c *Coordinator) RenameRoom(ctx context.Context, actor *user.User, connID, roomID, newName string) (*chat.Room, error) {
	if newName == "" {
		return nil, fmt.Errorf("room name is required: %w", chat.ErrInvalidPayload)
	}

	room, err := c.store.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		if !r.IsAdmin(actor.Username) {
			return fmt.Errorf("not an admin: %w", chat.ErrForbidden)
		}
		r.Name = newName
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, Event{
		Channel: roomID,
		Name:    "room_update",
		Exclude: connID,
		Data:    roomUpdateEvent{ID: roomID, Member: actor.Username, Name: newName},
	})
	return room, nil
}

type leaveRoomEvent struct {
	ID     string `json:"id"`
	Member string `json:"member"`
}

// ExitRoom removes the actor from the room. The creator can never exit;
// deleting the room is the only way out for them.
func (c *Coordinator) ExitRoom(ctx context.Context, actor *user.User, connID, roomID string) error {
	_, err := c.store.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		if r.Creator == actor.Username {
			return fmt.Errorf("creator cannot exit room, delete room instead: %w", chat.ErrForbidden)
		}
		if !r.IsMember(actor.Username) {
			return fmt.Errorf("not a room member: %w", chat.ErrForbidden)
		}
		r.Members = lo.Without(r.Members, actor.Username)
		r.Admins = lo.Without(r.Admins, actor.Username)
		return nil
	})
	if err != nil {
		return err
	}

	c.emit(ctx, Event{
		Channel:     roomID,
		Name:        "leave_room",
		Exclude:     connID,
		Unsubscribe: []string{actor.ID},
		Data:        leaveRoomEvent{ID: roomID, Member: actor.Username},
	})
	return nil
}

// DeleteRoom soft-deletes the room. Only the creator may delete. The
// channel is actively torn down: a terminal room_deleted event goes out
// and every instance drops its local subscriptions for the channel, so
// already-connected members stop receiving fan-out immediately instead of
// at their next reconnect.
func (c *Coordinator) DeleteRoom(ctx context.Context, actor *user.User, connID, roomID string) error {
	_, err := c.store.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		if r.Creator != actor.Username {
			return fmt.Errorf("cannot delete room, you are not the creator: %w", chat.ErrForbidden)
		}
		r.IsDeleted = true
		return nil
	})
	if err != nil {
		return err
	}

	c.emit(ctx, Event{
		Channel:  roomID,
		Name:     "room_deleted",
		Exclude:  connID,
		Teardown: true,
		Data:     roomEvent{ID: roomID},
	})

	c.log.Info().Str("room", roomID).Str("creator", actor.Username).Msg("room deleted")
	return nil
}
