package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-server/internal/chat"
	"chat-server/internal/middleware"
	"chat-server/internal/presence"
)

const opTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (dev mode).
	},
}

type Handler struct {
	coord    *presence.Coordinator
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(coord *presence.Coordinator, log zerolog.Logger) *Handler {
	return &Handler{
		coord:    coord,
		validate: validator.New(),
		log:      log.With().Str("component", "ws").Logger(),
	}
}

// ServeWs upgrades the connection and performs the connect operation. The
// JWT presented to the endpoint is the out-of-band auth payload; a user
// that fails to resolve is refused before any subscription exists.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, 256),
		handler: h,
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	u, err := h.coord.Connect(ctx, client, userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("connect rejected")
		conn.Close()
		return
	}
	client.user = u

	go client.writePump()
	go client.readPump()
}

func (h *Handler) respond(c *Client, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		h.log.Error().Err(err).Str("event", resp.Event).Msg("marshal response")
		return
	}
	c.Send(payload)
}

func (h *Handler) fail(c *Client, event string, err error) {
	h.respond(c, Response{
		Event:      event,
		Message:    errorMessage(err),
		StatusCode: chat.StatusCode(err),
	})
}

// decode unmarshals and validates an event payload.
func (h *Handler) decode(raw json.RawMessage, req any) error {
	if err := json.Unmarshal(raw, req); err != nil {
		return chat.ErrInvalidPayload
	}
	if err := h.validate.Struct(req); err != nil {
		return chat.ErrInvalidPayload
	}
	return nil
}

// dispatch routes one inbound frame to its coordinator operation and acks
// it with the response envelope.
func (h *Handler) dispatch(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		h.fail(c, "error", chat.ErrInvalidPayload)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch frame.Event {
	case "search_users":
		var req searchUsersRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		matches, err := h.coord.SearchUsers(ctx, c.user.ID, req.Term)
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "success", http.StatusOK, matches})

	case "get_user":
		var req getUserRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		if req.identifier() == "" {
			h.fail(c, frame.Event, chat.ErrInvalidPayload)
			return
		}
		u, err := h.coord.GetUser(ctx, req.identifier())
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "success", http.StatusOK, u})

	case "get_user_chats":
		var req getUserRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		identifier := req.identifier()
		if identifier == "" {
			identifier = c.user.ID
		}
		channels, err := h.coord.GetUserChannels(ctx, identifier)
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "success", http.StatusOK, channels})

	case "get_room":
		var req getChannelRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		room, err := h.coord.GetRoom(ctx, req.ID)
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "success", http.StatusOK, room})

	case "get_chat":
		var req getChannelRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		conversation, err := h.coord.GetChat(ctx, req.ID)
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "success", http.StatusOK, conversation})

	case "new_message":
		var req newMessageRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		saved, err := h.coord.SendMessage(ctx, c.user, c.id, req.ID, req.Type, req.Message)
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "message sent successfully", http.StatusCreated, saved})

	case "create_room":
		var req createRoomRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		room, err := h.coord.CreateRoom(ctx, c.user, c.id, req.Name, req.Members)
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "room created successfully", http.StatusCreated, room})

	case "create_chat":
		var req createChatRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		conversation, err := h.coord.CreateChat(ctx, c.user, c.id, req.User2, req.Message)
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "chat created successfully", http.StatusCreated, conversation})

	case "add_member", "remove_member":
		var req membersRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		room, err := h.coord.UpdateMembers(ctx, c.user, c.id, req.ID, req.Members, presence.Flag(req.Flag))
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "success", http.StatusOK, room})

	case "add_admin", "remove_admin":
		var req adminRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		room, err := h.coord.UpdateAdmin(ctx, c.user, c.id, req.ID, req.Member, presence.Flag(req.Flag))
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "success", http.StatusOK, room})

	case "edit_room_name":
		var req renameRoomRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		room, err := h.coord.RenameRoom(ctx, c.user, c.id, req.ID, req.Name)
		if err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{frame.Event, "room name changed successfully", http.StatusOK, room})

	case "exit_room":
		var req exitRoomRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		if err := h.coord.ExitRoom(ctx, c.user, c.id, req.RoomID); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{Event: frame.Event, Message: "successfully exited room", StatusCode: http.StatusOK})

	case "delete_room":
		var req deleteRoomRequest
		if err := h.decode(frame.Payload, &req); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		if err := h.coord.DeleteRoom(ctx, c.user, c.id, req.ID); err != nil {
			h.fail(c, frame.Event, err)
			return
		}
		h.respond(c, Response{Event: frame.Event, Message: "successfully deleted room", StatusCode: http.StatusOK})

	default:
		h.fail(c, frame.Event, chat.ErrInvalidPayload)
	}
}
