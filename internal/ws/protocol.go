package ws

import (
	"encoding/json"
	"net/http"
	"strings"

	"chat-server/internal/chat"
)

// Frame is an inbound client message: an event name plus its payload.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the ack envelope for an inbound event, echoing its name.
type Response struct {
	Event      string `json:"event"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Data       any    `json:"data,omitempty"`
}

// Inbound payloads, one validated struct per event. The acting user is
// always taken from the authenticated session, never from the payload.

type searchUsersRequest struct {
	Term string `json:"search_term"`
}

type getUserRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (r getUserRequest) identifier() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Username
}

type getChannelRequest struct {
	ID string `json:"id" validate:"required,uuid"`
}

type newMessageRequest struct {
	ID      string       `json:"id" validate:"required,uuid"`
	Type    string       `json:"type" validate:"required,oneof=room chat"`
	Message chat.Message `json:"message"`
}

type createRoomRequest struct {
	Name    string   `json:"name" validate:"required"`
	Members []string `json:"members" validate:"required,min=1,dive,required"`
}

type createChatRequest struct {
	User2   string       `json:"user_2" validate:"required"`
	Message chat.Message `json:"message"`
}

type membersRequest struct {
	ID      string   `json:"id" validate:"required,uuid"`
	Members []string `json:"members" validate:"required,min=1,dive,required"`
	Flag    int      `json:"flag" validate:"required,oneof=10 11"`
}

type adminRequest struct {
	ID     string `json:"id" validate:"required,uuid"`
	Member string `json:"member" validate:"required"`
	Flag   int    `json:"flag" validate:"required,oneof=20 21"`
}

type renameRoomRequest struct {
	ID   string `json:"id" validate:"required,uuid"`
	Name string `json:"name" validate:"required"`
}

type exitRoomRequest struct {
	RoomID string `json:"room_id" validate:"required,uuid"`
}

type deleteRoomRequest struct {
	ID string `json:"id" validate:"required,uuid"`
}

// errorMessage renders an operation error for the wire, trimming the
// taxonomy sentinel suffix and hiding internal failure detail.
func errorMessage(err error) string {
	if chat.StatusCode(err) == http.StatusInternalServerError {
		return "internal error"
	}
	msg := err.Error()
	for _, sentinel := range []error{
		chat.ErrNotFound, chat.ErrForbidden, chat.ErrInvalidPayload, chat.ErrConflict,
	} {
		msg = strings.TrimSuffix(msg, ": "+sentinel.Error())
	}
	return msg
}
