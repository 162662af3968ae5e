package chat

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(day, hour int) time.Time {
	return time.Date(2026, time.March, day, hour, 0, 0, 0, time.UTC)
}

func TestGroupByDay(t *testing.T) {
	req := require.New(t)

	msgs := []Message{
		{ID: "1", Text: "morning", When: at(1, 9)},
		{ID: "2", Text: "noon", When: at(1, 12)},
		{ID: "3", Text: "next day", When: at(2, 8)},
		{ID: "4", Text: "still next day", When: at(2, 20)},
	}

	days := GroupByDay(msgs)
	req.Len(days, 2)
	req.Equal("2026-03-01", days[0].Date)
	req.Len(days[0].Messages, 2)
	req.Equal("2026-03-02", days[1].Date)
	req.Equal("3", days[1].Messages[0].ID)
	req.Equal("4", days[1].Messages[1].ID)
}

func TestGroupByDay_EmptyAndSingle(t *testing.T) {
	req := require.New(t)

	req.Empty(GroupByDay(nil))

	days := GroupByDay([]Message{{ID: "1", When: at(5, 10)}})
	req.Len(days, 1)
	req.Equal("2026-03-05", days[0].Date)
}

func TestGroupByDay_MergesOutOfOrderTimestamps(t *testing.T) {
	req := require.New(t)

	// A message carrying an earlier client timestamp after a later one
	// merges into its date's existing bucket; no date appears twice.
	msgs := []Message{
		{ID: "1", When: at(1, 9)},
		{ID: "2", When: at(2, 9)},
		{ID: "3", When: at(1, 23)},
	}

	days := GroupByDay(msgs)
	req.Len(days, 2)
	req.Equal("2026-03-01", days[0].Date)
	req.Equal([]string{"1", "3"}, []string{days[0].Messages[0].ID, days[0].Messages[1].ID})
	req.Equal("2026-03-02", days[1].Date)
	req.Equal("2", days[1].Messages[0].ID)
}

func TestChannelMembership(t *testing.T) {
	req := require.New(t)

	room := &Room{
		ID:      "r1",
		Creator: "alice",
		Members: []string{"alice", "bob"},
		Admins:  []string{"alice"},
	}
	req.True(HasMember(room, "bob"))
	req.False(HasMember(room, "carol"))
	req.True(room.IsAdmin("alice"))
	req.False(room.IsAdmin("bob"))
	req.Equal(KindRoom, room.Kind())

	conversation := &Chat{ID: "c1", User1: "alice", User2: "carol"}
	req.True(HasMember(conversation, "carol"))
	req.False(HasMember(conversation, "bob"))
	req.Equal(KindChat, conversation.Kind())
	req.Equal([]string{"alice", "carol"}, conversation.MemberNames())
}

func TestDetailComposition(t *testing.T) {
	req := require.New(t)

	msgs := []Message{{ID: "1", When: at(1, 9)}, {ID: "2", When: at(2, 9)}}

	room := &Room{ID: "r1", Name: "team", Members: []string{"alice"}}
	rd := room.Detail(msgs)
	req.Equal(KindRoom, rd.Type)
	req.Equal("team", rd.Name)
	req.Len(rd.Messages, 2)

	conversation := &Chat{ID: "c1", User1: "alice", User2: "bob"}
	cd := conversation.Detail(nil)
	req.Equal(KindChat, cd.Type)
	req.Equal([]string{"alice", "bob"}, cd.Members)
	req.Empty(cd.Messages)
}

func TestStatusCode(t *testing.T) {
	req := require.New(t)

	req.Equal(http.StatusOK, StatusCode(nil))
	req.Equal(http.StatusNotFound, StatusCode(fmt.Errorf("invalid room id: %w", ErrNotFound)))
	req.Equal(http.StatusForbidden, StatusCode(fmt.Errorf("not an admin: %w", ErrForbidden)))
	req.Equal(http.StatusBadRequest, StatusCode(ErrInvalidPayload))
	req.Equal(http.StatusConflict, StatusCode(fmt.Errorf("chat already exists: %w", ErrConflict)))
	req.Equal(http.StatusInternalServerError, StatusCode(errors.New("connection reset")))
}
