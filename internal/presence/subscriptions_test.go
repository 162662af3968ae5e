package presence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscriptions_SubscribeIsIdempotent(t *testing.T) {
	req := require.New(t)
	subs := NewSubscriptions()
	conn := newFakeConn("c1")

	subs.Subscribe(conn, "room-1")
	subs.Subscribe(conn, "room-1")

	req.Len(subs.OnlineMembers("room-1"), 1)
	req.Equal([]string{"room-1"}, subs.Channels("c1"))
}

func TestSubscriptions_UnsubscribeUnknownIsNoop(t *testing.T) {
	req := require.New(t)
	subs := NewSubscriptions()

	subs.Unsubscribe("c1", "room-1")
	req.Empty(subs.OnlineMembers("room-1"))
}

func TestSubscriptions_DropRemovesEverySubscription(t *testing.T) {
	req := require.New(t)
	subs := NewSubscriptions()
	conn := newFakeConn("c1")
	other := newFakeConn("c2")

	subs.Subscribe(conn, "room-1")
	subs.Subscribe(conn, "chat-1")
	subs.Subscribe(other, "room-1")

	subs.Drop("c1")

	req.Empty(subs.Channels("c1"))
	req.Len(subs.OnlineMembers("room-1"), 1)
	req.Empty(subs.OnlineMembers("chat-1"))
}

func TestSubscriptions_DropChannel(t *testing.T) {
	req := require.New(t)
	subs := NewSubscriptions()
	c1 := newFakeConn("c1")
	c2 := newFakeConn("c2")

	subs.Subscribe(c1, "room-1")
	subs.Subscribe(c2, "room-1")
	subs.Subscribe(c1, "chat-1")

	subs.DropChannel("room-1")

	req.Empty(subs.OnlineMembers("room-1"))
	req.Equal([]string{"chat-1"}, subs.Channels("c1"))
	req.Empty(subs.Channels("c2"))
}

func TestSubscriptions_DeliverExcludesSender(t *testing.T) {
	req := require.New(t)
	subs := NewSubscriptions()
	sender := newFakeConn("sender")
	peer := newFakeConn("peer")

	subs.Subscribe(sender, "room-1")
	subs.Subscribe(peer, "room-1")

	subs.Deliver("room-1", "sender", []byte(`{"event":"new_message","data":{}}`))

	req.Empty(sender.frames)
	req.Len(peer.frames, 1)
}

func TestSubscriptions_DeliverToEmptyChannelIsNoop(t *testing.T) {
	subs := NewSubscriptions()
	// A channel whose members are all offline is the common case.
	subs.Deliver("room-1", "", []byte(`{}`))
}

func TestSubscriptions_DeliverSkipsFullConnections(t *testing.T) {
	req := require.New(t)
	subs := NewSubscriptions()
	slow := newFakeConn("slow")
	slow.full = true
	ok := newFakeConn("ok")

	subs.Subscribe(slow, "room-1")
	subs.Subscribe(ok, "room-1")

	subs.Deliver("room-1", "", []byte(`{}`))

	req.Empty(slow.frames)
	req.Len(ok.frames, 1)
}
