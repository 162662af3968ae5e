package presence

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event is the broadcast envelope carried between server instances.
// Subscribe and Unsubscribe carry the membership delta of the mutation:
// each instance resolves the user ids against its own session registry and
// patches its local subscription cache, so a user connected to a different
// instance than the one that processed the mutation still starts (or
// stops) receiving the channel's fan-out. Teardown marks a terminal event:
// after delivery the channel is dropped from the local subscription cache
// on every instance.
type Event struct {
	Channel     string   `json:"channel_id"`
	Name        string   `json:"event"`
	Exclude     string   `json:"exclude,omitempty"`
	Subscribe   []string `json:"subscribe,omitempty"`
	Unsubscribe []string `json:"unsubscribe,omitempty"`
	Teardown    bool     `json:"teardown,omitempty"`
	Data        any      `json:"data"`
}

// eventFrame is the wire shape pushed to websocket clients for broadcasts.
type eventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Transport fans an event out to every connection subscribed to the
// channel, across all server instances. Delivery is fire-and-forget.
type Transport interface {
	Emit(ctx context.Context, ev Event) error
}

// Deliverer is the local subscription cache the delivery path patches and
// fans out through. Implemented by Subscriptions.
type Deliverer interface {
	Subscribe(conn Conn, channelID string)
	Unsubscribe(connID, channelID string)
	Deliver(channelID, exclude string, frame []byte)
	DropChannel(channelID string)
}

// Roster resolves a user's live connections on this instance. Implemented
// by Registry.
type Roster interface {
	ConnectionsFor(userID string) []Conn
}

// deliver applies the envelope on one instance. Subscribes are patched in
// before the frame fans out, so an added member receives this event and
// everything after it; unsubscribes and teardown take effect after, so a
// removed member still sees the event that removed them.
func deliver(d Deliverer, roster Roster, ev Event) error {
	for _, userID := range ev.Subscribe {
		for _, conn := range roster.ConnectionsFor(userID) {
			d.Subscribe(conn, ev.Channel)
		}
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(eventFrame{Event: ev.Name, Data: data})
	if err != nil {
		return err
	}
	d.Deliver(ev.Channel, ev.Exclude, frame)

	for _, userID := range ev.Unsubscribe {
		for _, conn := range roster.ConnectionsFor(userID) {
			d.Unsubscribe(conn.ID(), ev.Channel)
		}
	}
	if ev.Teardown {
		d.DropChannel(ev.Channel)
	}
	return nil
}

// LocalBus delivers in-process only. Suits a single server instance and
// the tests.
type LocalBus struct {
	d      Deliverer
	roster Roster
}

func NewLocalBus(d Deliverer, roster Roster) *LocalBus {
	return &LocalBus{d: d, roster: roster}
}

func (b *LocalBus) Emit(_ context.Context, ev Event) error {
	return deliver(b.d, b.roster, ev)
}

// RedisBus routes events through Redis pub/sub so a connection attached to
// one instance receives events triggered on another. Every instance,
// including the publisher, delivers to its local connections from the
// subscribe loop.
type RedisBus struct {
	rdb    *redis.Client
	topic  string
	d      Deliverer
	roster Roster
	log    zerolog.Logger
}

func NewRedisBus(rdb *redis.Client, topic string, d Deliverer, roster Roster, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		rdb:    rdb,
		topic:  topic,
		d:      d,
		roster: roster,
		log:    log.With().Str("component", "redisbus").Logger(),
	}
}

func (b *RedisBus) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.topic, payload).Err()
}

// Run consumes the pub/sub topic until ctx is canceled.
func (b *RedisBus) Run(ctx context.Context) {
	pubsub := b.rdb.Subscribe(ctx, b.topic)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Error().Err(err).Msg("malformed broadcast envelope")
				continue
			}
			if err := deliver(b.d, b.roster, ev); err != nil {
				b.log.Error().Err(err).Str("event", ev.Name).Msg("delivery failed")
			}
		}
	}
}
