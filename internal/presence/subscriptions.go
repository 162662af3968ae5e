package presence

import "sync"

// Subscriptions maps live connections to the channels they receive
// broadcasts for. It is a cache over the Membership Store, rebuilt for a
// connection at connect time and patched after every membership mutation;
// it is never consulted for authorization.
type Subscriptions struct {
	mu        sync.RWMutex
	byChannel map[string]map[string]Conn // channel id -> conn id -> conn
	byConn    map[string]map[string]struct{}
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		byChannel: make(map[string]map[string]Conn),
		byConn:    make(map[string]map[string]struct{}),
	}
}

// Subscribe is idempotent: subscribing an already-subscribed connection
// leaves the set unchanged.
func (s *Subscriptions) Subscribe(conn Conn, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byChannel[channelID] == nil {
		s.byChannel[channelID] = make(map[string]Conn)
	}
	s.byChannel[channelID][conn.ID()] = conn

	if s.byConn[conn.ID()] == nil {
		s.byConn[conn.ID()] = make(map[string]struct{})
	}
	s.byConn[conn.ID()][channelID] = struct{}{}
}

// Unsubscribe is a no-op for a connection that is not subscribed.
func (s *Subscriptions) Unsubscribe(connID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(connID, channelID)
}

func (s *Subscriptions) remove(connID, channelID string) {
	if conns := s.byChannel[channelID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(s.byChannel, channelID)
		}
	}
	if channels := s.byConn[connID]; channels != nil {
		delete(channels, channelID)
		if len(channels) == 0 {
			delete(s.byConn, connID)
		}
	}
}

// Drop removes a disconnected connection from every channel wholesale.
func (s *Subscriptions) Drop(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for channelID := range s.byConn[connID] {
		s.remove(connID, channelID)
	}
}

// DropChannel tears a channel down, unsubscribing every connection.
func (s *Subscriptions) DropChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for connID := range s.byChannel[channelID] {
		s.remove(connID, channelID)
	}
}

// Channels returns the channel ids a connection is subscribed to.
func (s *Subscriptions) Channels(connID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]string, 0, len(s.byConn[connID]))
	for id := range s.byConn[connID] {
		channels = append(channels, id)
	}
	return channels
}

// OnlineMembers returns the connections currently subscribed to a channel.
func (s *Subscriptions) OnlineMembers(channelID string) []Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]Conn, 0, len(s.byChannel[channelID]))
	for _, c := range s.byChannel[channelID] {
		conns = append(conns, c)
	}
	return conns
}

// Deliver fans a frame out to every connection subscribed to the channel,
// skipping exclude. A channel with no online subscribers is a no-op. A
// connection that cannot accept the frame is skipped; its write deadline
// will reap it.
func (s *Subscriptions) Deliver(channelID, exclude string, frame []byte) {
	for _, conn := range s.OnlineMembers(channelID) {
		if conn.ID() == exclude {
			continue
		}
		conn.Send(frame)
	}
}
