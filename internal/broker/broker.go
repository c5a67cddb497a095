// Package broker fans events out to realtime sessions grouped into rooms.
// Each room carries a dense, strictly monotonic sequence starting at 1;
// every member observes the same event order.
package broker

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/metrics"
	"github.com/fun-euchre/server/internal/protocol"
)

// UnauthorizedSource is returned when a caller without the publisher
// handle attempts to broadcast.
const UnauthorizedSource = "UNAUTHORIZED_SOURCE"

// Sink receives events for one session. Implementations must be safe for
// concurrent Send calls.
type Sink interface {
	Send(ev protocol.Event) error
}

// LobbyRoom returns the room id for a lobby.
func LobbyRoom(lobbyID string) string { return "lobby:" + lobbyID }

// GameRoom returns the room id for a game.
func GameRoom(gameID string) string { return "game:" + gameID }

// Delivery reports a broadcast's reach.
type Delivery struct {
	OK                  bool
	Code                string
	DeliveredSessionIDs []string
	DeliveredEventCount int
}

// Publisher is the capability required to broadcast. The orchestrator
// obtains the single publisher at wiring time; domain dispatchers share
// it, untrusted callers cannot forge it.
type Publisher struct {
	b *Broker
}

// Broker owns session-to-room membership and per-room sequences.
type Broker struct {
	mu           sync.Mutex
	sinks        map[string]Sink                // sessionId -> sink
	rooms        map[string]map[string]struct{} // roomId -> sessionIds
	sessionRooms map[string]map[string]struct{} // sessionId -> roomIds
	lastSeq      map[string]uint64              // roomId -> last sequence
	publisher    *Publisher
	clock        clock.Clock
	metrics      *metrics.Metrics
	log          *zap.Logger
}

// New builds an empty broker. Metrics may be nil.
func New(clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Broker {
	b := &Broker{
		sinks:        make(map[string]Sink),
		rooms:        make(map[string]map[string]struct{}),
		sessionRooms: make(map[string]map[string]struct{}),
		lastSeq:      make(map[string]uint64),
		clock:        clk,
		metrics:      m,
		log:          log,
	}
	b.publisher = &Publisher{b: b}
	return b
}

// Publisher returns the broadcast capability.
func (b *Broker) Publisher() *Publisher { return b.publisher }

// ConnectSession binds a sink to a session id, evicting any prior sink
// under the same id. Room membership survives reconnects. An evicted
// sink that implements Close is closed so its connection tears down.
func (b *Broker) ConnectSession(sessionID string, sink Sink) {
	b.mu.Lock()
	prev := b.sinks[sessionID]
	b.sinks[sessionID] = sink
	b.mu.Unlock()
	if prev != nil {
		b.log.Debug("broker sink replaced", zap.String("sessionId", sessionID))
		if c, ok := prev.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// DetachSink removes the session's sink only if it is still the given
// one, keeping room membership so a reconnect resumes its
// subscriptions. It reports whether the sink was current: a stale
// connection closing after its replacement attached must not detach the
// replacement.
func (b *Broker) DetachSink(sessionID string, sink Sink) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sinks[sessionID] != sink {
		return false
	}
	delete(b.sinks, sessionID)
	return true
}

// RemoveSession drops the sink and every room membership. Used when the
// session record is deleted for good.
func (b *Broker) RemoveSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, sessionID)
	for room := range b.sessionRooms[sessionID] {
		delete(b.rooms[room], sessionID)
		if len(b.rooms[room]) == 0 {
			delete(b.rooms, room)
		}
	}
	delete(b.sessionRooms, sessionID)
}

// BindSessionToLobby subscribes a session to a lobby room. Idempotent.
func (b *Broker) BindSessionToLobby(sessionID, lobbyID string) {
	b.bind(sessionID, LobbyRoom(lobbyID))
}

// BindSessionToGame subscribes a session to a game room. Idempotent.
func (b *Broker) BindSessionToGame(sessionID, gameID string) {
	b.bind(sessionID, GameRoom(gameID))
}

// UnbindSessionFromLobby removes a lobby subscription. Idempotent.
func (b *Broker) UnbindSessionFromLobby(sessionID, lobbyID string) {
	b.unbind(sessionID, LobbyRoom(lobbyID))
}

// UnbindSessionFromGame removes a game subscription. Idempotent.
func (b *Broker) UnbindSessionFromGame(sessionID, gameID string) {
	b.unbind(sessionID, GameRoom(gameID))
}

func (b *Broker) bind(sessionID, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[string]struct{})
	}
	b.rooms[room][sessionID] = struct{}{}
	if b.sessionRooms[sessionID] == nil {
		b.sessionRooms[sessionID] = make(map[string]struct{})
	}
	b.sessionRooms[sessionID][room] = struct{}{}
}

func (b *Broker) unbind(sessionID, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms[room], sessionID)
	if len(b.rooms[room]) == 0 {
		delete(b.rooms, room)
	}
	delete(b.sessionRooms[sessionID], room)
	if len(b.sessionRooms[sessionID]) == 0 {
		delete(b.sessionRooms, sessionID)
	}
}

// BroadcastLobbyEvents publishes to a lobby room.
func (b *Broker) BroadcastLobbyEvents(p *Publisher, lobbyID string, events []protocol.Event) Delivery {
	return b.broadcast(p, LobbyRoom(lobbyID), events)
}

// BroadcastGameEvents publishes to a game room.
func (b *Broker) BroadcastGameEvents(p *Publisher, gameID string, events []protocol.Event) Delivery {
	return b.broadcast(p, GameRoom(gameID), events)
}

// SendToSession delivers events to one session only, without a room
// sequence. Used for game.private_state and request/reply mirroring.
func (b *Broker) SendToSession(p *Publisher, sessionID string, events []protocol.Event) Delivery {
	if p == nil || p.b != b {
		return Delivery{Code: UnauthorizedSource}
	}
	b.mu.Lock()
	sink, ok := b.sinks[sessionID]
	b.mu.Unlock()
	if !ok {
		return Delivery{OK: true}
	}
	n := 0
	for _, ev := range events {
		if err := b.send(sessionID, sink, ev); err == nil {
			n++
		}
	}
	return Delivery{OK: true, DeliveredSessionIDs: []string{sessionID}, DeliveredEventCount: n}
}

// broadcast stamps each event with the room's next sequence and delivers
// clones to every member sink in FIFO order.
func (b *Broker) broadcast(p *Publisher, room string, events []protocol.Event) Delivery {
	if p == nil || p.b != b {
		return Delivery{Code: UnauthorizedSource}
	}
	// Stamping and delivery happen under one critical section so every
	// member observes sequences in assignment order. Sinks must not block.
	b.mu.Lock()
	defer b.mu.Unlock()
	nowMs := b.clock.Now().UnixMilli()
	if nowMs < 0 {
		nowMs = 0
	}
	stamped := make([]protocol.Event, len(events))
	for i, ev := range events {
		b.lastSeq[room]++
		ev.Ordering = &protocol.Ordering{Sequence: b.lastSeq[room], EmittedAtMs: nowMs}
		stamped[i] = ev
	}

	delivered := make([]string, 0, len(b.rooms[room]))
	count := 0
	for id := range b.rooms[room] {
		sink, ok := b.sinks[id]
		if !ok {
			continue
		}
		allOK := true
		for _, ev := range stamped {
			if err := b.send(id, sink, ev); err != nil {
				allOK = false
				break
			}
			count++
		}
		if allOK {
			delivered = append(delivered, id)
		}
	}
	return Delivery{OK: true, DeliveredSessionIDs: delivered, DeliveredEventCount: count}
}

func (b *Broker) send(sessionID string, sink Sink, ev protocol.Event) error {
	if err := sink.Send(protocol.CloneEvent(ev)); err != nil {
		b.log.Warn("broker delivery failed",
			zap.String("sessionId", sessionID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
		return err
	}
	if b.metrics != nil {
		b.metrics.BroadcastEvents.Inc()
	}
	return nil
}

// RoomSequence returns the last sequence assigned to a room.
func (b *Broker) RoomSequence(room string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq[room]
}
