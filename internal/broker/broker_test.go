package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/lobby"
	"github.com/fun-euchre/server/internal/metrics"
	"github.com/fun-euchre/server/internal/protocol"
)

type captureSink struct {
	mu     sync.Mutex
	events []protocol.Event
	fail   bool
}

func (s *captureSink) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink closed")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) captured() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Event, len(s.events))
	copy(out, s.events)
	return out
}

func newTestBroker(t *testing.T) (*Broker, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	return New(mock, nil, zap.NewNop()), mock
}

func notice(msg string) protocol.Event {
	return protocol.SystemNotice("info", msg)
}

func timeAtMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func TestSequencesStartAtOneAndStayDense(t *testing.T) {
	b, _ := newTestBroker(t)
	sink := &captureSink{}
	b.ConnectSession("sess-1", sink)
	b.BindSessionToLobby("sess-1", "lobby-1")

	pub := b.Publisher()
	b.BroadcastLobbyEvents(pub, "lobby-1", []protocol.Event{notice("a"), notice("b")})
	b.BroadcastLobbyEvents(pub, "lobby-1", []protocol.Event{notice("c")})

	got := sink.captured()
	require.Len(t, got, 3)
	for i, ev := range got {
		require.NotNil(t, ev.Ordering)
		require.Equal(t, uint64(i+1), ev.Ordering.Sequence)
	}
}

func TestRoomsSequenceIndependently(t *testing.T) {
	b, _ := newTestBroker(t)
	sink := &captureSink{}
	b.ConnectSession("sess-1", sink)
	b.BindSessionToLobby("sess-1", "lobby-1")
	b.BindSessionToGame("sess-1", "game-1")

	pub := b.Publisher()
	b.BroadcastLobbyEvents(pub, "lobby-1", []protocol.Event{notice("a"), notice("b")})
	b.BroadcastGameEvents(pub, "game-1", []protocol.Event{notice("c")})

	require.Equal(t, uint64(2), b.RoomSequence(LobbyRoom("lobby-1")))
	require.Equal(t, uint64(1), b.RoomSequence(GameRoom("game-1")))
}

func TestAllMembersObserveSameOrder(t *testing.T) {
	b, _ := newTestBroker(t)
	sinks := map[string]*captureSink{
		"sess-1": {}, "sess-2": {}, "sess-3": {},
	}
	for id, sink := range sinks {
		b.ConnectSession(id, sink)
		b.BindSessionToGame(id, "game-1")
	}

	pub := b.Publisher()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.BroadcastGameEvents(pub, "game-1", []protocol.Event{notice("x")})
		}()
	}
	wg.Wait()

	var reference []uint64
	for id, sink := range sinks {
		got := sink.captured()
		require.Len(t, got, 8, "session %s", id)
		seqs := make([]uint64, len(got))
		for i, ev := range got {
			seqs[i] = ev.Ordering.Sequence
		}
		for i := 1; i < len(seqs); i++ {
			require.Greater(t, seqs[i], seqs[i-1], "session %s saw out-of-order sequences", id)
		}
		if reference == nil {
			reference = seqs
		} else {
			require.Equal(t, reference, seqs, "session %s diverged", id)
		}
	}
	require.Equal(t, uint64(1), reference[0])
	require.Equal(t, uint64(8), reference[len(reference)-1])
}

func TestUnauthorizedPublisherRefused(t *testing.T) {
	b, _ := newTestBroker(t)
	other, _ := newTestBroker(t)
	sink := &captureSink{}
	b.ConnectSession("sess-1", sink)
	b.BindSessionToLobby("sess-1", "lobby-1")

	d := b.BroadcastLobbyEvents(other.Publisher(), "lobby-1", []protocol.Event{notice("a")})
	require.False(t, d.OK)
	require.Equal(t, UnauthorizedSource, d.Code)
	require.Empty(t, sink.captured())

	d = b.BroadcastLobbyEvents(nil, "lobby-1", []protocol.Event{notice("a")})
	require.False(t, d.OK)
	require.Equal(t, UnauthorizedSource, d.Code)

	// Sequence untouched by refused publications.
	require.Equal(t, uint64(0), b.RoomSequence(LobbyRoom("lobby-1")))
}

func TestEmittedAtFollowsClock(t *testing.T) {
	b, mock := newTestBroker(t)
	sink := &captureSink{}
	b.ConnectSession("sess-1", sink)
	b.BindSessionToLobby("sess-1", "lobby-1")

	mock.Set(timeAtMs(1_000_000))
	b.BroadcastLobbyEvents(b.Publisher(), "lobby-1", []protocol.Event{notice("a")})

	got := sink.captured()
	require.Len(t, got, 1)
	require.Equal(t, int64(1_000_000), got[0].Ordering.EmittedAtMs)
}

func TestDeliveredEventsAreClones(t *testing.T) {
	b, _ := newTestBroker(t)
	sink := &captureSink{}
	b.ConnectSession("sess-1", sink)
	b.BindSessionToLobby("sess-1", "lobby-1")

	res := lobby.Create("lobby-1", "player-1", "Alice")
	require.True(t, res.OK)
	st := res.State
	b.BroadcastLobbyEvents(b.Publisher(), "lobby-1", []protocol.Event{protocol.LobbyStateEvent(st)})

	st.Seats[0].DisplayName = "Mallory"

	got := sink.captured()
	require.Len(t, got, 1)
	delivered := got[0].Payload.(lobby.State)
	require.Equal(t, "Alice", delivered.Seats[0].DisplayName,
		"source state must not be reachable from delivered events")
}

func TestDetachKeepsMembershipRemoveDrops(t *testing.T) {
	b, _ := newTestBroker(t)
	sink := &captureSink{}
	b.ConnectSession("sess-1", sink)
	b.BindSessionToGame("sess-1", "game-1")

	require.True(t, b.DetachSink("sess-1", sink))
	d := b.BroadcastGameEvents(b.Publisher(), "game-1", []protocol.Event{notice("a")})
	require.True(t, d.OK)
	require.Empty(t, d.DeliveredSessionIDs)
	// Sequence still advances while nobody listens.
	require.Equal(t, uint64(1), b.RoomSequence(GameRoom("game-1")))

	// Reconnect resumes the subscription without re-binding.
	resumed := &captureSink{}
	b.ConnectSession("sess-1", resumed)
	b.BroadcastGameEvents(b.Publisher(), "game-1", []protocol.Event{notice("b")})
	require.Len(t, resumed.captured(), 1)
	require.Equal(t, uint64(2), resumed.captured()[0].Ordering.Sequence)

	b.RemoveSession("sess-1")
	b.BroadcastGameEvents(b.Publisher(), "game-1", []protocol.Event{notice("c")})
	require.Len(t, resumed.captured(), 1)
}

type closableSink struct {
	captureSink
	closeCount int
}

func (s *closableSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
}

func (s *closableSink) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

func TestStaleSinkCannotDetachReplacement(t *testing.T) {
	b, _ := newTestBroker(t)
	stale := &captureSink{}
	b.ConnectSession("sess-1", stale)
	b.BindSessionToGame("sess-1", "game-1")

	fresh := &captureSink{}
	b.ConnectSession("sess-1", fresh)

	// The stale connection's teardown must leave the replacement attached.
	require.False(t, b.DetachSink("sess-1", stale))
	d := b.BroadcastGameEvents(b.Publisher(), "game-1", []protocol.Event{notice("a")})
	require.Equal(t, []string{"sess-1"}, d.DeliveredSessionIDs)
	require.Len(t, fresh.captured(), 1)
	require.Empty(t, stale.captured())

	require.True(t, b.DetachSink("sess-1", fresh))
}

func TestConnectSessionClosesEvictedSink(t *testing.T) {
	b, _ := newTestBroker(t)
	old := &closableSink{}
	b.ConnectSession("sess-1", old)
	b.ConnectSession("sess-1", &captureSink{})
	require.Equal(t, 1, old.closes())
}

func TestSendToSessionSkipsRoomSequence(t *testing.T) {
	b, _ := newTestBroker(t)
	sink := &captureSink{}
	b.ConnectSession("sess-1", sink)

	d := b.SendToSession(b.Publisher(), "sess-1", []protocol.Event{notice("private")})
	require.True(t, d.OK)
	require.Equal(t, 1, d.DeliveredEventCount)
	require.Nil(t, sink.captured()[0].Ordering)

	d = b.SendToSession(b.Publisher(), "sess-absent", []protocol.Event{notice("void")})
	require.True(t, d.OK)
	require.Zero(t, d.DeliveredEventCount)
}

func TestDeliveriesAreCounted(t *testing.T) {
	mock := clock.NewMock()
	m := metrics.New()
	b := New(mock, m, zap.NewNop())
	good := &captureSink{}
	bad := &captureSink{fail: true}
	b.ConnectSession("sess-good", good)
	b.ConnectSession("sess-bad", bad)
	b.BindSessionToLobby("sess-good", "lobby-1")
	b.BindSessionToLobby("sess-bad", "lobby-1")

	pub := b.Publisher()
	b.BroadcastLobbyEvents(pub, "lobby-1", []protocol.Event{notice("a"), notice("b")})
	b.SendToSession(pub, "sess-good", []protocol.Event{notice("c")})

	// Two broadcast deliveries to the good sink plus one direct send;
	// the failing sink contributes nothing.
	require.Equal(t, float64(3), testutil.ToFloat64(m.BroadcastEvents))
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	b, _ := newTestBroker(t)
	bad := &captureSink{fail: true}
	good := &captureSink{}
	b.ConnectSession("sess-bad", bad)
	b.ConnectSession("sess-good", good)
	b.BindSessionToGame("sess-bad", "game-1")
	b.BindSessionToGame("sess-good", "game-1")

	d := b.BroadcastGameEvents(b.Publisher(), "game-1", []protocol.Event{notice("a")})
	require.True(t, d.OK)
	require.Equal(t, []string{"sess-good"}, d.DeliveredSessionIDs)
	require.Len(t, good.captured(), 1)
}
