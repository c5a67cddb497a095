package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/broker"
	"github.com/fun-euchre/server/internal/euchre"
	"github.com/fun-euchre/server/internal/ident"
	"github.com/fun-euchre/server/internal/lobby"
	"github.com/fun-euchre/server/internal/manager"
	"github.com/fun-euchre/server/internal/metrics"
	"github.com/fun-euchre/server/internal/protocol"
	"github.com/fun-euchre/server/internal/store"
)

type countingCheckpoint struct {
	mu sync.Mutex
	n  int
}

func (c *countingCheckpoint) Schedule() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingCheckpoint) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type memSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *memSink) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) byType(t string) []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	clock      *clock.Mock
	deps       Deps
	lobbies    *Lobby
	games      *Game
	checkpoint *countingCheckpoint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1_000_000).UTC())
	tokens, err := ident.NewTokenManager("fixture-secret", 30*time.Minute)
	require.NoError(t, err)

	log := zap.NewNop()
	m := metrics.New()
	b := broker.New(mock, m, log)
	cp := &countingCheckpoint{}
	deps := Deps{
		Clock:      mock,
		IDs:        ident.NewSequentialFactory("t"),
		Tokens:     tokens,
		Lobbies:    store.NewLobbyStore(nil, mock),
		Games:      store.NewGameStore(nil, mock),
		Sessions:   store.NewSessionStore(nil, 60_000, mock, log),
		Broker:     b,
		Publisher:  b.Publisher(),
		Metrics:    m,
		Checkpoint: cp,
		Log:        log,
	}
	deps.Manager = manager.New(NewGameProcessor(deps, 7), log)
	t.Cleanup(deps.Manager.Close)

	return &fixture{
		clock:      mock,
		deps:       deps,
		lobbies:    NewLobby(deps, 7),
		games:      NewGame(deps),
		checkpoint: cp,
	}
}

func command(t *testing.T, typ, requestID string, payload any) protocol.Command {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return protocol.Command{
		Version:   protocol.Version,
		Type:      typ,
		RequestID: requestID,
		Payload:   raw,
	}
}

// seatLobby creates a full four-seat lobby and returns the identities in
// join order (host first).
func (f *fixture) seatLobby(t *testing.T) []Identity {
	t.Helper()
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyCreate, "req-create",
		protocol.LobbyCreatePayload{DisplayName: "Alice"}))
	require.True(t, reply.OK, "%+v", reply)
	ids := []Identity{*reply.Identity}

	for i, name := range []string{"Bob", "Cleo", "Dag"} {
		reply = f.lobbies.Dispatch(command(t, protocol.TypeLobbyJoin, fmt.Sprintf("req-join-%d", i),
			protocol.LobbyJoinPayload{LobbyID: ids[0].LobbyID, DisplayName: name}))
		require.True(t, reply.OK, "%+v", reply)
		ids = append(ids, *reply.Identity)
	}
	return ids
}

func (f *fixture) startGame(t *testing.T, ids []Identity) euchre.GameState {
	t.Helper()
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyStart, "req-start",
		protocol.LobbyStartPayload{LobbyID: ids[0].LobbyID, ActorPlayerID: ids[0].PlayerID}))
	require.True(t, reply.OK, "%+v", reply)
	games := f.deps.Games.List()
	require.Len(t, games, 1)
	return games[0].State
}

func TestCreateMintsIdentity(t *testing.T) {
	f := newFixture(t)
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyCreate, "req-1",
		protocol.LobbyCreatePayload{DisplayName: "  Alice  "}))
	require.True(t, reply.OK)

	id := reply.Identity
	require.NotNil(t, id)
	require.NotEmpty(t, id.PlayerID)
	require.NotEmpty(t, id.SessionID)
	require.NotEmpty(t, id.LobbyID)

	claims, err := f.deps.Tokens.Verify(id.ReconnectToken, ident.Expect{
		SessionID: id.SessionID,
		PlayerID:  id.PlayerID,
		LobbyID:   id.LobbyID,
	}, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, id.SessionID, claims.SessionID)

	sess, ok := f.deps.Sessions.Get(id.SessionID)
	require.True(t, ok)
	require.True(t, sess.Connected)

	rec, ok := f.deps.Lobbies.Get(id.LobbyID)
	require.True(t, ok)
	require.Equal(t, "Alice", rec.State.Seats[0].DisplayName)
	require.Equal(t, 1, f.checkpoint.count())
}

func TestDispatchObservesLatency(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)
	game := f.startGame(t, ids)

	reply := f.games.Dispatch(context.Background(), command(t, protocol.TypeGamePass, "req-pass",
		protocol.GamePassPayload{GameID: game.GameID, ActorSeat: game.Bidding.Turn}))
	require.True(t, reply.OK, "%+v", reply)

	// One latency series per command type seen so far: lobby.create,
	// lobby.join, lobby.start, game.pass.
	require.Equal(t, 4, testutil.CollectAndCount(f.deps.Metrics.CommandLatency))
}

func TestCreateRejectsBlankName(t *testing.T) {
	f := newFixture(t)
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyCreate, "req-1",
		protocol.LobbyCreatePayload{DisplayName: "   "}))
	require.False(t, reply.OK)
	require.Equal(t, 0, f.deps.Lobbies.Len())
	require.Equal(t, 0, f.checkpoint.count())
}

func TestJoinBroadcastsToLobbyRoom(t *testing.T) {
	f := newFixture(t)
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyCreate, "req-1",
		protocol.LobbyCreatePayload{DisplayName: "Alice"}))
	require.True(t, reply.OK)
	host := *reply.Identity

	sink := &memSink{}
	f.deps.Broker.ConnectSession(host.SessionID, sink)

	reply = f.lobbies.Dispatch(command(t, protocol.TypeLobbyJoin, "req-2",
		protocol.LobbyJoinPayload{LobbyID: host.LobbyID, DisplayName: "Bob"}))
	require.True(t, reply.OK)
	require.Equal(t, host.LobbyID, reply.Identity.LobbyID)
	require.NotEqual(t, host.PlayerID, reply.Identity.PlayerID)

	states := sink.byType(protocol.TypeLobbyState)
	require.Len(t, states, 1)
	st := states[0].Payload.(lobby.State)
	require.Equal(t, "Bob", st.Seats[1].DisplayName)
}

func TestJoinUnknownLobby(t *testing.T) {
	f := newFixture(t)
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyJoin, "req-1",
		protocol.LobbyJoinPayload{LobbyID: "lobby-nope", DisplayName: "Bob"}))
	require.False(t, reply.OK)
	require.Equal(t, protocol.CodeInvalidState, reply.Code)
}

func TestValidationFailureListsIssues(t *testing.T) {
	f := newFixture(t)
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyJoin, "req-1",
		protocol.LobbyJoinPayload{LobbyID: "NOT VALID!!", DisplayName: ""}))
	require.False(t, reply.OK)
	require.Equal(t, protocol.CodeInvalidAction, reply.Code)
	require.NotEmpty(t, reply.Issues)
}

func TestStartDealsAndBindsSessions(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)

	sinks := make(map[string]*memSink, len(ids))
	for _, id := range ids {
		sink := &memSink{}
		sinks[id.SessionID] = sink
		f.deps.Broker.ConnectSession(id.SessionID, sink)
	}

	game := f.startGame(t, ids)
	require.Equal(t, euchre.PhaseRound1, game.Phase)
	require.Equal(t, 1, game.HandNumber)

	rec, ok := f.deps.Lobbies.Get(ids[0].LobbyID)
	require.True(t, ok)
	require.Equal(t, lobby.PhaseInGame, rec.State.Phase)

	for _, id := range ids {
		sess, ok := f.deps.Sessions.Get(id.SessionID)
		require.True(t, ok)
		require.Equal(t, game.GameID, sess.GameID)

		privates := sinks[id.SessionID].byType(protocol.TypePrivateState)
		require.Len(t, privates, 1, "session %s", id.SessionID)
		pp := privates[0].Payload.(protocol.PrivateStatePayload)
		require.Len(t, pp.HandCardIDs, 5)

		games := sinks[id.SessionID].byType(protocol.TypeGameState)
		require.Len(t, games, 1)
		gp := games[0].Payload.(protocol.GameStatePayload)
		require.Equal(t, game.GameID, gp.GameID)
	}
}

func TestStartRequiresHost(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyStart, "req-x",
		protocol.LobbyStartPayload{LobbyID: ids[0].LobbyID, ActorPlayerID: ids[1].PlayerID}))
	require.False(t, reply.OK)
	require.Equal(t, lobby.CodeUnauthorized, reply.Code)
	require.Empty(t, f.deps.Games.List())
}

func TestGameCommandTurnEnforced(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)
	game := f.startGame(t, ids)

	// Round one opens dealer-left; the dealer cannot act first.
	wrong := game.Dealer
	reply := f.games.Dispatch(context.Background(), command(t, protocol.TypeGamePass, "req-p1",
		protocol.GamePassPayload{GameID: game.GameID, ActorSeat: wrong}))
	require.False(t, reply.OK)
	require.Equal(t, protocol.CodeNotYourTurn, reply.Code)

	after, ok := f.deps.Games.Get(game.GameID)
	require.True(t, ok)
	require.Equal(t, game.Bidding.Turn, after.State.Bidding.Turn)
}

func TestDuplicateRequestIDShortCircuits(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)
	game := f.startGame(t, ids)
	turn := game.Bidding.Turn

	first := f.games.Dispatch(context.Background(), command(t, protocol.TypeGamePass, "r1",
		protocol.GamePassPayload{GameID: game.GameID, ActorSeat: turn}))
	require.True(t, first.OK)

	second := f.games.Dispatch(context.Background(), command(t, protocol.TypeGamePass, "r1",
		protocol.GamePassPayload{GameID: game.GameID, ActorSeat: turn}))
	require.False(t, second.OK)
	require.Len(t, second.Outbound, 1)
	rej := second.Outbound[0].Payload.(protocol.RejectedPayload)
	require.Equal(t, protocol.CodeInvalidAction, rej.Code)
	require.Equal(t,
		fmt.Sprintf("Duplicate requestId %q for game %q", "r1", game.GameID),
		rej.Message)

	after, ok := f.deps.Games.Get(game.GameID)
	require.True(t, ok)
	require.Len(t, after.State.Bidding.Passes, 1, "duplicate must not re-apply the pass")
}

func TestAcceptedGameCommandBroadcasts(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)
	game := f.startGame(t, ids)

	sink := &memSink{}
	f.deps.Broker.ConnectSession(ids[1].SessionID, sink)

	reply := f.games.Dispatch(context.Background(), command(t, protocol.TypeGamePass, "r1",
		protocol.GamePassPayload{GameID: game.GameID, ActorSeat: game.Bidding.Turn}))
	require.True(t, reply.OK)

	states := sink.byType(protocol.TypeGameState)
	require.Len(t, states, 1)
	require.NotNil(t, states[0].Ordering)
	privates := sink.byType(protocol.TypePrivateState)
	require.Len(t, privates, 1)
}

func TestCompletedGameClosesLobby(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)
	f.startGame(t, ids)

	sink := &memSink{}
	f.deps.Broker.ConnectSession(ids[1].SessionID, sink)

	f.games.completeLobby(ids[0].LobbyID)

	rec, ok := f.deps.Lobbies.Get(ids[0].LobbyID)
	require.True(t, ok)
	require.Equal(t, lobby.PhaseCompleted, rec.State.Phase)

	states := sink.byType(protocol.TypeLobbyState)
	require.Len(t, states, 1)
	require.Equal(t, lobby.PhaseCompleted, states[0].Payload.(lobby.State).Phase)

	// An already-completed lobby is left alone.
	f.games.completeLobby(ids[0].LobbyID)
	require.Len(t, sink.byType(protocol.TypeLobbyState), 1)
}

func TestOrderUpThroughDispatcher(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)
	game := f.startGame(t, ids)

	reply := f.games.Dispatch(context.Background(), command(t, protocol.TypeGameOrderUp, "r1",
		protocol.GameOrderUpPayload{GameID: game.GameID, ActorSeat: game.Bidding.Turn}))
	require.True(t, reply.OK)

	after, ok := f.deps.Games.Get(game.GameID)
	require.True(t, ok)
	require.Equal(t, euchre.PhasePlay, after.State.Phase)
	require.Equal(t, game.Upcard.Suit, after.State.Trump)
}

func TestHandleDisconnectArmsGraceAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)

	observer := &memSink{}
	f.deps.Broker.ConnectSession(ids[1].SessionID, observer)

	f.lobbies.HandleDisconnect(ids[0].SessionID)

	sess, ok := f.deps.Sessions.Get(ids[0].SessionID)
	require.True(t, ok)
	require.False(t, sess.Connected)
	require.NotNil(t, sess.ReconnectByMs)
	require.Equal(t, f.clock.Now().UnixMilli()+60_000, *sess.ReconnectByMs)

	states := observer.byType(protocol.TypeLobbyState)
	require.Len(t, states, 1)
	st := states[0].Payload.(lobby.State)
	require.False(t, st.Seats[0].Connected)
}

func TestReconnectReturnsSameIdentity(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)
	game := f.startGame(t, ids)

	f.lobbies.HandleDisconnect(ids[0].SessionID)

	sink := &memSink{}
	f.deps.Broker.ConnectSession(ids[0].SessionID, sink)
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyJoin, "req-rc",
		protocol.LobbyJoinPayload{
			LobbyID:        ids[0].LobbyID,
			ReconnectToken: ids[0].ReconnectToken,
		}))
	require.True(t, reply.OK, "%+v", reply)
	require.Equal(t, ids[0].PlayerID, reply.Identity.PlayerID)
	require.Equal(t, ids[0].SessionID, reply.Identity.SessionID)
	require.Equal(t, ids[0].ReconnectToken, reply.Identity.ReconnectToken)
	require.Equal(t, game.GameID, reply.Identity.GameID)

	sess, ok := f.deps.Sessions.Get(ids[0].SessionID)
	require.True(t, ok)
	require.True(t, sess.Connected)
	require.Nil(t, sess.ReconnectByMs)

	// The reconnecting session gets the game replayed privately.
	require.NotEmpty(t, sink.byType(protocol.TypeGameState))
	require.NotEmpty(t, sink.byType(protocol.TypePrivateState))
}

func TestReconnectWithTamperedTokenRefused(t *testing.T) {
	f := newFixture(t)
	ids := f.seatLobby(t)

	f.lobbies.HandleDisconnect(ids[0].SessionID)

	bad := []byte(ids[0].ReconnectToken)
	bad[len(bad)-1] ^= 0x01
	reply := f.lobbies.Dispatch(command(t, protocol.TypeLobbyJoin, "req-rc",
		protocol.LobbyJoinPayload{
			LobbyID:        ids[0].LobbyID,
			ReconnectToken: string(bad),
		}))
	require.False(t, reply.OK)
	require.Equal(t, protocol.CodeUnauthorized, reply.Code)
}
