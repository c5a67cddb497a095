package dispatch

import (
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/euchre"
	"github.com/fun-euchre/server/internal/ident"
	"github.com/fun-euchre/server/internal/lobby"
	"github.com/fun-euchre/server/internal/protocol"
	"github.com/fun-euchre/server/internal/store"
)

// Lobby dispatches lobby.* commands. Commands for the same lobbyId are
// serialized; distinct lobbies proceed in parallel.
type Lobby struct {
	deps  Deps
	locks *keyedLocks

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewLobby builds the lobby dispatcher. The rng seeds the shuffle when a
// lobby starts its game.
func NewLobby(deps Deps, seed int64) *Lobby {
	return &Lobby{
		deps:  deps,
		locks: newKeyedLocks(),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Dispatch routes one validated lobby command.
func (l *Lobby) Dispatch(cmd protocol.Command) Reply {
	start := l.deps.Clock.Now()
	if l.deps.Metrics != nil {
		l.deps.Metrics.CommandsTotal.WithLabelValues(cmd.Type).Inc()
	}
	reply := l.route(cmd)
	if l.deps.Metrics != nil {
		if reply.OK {
			l.deps.Metrics.CommandsAccepted.WithLabelValues(cmd.Type).Inc()
		} else {
			l.deps.Metrics.CommandsRejected.WithLabelValues(cmd.Type, reply.Code).Inc()
		}
		l.deps.Metrics.CommandLatency.WithLabelValues(cmd.Type).
			Observe(l.deps.Clock.Since(start).Seconds())
	}
	return reply
}

func (l *Lobby) route(cmd protocol.Command) Reply {
	switch cmd.Type {
	case protocol.TypeLobbyCreate:
		return l.create(cmd)
	case protocol.TypeLobbyJoin:
		return l.join(cmd)
	case protocol.TypeLobbyUpdateName:
		return l.updateName(cmd)
	case protocol.TypeLobbyStart:
		return l.start(cmd)
	default:
		return rejectReply(cmd.RequestID, protocol.CodeInvalidAction,
			fmt.Sprintf("Unknown lobby command type %q", cmd.Type))
	}
}

func (l *Lobby) create(cmd protocol.Command) Reply {
	p, issues := protocol.DecodeLobbyCreate(cmd)
	if len(issues) > 0 {
		return issuesReply(cmd.RequestID, issues)
	}

	lobbyID := l.deps.IDs.NewID(ident.KindLobby)
	playerID := l.deps.IDs.NewID(ident.KindPlayer)
	unlock := l.locks.lock(lobbyID)
	defer unlock()

	res := lobby.Create(lobbyID, playerID, p.DisplayName)
	if !res.OK {
		return rejectReply(cmd.RequestID, res.Code, res.Message)
	}
	l.deps.Lobbies.Upsert(res.State)
	id := l.mintSession(playerID, lobbyID, "")
	l.deps.Broker.BindSessionToLobby(id.SessionID, lobbyID)

	ev := protocol.LobbyStateEvent(res.State)
	l.deps.Broker.BroadcastLobbyEvents(l.deps.Publisher, lobbyID, []protocol.Event{ev})
	l.deps.checkpoint()
	l.deps.observeSessions()
	return Reply{OK: true, Outbound: []protocol.Event{ev}, Identity: &id}
}

func (l *Lobby) join(cmd protocol.Command) Reply {
	p, issues := protocol.DecodeLobbyJoin(cmd)
	if len(issues) > 0 {
		return issuesReply(cmd.RequestID, issues)
	}
	unlock := l.locks.lock(p.LobbyID)
	defer unlock()

	if p.ReconnectToken != "" {
		return l.reconnect(cmd, p)
	}

	rec, ok := l.deps.Lobbies.Get(p.LobbyID)
	if !ok {
		return rejectReply(cmd.RequestID, protocol.CodeInvalidState,
			fmt.Sprintf("Unknown lobby %q", p.LobbyID))
	}
	playerID := l.deps.IDs.NewID(ident.KindPlayer)
	res := lobby.Join(rec.State, playerID, p.DisplayName)
	if !res.OK {
		return rejectReply(cmd.RequestID, res.Code, res.Message)
	}
	l.deps.Lobbies.Upsert(res.State)
	id := l.mintSession(playerID, p.LobbyID, "")
	l.deps.Broker.BindSessionToLobby(id.SessionID, p.LobbyID)

	ev := protocol.LobbyStateEvent(res.State)
	l.deps.Broker.BroadcastLobbyEvents(l.deps.Publisher, p.LobbyID, []protocol.Event{ev})
	l.deps.checkpoint()
	l.deps.observeSessions()
	return Reply{OK: true, Outbound: []protocol.Event{ev}, Identity: &id}
}

// reconnect revives an existing session from its token instead of
// seating a new player. The caller gets its original identity back plus
// a replay of the current lobby and game projections.
func (l *Lobby) reconnect(cmd protocol.Command, p protocol.LobbyJoinPayload) Reply {
	if l.deps.Metrics != nil {
		l.deps.Metrics.ReconnectAttempted.Inc()
	}
	fail := func(message string) Reply {
		if l.deps.Metrics != nil {
			l.deps.Metrics.ReconnectFailed.Inc()
		}
		return rejectReply(cmd.RequestID, protocol.CodeUnauthorized, message)
	}

	sess, ok := l.deps.Sessions.FindByToken(p.ReconnectToken)
	if !ok {
		return fail("Unknown reconnect token")
	}
	_, err := l.deps.Tokens.Verify(p.ReconnectToken, ident.Expect{
		SessionID: sess.SessionID,
		PlayerID:  sess.PlayerID,
		LobbyID:   p.LobbyID,
	}, l.deps.Clock.Now())
	if err != nil {
		l.deps.Log.Warn("reconnect token refused",
			zap.String("sessionId", sess.SessionID),
			zap.Error(err),
		)
		return fail("Reconnect token verification failed")
	}

	rec, ok := l.deps.Lobbies.Get(p.LobbyID)
	if !ok {
		return fail(fmt.Sprintf("Unknown lobby %q", p.LobbyID))
	}
	res := lobby.SetConnection(rec.State, sess.PlayerID, true)
	if !res.OK {
		return fail(res.Message)
	}
	l.deps.Lobbies.Upsert(res.State)
	sess, _ = l.deps.Sessions.MarkConnected(sess.SessionID)

	l.deps.Broker.BindSessionToLobby(sess.SessionID, p.LobbyID)
	if sess.GameID != "" {
		l.deps.Broker.BindSessionToGame(sess.SessionID, sess.GameID)
	}

	lobbyEv := protocol.LobbyStateEvent(res.State)
	l.deps.Broker.BroadcastLobbyEvents(l.deps.Publisher, p.LobbyID, []protocol.Event{lobbyEv})
	outbound := []protocol.Event{lobbyEv}

	if sess.GameID != "" {
		if game, ok := l.deps.Games.Get(sess.GameID); ok {
			gameEv := protocol.GameStateEvent(game.State)
			outbound = append(outbound, gameEv)
			replay := []protocol.Event{gameEv}
			if seat := res.State.SeatOf(sess.PlayerID); seat != "" {
				replay = append(replay, protocol.PrivateStateEvent(game.State, seat))
			}
			l.deps.Broker.SendToSession(l.deps.Publisher, sess.SessionID, replay)
		}
	}
	l.deps.checkpoint()
	l.deps.observeSessions()
	if l.deps.Metrics != nil {
		l.deps.Metrics.ReconnectSuccessful.Inc()
	}
	return Reply{OK: true, Outbound: outbound, Identity: &Identity{
		PlayerID:       sess.PlayerID,
		SessionID:      sess.SessionID,
		LobbyID:        sess.LobbyID,
		GameID:         sess.GameID,
		ReconnectToken: sess.ReconnectToken,
	}}
}

func (l *Lobby) updateName(cmd protocol.Command) Reply {
	p, issues := protocol.DecodeLobbyUpdateName(cmd)
	if len(issues) > 0 {
		return issuesReply(cmd.RequestID, issues)
	}
	unlock := l.locks.lock(p.LobbyID)
	defer unlock()

	rec, ok := l.deps.Lobbies.Get(p.LobbyID)
	if !ok {
		return rejectReply(cmd.RequestID, protocol.CodeInvalidState,
			fmt.Sprintf("Unknown lobby %q", p.LobbyID))
	}
	res := lobby.UpdateDisplayName(rec.State, p.PlayerID, p.DisplayName)
	if !res.OK {
		return rejectReply(cmd.RequestID, res.Code, res.Message)
	}
	l.deps.Lobbies.Upsert(res.State)

	ev := protocol.LobbyStateEvent(res.State)
	l.deps.Broker.BroadcastLobbyEvents(l.deps.Publisher, p.LobbyID, []protocol.Event{ev})
	l.deps.checkpoint()
	return Reply{OK: true, Outbound: []protocol.Event{ev}}
}

func (l *Lobby) start(cmd protocol.Command) Reply {
	p, issues := protocol.DecodeLobbyStart(cmd)
	if len(issues) > 0 {
		return issuesReply(cmd.RequestID, issues)
	}
	unlock := l.locks.lock(p.LobbyID)
	defer unlock()

	rec, ok := l.deps.Lobbies.Get(p.LobbyID)
	if !ok {
		return rejectReply(cmd.RequestID, protocol.CodeInvalidState,
			fmt.Sprintf("Unknown lobby %q", p.LobbyID))
	}
	res := lobby.Start(rec.State, p.ActorPlayerID)
	if !res.OK {
		return rejectReply(cmd.RequestID, res.Code, res.Message)
	}

	gameID := l.deps.IDs.NewID(ident.KindGame)
	game := euchre.NewGame(gameID, p.LobbyID, res.State.SeatPlayers(), 0)
	l.rngMu.Lock()
	dealt := euchre.DealShuffled(game, l.rng)
	l.rngMu.Unlock()
	if !dealt.OK {
		// A fresh game always deals; anything else is an invariant break.
		l.deps.Log.Error("initial deal refused",
			zap.String("gameId", gameID),
			zap.String("code", dealt.Reject.Code),
		)
		return rejectReply(cmd.RequestID, dealt.Reject.Code, dealt.Reject.Message)
	}

	l.deps.Lobbies.Upsert(res.State)
	l.deps.Games.Upsert(dealt.State)
	l.bindSeatsToGame(res.State, gameID)

	lobbyEv := protocol.LobbyStateEvent(res.State)
	gameEv := protocol.GameStateEvent(dealt.State)
	l.deps.Broker.BroadcastLobbyEvents(l.deps.Publisher, p.LobbyID, []protocol.Event{lobbyEv})
	l.deps.Broker.BroadcastGameEvents(l.deps.Publisher, gameID, []protocol.Event{gameEv})
	l.sendPrivateStates(dealt.State, res.State)

	l.deps.checkpoint()
	if l.deps.Metrics != nil {
		l.deps.Metrics.GamesStarted.Inc()
	}
	return Reply{OK: true, Outbound: []protocol.Event{lobbyEv, gameEv}}
}

// bindSeatsToGame attaches every seated player's session to the new game
// room and records the gameId on the session.
func (l *Lobby) bindSeatsToGame(st lobby.State, gameID string) {
	for _, seat := range st.Seats {
		if seat.PlayerID == "" {
			continue
		}
		sess, ok := l.deps.Sessions.FindByPlayer(seat.PlayerID)
		if !ok {
			continue
		}
		sess.GameID = gameID
		l.deps.Sessions.Upsert(sess)
		l.deps.Broker.BindSessionToGame(sess.SessionID, gameID)
	}
}

// sendPrivateStates delivers each seat's hand view to its own session
// only.
func (l *Lobby) sendPrivateStates(game euchre.GameState, st lobby.State) {
	for _, seat := range st.Seats {
		if seat.PlayerID == "" {
			continue
		}
		sess, ok := l.deps.Sessions.FindByPlayer(seat.PlayerID)
		if !ok {
			continue
		}
		l.deps.Broker.SendToSession(l.deps.Publisher, sess.SessionID,
			[]protocol.Event{protocol.PrivateStateEvent(game, seat.Seat)})
	}
}

// HandleConnect records a live realtime connection for an existing
// session: the grace window is disarmed and the lobby projection flips
// the seat's connected flag. Called by the transport after a
// token-verified WebSocket attach; an attach alone must never leave the
// session on a path to forfeit.
func (l *Lobby) HandleConnect(sessionID string) {
	l.setConnected(sessionID, true)
}

// HandleDisconnect records a dropped realtime connection: the session
// enters its grace window and the lobby projection flips the seat's
// connected flag. The transport detaches the broker sink itself, and
// only for the session's current connection.
func (l *Lobby) HandleDisconnect(sessionID string) {
	l.setConnected(sessionID, false)
}

func (l *Lobby) setConnected(sessionID string, connected bool) {
	var (
		sess store.SessionRecord
		ok   bool
	)
	if connected {
		sess, ok = l.deps.Sessions.MarkConnected(sessionID)
	} else {
		sess, ok = l.deps.Sessions.MarkDisconnected(sessionID)
	}
	if !ok {
		return
	}
	unlock := l.locks.lock(sess.LobbyID)
	defer unlock()

	if rec, ok := l.deps.Lobbies.Get(sess.LobbyID); ok {
		if res := lobby.SetConnection(rec.State, sess.PlayerID, connected); res.OK {
			l.deps.Lobbies.Upsert(res.State)
			l.deps.Broker.BroadcastLobbyEvents(l.deps.Publisher, sess.LobbyID,
				[]protocol.Event{protocol.LobbyStateEvent(res.State)})
		}
	}
	l.deps.checkpoint()
	l.deps.observeSessions()
}

// mintSession creates and stores a fresh session with a signed token.
func (l *Lobby) mintSession(playerID, lobbyID, gameID string) Identity {
	sessionID := l.deps.IDs.NewID(ident.KindSession)
	token := l.deps.Tokens.Issue(sessionID, playerID, lobbyID, l.deps.Clock.Now())
	l.deps.Sessions.Upsert(store.SessionRecord{
		SessionID:      sessionID,
		PlayerID:       playerID,
		LobbyID:        lobbyID,
		GameID:         gameID,
		ReconnectToken: token,
		Connected:      true,
	})
	return Identity{
		PlayerID:       playerID,
		SessionID:      sessionID,
		LobbyID:        lobbyID,
		GameID:         gameID,
		ReconnectToken: token,
	}
}
