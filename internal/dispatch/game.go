package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/fun-euchre/server/internal/euchre"
	"github.com/fun-euchre/server/internal/lobby"
	"github.com/fun-euchre/server/internal/manager"
	"github.com/fun-euchre/server/internal/protocol"
)

// Game dispatches game.* commands through the per-game serializer.
type Game struct {
	deps Deps
}

// NewGame builds the game dispatcher. The manager in deps must have been
// constructed with Processor from this dispatcher's deps, which the
// runtime wiring guarantees by calling NewGameProcessor first.
func NewGame(deps Deps) *Game {
	return &Game{deps: deps}
}

// NewGameProcessor returns the processor the game manager runs for every
// serialized submission: load the latest record, apply the pure rules
// transition, auto-advance scoring and the next deal, persist, project.
func NewGameProcessor(deps Deps, seed int64) manager.Processor {
	var rngMu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func(sub manager.Submission) manager.Outcome {
		rec, ok := deps.Games.Get(sub.GameID)
		if !ok {
			return manager.Outcome{Outbound: []protocol.Event{
				protocol.ActionRejected(sub.RequestID, protocol.CodeInvalidState,
					fmt.Sprintf("Unknown game %q", sub.GameID)),
			}}
		}

		res := applyGameCommand(rec.State, sub)
		if !res.OK {
			return manager.Outcome{Outbound: []protocol.Event{
				protocol.RejectEvent(sub.RequestID, res.Reject),
			}}
		}

		// A hand that just finished scores immediately, and unless the
		// game ended the next hand is dealt in the same transition, so
		// clients never observe the intermediate phases.
		st := res.State
		if st.Phase == euchre.PhaseScore {
			scored := euchre.ScoreHand(st)
			if !scored.OK {
				return manager.Outcome{Outbound: []protocol.Event{
					protocol.RejectEvent(sub.RequestID, scored.Reject),
				}}
			}
			st = scored.State
		}
		if st.Phase == euchre.PhaseDeal {
			rngMu.Lock()
			dealt := euchre.DealShuffled(st, rng)
			rngMu.Unlock()
			if !dealt.OK {
				return manager.Outcome{Outbound: []protocol.Event{
					protocol.RejectEvent(sub.RequestID, dealt.Reject),
				}}
			}
			st = dealt.State
		}

		deps.Games.Upsert(st)
		return manager.Outcome{
			Persisted: true,
			State:     &st,
			Outbound:  []protocol.Event{protocol.GameStateEvent(st)},
		}
	}
}

func applyGameCommand(st euchre.GameState, sub manager.Submission) euchre.Result {
	switch sub.Type {
	case protocol.TypeGamePass:
		return euchre.Pass(st, sub.Seat)
	case protocol.TypeGameOrderUp:
		return euchre.OrderUp(st, sub.Seat, sub.Alone)
	case protocol.TypeGameCallTrump:
		return euchre.CallTrump(st, sub.Seat, sub.Trump, sub.Alone)
	case protocol.TypeGamePlayCard:
		card, err := euchre.ParseCardID(sub.CardID)
		if err != nil {
			return euchre.Result{Reject: &euchre.Reject{
				Code:    euchre.CodeInvalidAction,
				Message: fmt.Sprintf("Unknown card id %q", sub.CardID),
				Phase:   st.Phase,
				Action:  euchre.ActionPlayCard,
			}}
		}
		return euchre.PlayCard(st, sub.Seat, card)
	default:
		return euchre.Result{Reject: &euchre.Reject{
			Code:    euchre.CodeInvalidAction,
			Message: fmt.Sprintf("Unknown game command type %q", sub.Type),
			Phase:   st.Phase,
		}}
	}
}

// Dispatch validates a game command, rides the per-game queue, and fans
// the outcome out to the game room plus per-seat private states.
func (g *Game) Dispatch(ctx context.Context, cmd protocol.Command) Reply {
	start := g.deps.Clock.Now()
	if g.deps.Metrics != nil {
		g.deps.Metrics.CommandsTotal.WithLabelValues(cmd.Type).Inc()
	}
	reply := g.route(ctx, cmd)
	if g.deps.Metrics != nil {
		if reply.OK {
			g.deps.Metrics.CommandsAccepted.WithLabelValues(cmd.Type).Inc()
		} else {
			g.deps.Metrics.CommandsRejected.WithLabelValues(cmd.Type, reply.Code).Inc()
		}
		g.deps.Metrics.CommandLatency.WithLabelValues(cmd.Type).
			Observe(g.deps.Clock.Since(start).Seconds())
	}
	return reply
}

func (g *Game) route(ctx context.Context, cmd protocol.Command) Reply {
	sub, issues := submissionFor(cmd)
	if len(issues) > 0 {
		return issuesReply(cmd.RequestID, issues)
	}

	out, err := g.deps.Manager.SubmitEvent(ctx, sub)
	if err != nil {
		return rejectReply(cmd.RequestID, protocol.CodeInvalidState, err.Error())
	}
	if !out.Persisted {
		reply := Reply{Outbound: out.Outbound, Code: protocol.CodeInvalidAction}
		if len(out.Outbound) > 0 {
			if rej, ok := out.Outbound[0].Payload.(protocol.RejectedPayload); ok {
				reply.Code = rej.Code
				reply.Message = rej.Message
			}
		}
		return reply
	}

	g.deps.Broker.BroadcastGameEvents(g.deps.Publisher, sub.GameID, out.Outbound)
	g.publishPrivateStates(*out.State)
	g.deps.checkpoint()
	if out.State.Phase == euchre.PhaseCompleted {
		g.completeLobby(out.State.LobbyID)
		if g.deps.Metrics != nil {
			g.deps.Metrics.GamesCompleted.Inc()
		}
	}
	return Reply{OK: true, Outbound: out.Outbound}
}

// completeLobby flips the lobby out of its in-game phase once the game
// reaches a terminal state. A missing lobby or an already-completed one
// is tolerated: the lobby may have been pruned or forfeited first.
func (g *Game) completeLobby(lobbyID string) {
	rec, ok := g.deps.Lobbies.Get(lobbyID)
	if !ok {
		return
	}
	res := lobby.Complete(rec.State)
	if !res.OK {
		return
	}
	g.deps.Lobbies.Upsert(res.State)
	g.deps.Broker.BroadcastLobbyEvents(g.deps.Publisher, lobbyID,
		[]protocol.Event{protocol.LobbyStateEvent(res.State)})
}

// publishPrivateStates sends each seated player their own hand view.
// Sit-out seats still receive theirs so their client stays coherent.
func (g *Game) publishPrivateStates(st euchre.GameState) {
	for seat, playerID := range st.SeatPlayers {
		sess, ok := g.deps.Sessions.FindByPlayer(playerID)
		if !ok {
			continue
		}
		g.deps.Broker.SendToSession(g.deps.Publisher, sess.SessionID,
			[]protocol.Event{protocol.PrivateStateEvent(st, seat)})
	}
}

func submissionFor(cmd protocol.Command) (manager.Submission, []protocol.Issue) {
	switch cmd.Type {
	case protocol.TypeGamePlayCard:
		p, issues := protocol.DecodeGamePlayCard(cmd)
		if len(issues) > 0 {
			return manager.Submission{}, issues
		}
		return manager.Submission{
			GameID: p.GameID, RequestID: cmd.RequestID, Type: cmd.Type,
			Seat: p.ActorSeat, CardID: p.CardID,
		}, nil
	case protocol.TypeGamePass:
		p, issues := protocol.DecodeGamePass(cmd)
		if len(issues) > 0 {
			return manager.Submission{}, issues
		}
		return manager.Submission{
			GameID: p.GameID, RequestID: cmd.RequestID, Type: cmd.Type,
			Seat: p.ActorSeat,
		}, nil
	case protocol.TypeGameOrderUp:
		p, issues := protocol.DecodeGameOrderUp(cmd)
		if len(issues) > 0 {
			return manager.Submission{}, issues
		}
		return manager.Submission{
			GameID: p.GameID, RequestID: cmd.RequestID, Type: cmd.Type,
			Seat: p.ActorSeat, Alone: p.Alone,
		}, nil
	case protocol.TypeGameCallTrump:
		p, issues := protocol.DecodeGameCallTrump(cmd)
		if len(issues) > 0 {
			return manager.Submission{}, issues
		}
		return manager.Submission{
			GameID: p.GameID, RequestID: cmd.RequestID, Type: cmd.Type,
			Seat: p.ActorSeat, Trump: p.Trump, Alone: p.Alone,
		}, nil
	default:
		return manager.Submission{}, []protocol.Issue{{
			Path:    "type",
			Message: fmt.Sprintf("unknown game command type %q", cmd.Type),
		}}
	}
}
