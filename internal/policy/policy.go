// Package policy holds the reconnect lifecycle rules: pure predicates
// over session snapshots plus the forfeit resolver. It never touches
// stores or the broker, so every decision is unit-testable with fixed
// timestamps.
package policy

import (
	"fmt"

	"github.com/fun-euchre/server/internal/euchre"
	"github.com/fun-euchre/server/internal/lobby"
	"github.com/fun-euchre/server/internal/protocol"
	"github.com/fun-euchre/server/internal/store"
)

// Lifecycle states of a session as seen by the sweeper.
const (
	StateActive           = "active"
	StateGracePeriod      = "grace_period"
	StateForfeitDue       = "forfeit_due"
	StateRetentionExpired = "retention_expired"
)

const (
	minReconnectGraceMs = 60_000
	minGameRetentionMs  = 900_000
)

// Policy decides session lifecycle transitions. Configured windows below
// the enforced minimums are clamped up, never trusted.
type Policy struct {
	reconnectGraceMs int64
	gameRetentionMs  int64
}

func New(reconnectGraceMs, gameRetentionMs int64) Policy {
	if reconnectGraceMs < minReconnectGraceMs {
		reconnectGraceMs = minReconnectGraceMs
	}
	if gameRetentionMs < minGameRetentionMs {
		gameRetentionMs = minGameRetentionMs
	}
	return Policy{reconnectGraceMs: reconnectGraceMs, gameRetentionMs: gameRetentionMs}
}

// ReconnectGraceMs returns the effective grace window.
func (p Policy) ReconnectGraceMs() int64 { return p.reconnectGraceMs }

// GameRetentionMs returns the effective retention window.
func (p Policy) GameRetentionMs() int64 { return p.gameRetentionMs }

// Evaluate classifies a session snapshot at nowMs. Retention expiry wins
// over the grace window for disconnected sessions.
func (p Policy) Evaluate(sess store.SessionRecord, nowMs int64) string {
	if sess.Connected {
		return StateActive
	}
	if nowMs > sess.UpdatedAtMs+p.gameRetentionMs {
		return StateRetentionExpired
	}
	if sess.ReconnectByMs != nil && nowMs <= *sess.ReconnectByMs {
		return StateGracePeriod
	}
	return StateForfeitDue
}

// ForfeitResult is the outcome of resolving a reconnect forfeit.
type ForfeitResult struct {
	OK       bool
	Code     string
	Message  string
	State    euchre.GameState
	Outbound []protocol.Event
}

// ResolveForfeit completes a game against the player who failed to
// reconnect. The winning team's score is forced to the target so the
// final projection reads as a decided game.
func ResolveForfeit(game euchre.GameState, lob lobby.State, forfeitingPlayerID string) ForfeitResult {
	if game.Phase == euchre.PhaseCompleted {
		return ForfeitResult{
			Code:    euchre.CodeInvalidState,
			Message: fmt.Sprintf("Game %q is already completed", game.GameID),
		}
	}
	seat := lob.SeatOf(forfeitingPlayerID)
	if seat == "" {
		return ForfeitResult{
			Code:    euchre.CodeInvalidAction,
			Message: fmt.Sprintf("Player %q is not seated in lobby %q", forfeitingPlayerID, lob.LobbyID),
		}
	}
	winner := euchre.OpposingTeam(euchre.TeamOf(seat))
	res := euchre.CompleteByForfeit(game, winner)
	if !res.OK {
		return ForfeitResult{Code: res.Reject.Code, Message: res.Reject.Message}
	}
	notice := protocol.SystemNotice("warning", fmt.Sprintf(
		"Player %q failed to reconnect before timeout. %s wins by forfeit.",
		forfeitingPlayerID, winner,
	))
	return ForfeitResult{
		OK:    true,
		State: res.State,
		Outbound: []protocol.Event{
			notice,
			protocol.GameStateEvent(res.State),
		},
	}
}
