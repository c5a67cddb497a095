package euchre

// Legal action names surfaced in game.private_state.
const (
	ActionPass      = "pass"
	ActionOrderUp   = "order_up"
	ActionCallTrump = "call_trump"
	ActionPlayCard  = "play_card"
)

// LegalActions lists the commands the given seat could issue right now.
// Empty when the seat is not on turn or the game is not in an actionable
// phase.
func LegalActions(g GameState, seat Seat) []string {
	if seat == g.PartnerSitsOut {
		return nil
	}
	switch g.Phase {
	case PhaseRound1:
		if g.CurrentTurn() == seat {
			return []string{ActionPass, ActionOrderUp}
		}
	case PhaseRound2:
		if g.CurrentTurn() == seat {
			return []string{ActionPass, ActionCallTrump}
		}
	case PhasePlay:
		if g.CurrentTurn() == seat {
			return []string{ActionPlayCard}
		}
	}
	return nil
}

// PlayableCards lists the card ids the seat may legally play this trick.
func PlayableCards(g GameState, seat Seat) []string {
	if g.Phase != PhasePlay || g.CurrentTurn() != seat {
		return nil
	}
	hand := g.Hands[seat]
	led := g.Trick.LedSuit(g.Trump)
	mustFollow := led != "" && seatCanFollow(hand, led, g.Trump)
	out := make([]string, 0, len(hand))
	for _, c := range hand {
		if mustFollow && EffectiveSuit(c, g.Trump) != led {
			continue
		}
		out = append(out, c.ID())
	}
	return out
}
