package euchre

import "fmt"

// PlayCard plays a card from seat's hand into the current trick. When the
// trick completes the winner is credited and leads the next trick; when the
// fifth trick completes the hand moves to the score phase with lastHand
// filled in.
func PlayCard(g GameState, seat Seat, card Card) Result {
	const action = "play_card"
	if g.Phase != PhasePlay {
		return rejected(CodeInvalidState,
			fmt.Sprintf("cannot play a card during %s", g.Phase), g.Phase, action)
	}
	if !ValidSeat(seat) {
		return rejected(CodeInvalidAction, fmt.Sprintf("unknown seat %q", seat), g.Phase, action)
	}
	if seat == g.PartnerSitsOut {
		return rejected(CodeInvalidAction,
			fmt.Sprintf("%s sits out this hand", seat), g.Phase, action)
	}
	if g.CurrentTurn() != seat {
		return rejected(CodeNotYourTurn,
			fmt.Sprintf("it is not %s's turn", seat), g.Phase, action)
	}
	if !handContains(g.Hands[seat], card) {
		return rejected(CodeInvalidAction,
			fmt.Sprintf("%s does not hold %s", seat, card.ID()), g.Phase, action)
	}
	if led := g.Trick.LedSuit(g.Trump); led != "" {
		if EffectiveSuit(card, g.Trump) != led && seatCanFollow(g.Hands[seat], led, g.Trump) {
			return rejectedSub(CodeInvalidAction, SubcodeMustFollowSuit,
				fmt.Sprintf("%s must follow %s", seat, led), g.Phase, action)
		}
	}

	st := g.Clone()
	st.Hands[seat] = removeCard(st.Hands[seat], card)
	st.Trick.Plays = append(st.Trick.Plays, TrickPlay{Seat: seat, Card: card})

	if len(st.Trick.Plays) < len(st.Trick.SeatOrder) {
		return accepted(st)
	}
	return resolveTrick(st)
}

func resolveTrick(st GameState) Result {
	winner := trickWinner(st.Trick, st.Trump)
	st.TricksWon[TeamOf(winner)]++
	for _, p := range st.Trick.Plays {
		st.PlayedCards = append(st.PlayedCards, p.Card)
	}

	done := st.TricksWon[TeamA] + st.TricksWon[TeamB]
	if done >= 5 {
		st.Trick = nil
		st.Phase = PhaseScore
		return accepted(st)
	}

	st.Trick = &TrickState{
		Number:    done + 1,
		Leader:    winner,
		SeatOrder: rotationFrom(winner, st.PartnerSitsOut),
	}
	return accepted(st)
}

// trickWinner picks the highest play: trump beats led suit beats the rest,
// bowers on top.
func trickWinner(t *TrickState, trump Suit) Seat {
	led := t.LedSuit(trump)
	best := t.Plays[0]
	bestVal := trickValue(best.Card, trump, led)
	for _, p := range t.Plays[1:] {
		if v := trickValue(p.Card, trump, led); v > bestVal {
			best, bestVal = p, v
		}
	}
	return best.Seat
}

func handContains(hand []Card, card Card) bool {
	for _, c := range hand {
		if c == card {
			return true
		}
	}
	return false
}

func seatCanFollow(hand []Card, led Suit, trump Suit) bool {
	for _, c := range hand {
		if EffectiveSuit(c, trump) == led {
			return true
		}
	}
	return false
}
